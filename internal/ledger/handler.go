package ledger

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/procura-erp/procura/internal/platform/httpx"
	"github.com/procura-erp/procura/internal/rbac"
	"github.com/procura-erp/procura/internal/users"
)

// Handler exposes ledger read endpoints.
type Handler struct {
	svc *Service
}

// NewHandler constructs the ledger handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Mount registers routes.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/ledger", func(r chi.Router) {
		r.Get("/", h.list)
		r.Get("/summary", h.summary)
		r.With(rbac.Require(func(c users.Capabilities) bool { return c.CanExport })).
			Get("/export.csv", h.exportCSV)
		r.Get("/{poID}", h.get)
	})
}

func parseFilter(r *http.Request) Filter {
	q := r.URL.Query()
	f := Filter{
		PONumber:        q.Get("po_number"),
		Status:          q.Get("status"),
		Category:        q.Get("category"),
		PaymentCategory: q.Get("payment_category"),
		AccountName:     q.Get("account"),
		Search:          q.Get("q"),
		SortBy:          q.Get("sort"),
		SortDir:         q.Get("dir"),
	}
	if v := q.Get("assigned"); v != "" {
		b := v == "true" || v == "1"
		f.Assigned = &b
	}
	if v := q.Get("externalized"); v != "" {
		b := v == "true" || v == "1"
		f.Externalized = &b
	}
	if v := q.Get("assigned_to"); v != "" {
		if id, err := uuid.Parse(v); err == nil {
			f.AssignedTo = &id
		}
	}
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	f.Offset, _ = strconv.Atoi(q.Get("offset"))
	return f
}

type entryResponse struct {
	POID            string          `json:"po_id"`
	PONumber        string          `json:"po_number"`
	POLineNo        string          `json:"po_line_no"`
	ProjectName     string          `json:"project_name"`
	SiteName        string          `json:"site_name"`
	ItemDescription string          `json:"item_description"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	RequestedQty    decimal.Decimal `json:"requested_qty"`
	LineAmount      decimal.Decimal `json:"line_amount"`
	Currency        string          `json:"currency"`
	PaymentTerms    string          `json:"payment_terms"`
	POStatus        string          `json:"po_status"`
	PublishedDate   *time.Time      `json:"published_date,omitempty"`
	Category        string          `json:"category"`
	PaymentCategory string          `json:"payment_category"`
	AccountName     string          `json:"account_name"`
	ACDate          *time.Time      `json:"ac_date,omitempty"`
	PACDate         *time.Time      `json:"pac_date,omitempty"`
	ACAmount        decimal.Decimal `json:"ac_amount"`
	PACAmount       decimal.Decimal `json:"pac_amount"`
	Remaining       decimal.Decimal `json:"remaining"`
	Status          string          `json:"status"`
	IsAssigned      bool            `json:"is_assigned"`
	AssignedTo      *uuid.UUID      `json:"assigned_to,omitempty"`
	HasExternalPO   bool            `json:"has_external_po"`
	ExternalPOID    *uuid.UUID      `json:"external_po_id,omitempty"`
	BatchID         uuid.UUID       `json:"batch_id"`
}

func toEntryResponse(e Entry) entryResponse {
	return entryResponse{
		POID:            e.POID,
		PONumber:        e.PONumber,
		POLineNo:        e.POLineNo,
		ProjectName:     e.ProjectName,
		SiteName:        e.SiteName,
		ItemDescription: e.ItemDescription,
		UnitPrice:       e.UnitPrice,
		RequestedQty:    e.RequestedQty,
		LineAmount:      e.LineAmount,
		Currency:        e.Currency,
		PaymentTerms:    e.PaymentTerms,
		POStatus:        e.POStatus,
		PublishedDate:   e.PublishedDate,
		Category:        e.Category,
		PaymentCategory: e.PaymentCategory,
		AccountName:     e.AccountName,
		ACDate:          e.ACDate,
		PACDate:         e.PACDate,
		ACAmount:        e.ACAmount,
		PACAmount:       e.PACAmount,
		Remaining:       e.Remaining,
		Status:          e.Status,
		IsAssigned:      e.IsAssigned,
		AssignedTo:      e.AssignedTo,
		HasExternalPO:   e.HasExternalPO,
		ExternalPOID:    e.ExternalPOID,
		BatchID:         e.BatchID,
	}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	viewer, ok := rbac.UserFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	entries, total, err := h.svc.List(r.Context(), viewer, parseFilter(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toEntryResponse(e))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"total":   total,
		"entries": out,
	})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	viewer, ok := rbac.UserFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	entry, err := h.svc.Get(r.Context(), viewer, chi.URLParam(r, "poID"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toEntryResponse(entry))
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	viewer, ok := rbac.UserFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	summary, err := h.svc.Summarize(r.Context(), viewer, parseFilter(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	statuses := make([]map[string]any, 0, len(summary.ByStatus))
	for _, b := range summary.ByStatus {
		statuses = append(statuses, map[string]any{
			"status":    b.Status,
			"lines":     b.Lines,
			"amount":    b.Amount,
			"remaining": b.Remaining,
		})
	}
	categories := make([]map[string]any, 0, len(summary.ByCategory))
	for _, b := range summary.ByCategory {
		categories = append(categories, map[string]any{
			"category":  b.Category,
			"lines":     b.Lines,
			"amount":    b.Amount,
			"remaining": b.Remaining,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"total_lines":     summary.TotalLines,
		"total_amount":    summary.TotalAmount,
		"total_remaining": summary.TotalRemaining,
		"assigned_lines":  summary.AssignedLines,
		"external_lines":  summary.ExternalLines,
		"by_status":       statuses,
		"by_category":     categories,
	})
}

func (h *Handler) exportCSV(w http.ResponseWriter, r *http.Request) {
	viewer, ok := rbac.UserFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	entries, err := h.svc.Export(r.Context(), viewer, parseFilter(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	now := time.Now()
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="ledger-%s.csv"`, now.Format("20060102-150405")))
	if err := WriteCSV(w, entries, now); err != nil {
		// Headers are already gone; nothing to do beyond dropping the stream.
		return
	}
}
