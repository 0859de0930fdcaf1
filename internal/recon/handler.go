package recon

import (
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

// Handler exposes reconciliation endpoints.
type Handler struct {
	svc *Service
}

// NewHandler constructs the recon handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Mount registers routes. Ingest and merge are restricted to roles that
// may trigger a rebuild.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/recon", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(rbac.Require(func(c users.Capabilities) bool { return c.CanTriggerMerge }))
			r.Post("/source", h.ingest)
			r.Post("/merge", h.merge)
		})
		r.Get("/runs", h.runs)
		r.Get("/runs/{id}", h.run)
		r.Get("/accounts", h.accounts)
	})
}

type poLinePayload struct {
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
	PublishedDate   *time.Time      `json:"published_date"`
}

type acceptancePayload struct {
	AcceptanceNo         string          `json:"acceptance_no"`
	PONumber             string          `json:"po_number"`
	POLineNo             string          `json:"po_line_no"`
	ShipmentNo           string          `json:"shipment_no"`
	MilestoneType        string          `json:"milestone_type"`
	ApplicationProcessed *time.Time      `json:"application_processed"`
	BilledAmount         decimal.Decimal `json:"billed_amount"`
}

type ingestRequest struct {
	POLines     []poLinePayload     `json:"po_lines"`
	Acceptances []acceptancePayload `json:"acceptances"`
}

func (h *Handler) ingest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}

	lines := make([]PurchaseOrderLine, 0, len(req.POLines))
	for _, p := range req.POLines {
		lines = append(lines, PurchaseOrderLine{
			PONumber:        p.PONumber,
			POLineNo:        p.POLineNo,
			ProjectName:     p.ProjectName,
			SiteName:        p.SiteName,
			ItemDescription: p.ItemDescription,
			UnitPrice:       p.UnitPrice,
			RequestedQty:    p.RequestedQty,
			LineAmount:      p.LineAmount,
			Currency:        p.Currency,
			PaymentTerms:    p.PaymentTerms,
			POStatus:        p.POStatus,
			PublishedDate:   p.PublishedDate,
		})
	}
	records := make([]AcceptanceRecord, 0, len(req.Acceptances))
	for _, a := range req.Acceptances {
		records = append(records, AcceptanceRecord{
			AcceptanceNo:         a.AcceptanceNo,
			PONumber:             a.PONumber,
			POLineNo:             a.POLineNo,
			ShipmentNo:           a.ShipmentNo,
			MilestoneType:        a.MilestoneType,
			ApplicationProcessed: a.ApplicationProcessed,
			BilledAmount:         a.BilledAmount,
		})
	}

	result, err := h.svc.IngestSource(r.Context(), lines, records)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int{
		"po_lines":    result.POLines,
		"acceptances": result.Acceptances,
	})
}

type runResponse struct {
	ID            uuid.UUID  `json:"id"`
	BatchID       uuid.UUID  `json:"batch_id"`
	Status        string     `json:"status"`
	TriggeredBy   uuid.UUID  `json:"triggered_by"`
	SourceLines   int        `json:"source_lines"`
	LedgerRows    int        `json:"ledger_rows"`
	SkippedRows   int        `json:"skipped_rows"`
	ResetAssigned int        `json:"reset_assigned"`
	ResetExternal int        `json:"reset_external"`
	NewAccounts   int        `json:"new_accounts"`
	Error         string     `json:"error,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

func toRunResponse(run MergeRun) runResponse {
	return runResponse{
		ID:            run.ID,
		BatchID:       run.BatchID,
		Status:        run.Status,
		TriggeredBy:   run.TriggeredBy,
		SourceLines:   run.SourceLines,
		LedgerRows:    run.LedgerRows,
		SkippedRows:   run.SkippedRows,
		ResetAssigned: run.ResetAssigned,
		ResetExternal: run.ResetExternal,
		NewAccounts:   run.NewAccounts,
		Error:         run.Error,
		StartedAt:     run.StartedAt,
		FinishedAt:    run.FinishedAt,
	}
}

func (h *Handler) merge(w http.ResponseWriter, r *http.Request) {
	actor, _ := rbac.UserFromContext(r.Context())
	run, err := h.svc.RunMerge(r.Context(), actor.ID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRunResponse(run))
}

func (h *Handler) run(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid run id")
		return
	}
	run, err := h.svc.GetRun(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRunResponse(run))
}

type accountResponse struct {
	ProjectName string `json:"project_name"`
	AccountName string `json:"account_name"`
	NeedsReview bool   `json:"needs_review"`
}

func (h *Handler) accounts(w http.ResponseWriter, r *http.Request) {
	needsReview := r.URL.Query().Get("needs_review") == "true"
	accounts, err := h.svc.ListAccounts(r.Context(), needsReview)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]accountResponse, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, accountResponse{
			ProjectName: a.ProjectName,
			AccountName: a.AccountName,
			NeedsReview: a.NeedsReview,
		})
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) runs(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := h.svc.ListRuns(r.Context(), limit)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, toRunResponse(run))
	}
	httpx.JSON(w, http.StatusOK, out)
}
