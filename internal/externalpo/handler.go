package externalpo

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/procura-erp/procura/internal/platform/httpx"
	"github.com/procura-erp/procura/internal/rbac"
	"github.com/procura-erp/procura/internal/users"
)

// Handler exposes external PO endpoints.
type Handler struct {
	svc      *Service
	validate *validator.Validate
}

// NewHandler constructs the external PO handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc, validate: validator.New()}
}

// Mount registers routes.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/external-pos", func(r chi.Router) {
		r.Post("/", h.create)
		r.Get("/", h.list)
		r.Get("/{id}", h.get)
		r.Put("/{id}", h.updateDraft)
		r.Post("/{id}/submit", h.submit)
		r.Post("/{id}/l1", h.l1Respond)
		r.Post("/{id}/l2", h.l2Respond)
		r.Post("/{id}/sbc", h.sbcRespond)
	})
}

type createPayload struct {
	POIDs             []string  `json:"po_ids" validate:"required,min=1,dive,required"`
	AssignedSBC       uuid.UUID `json:"assigned_sbc" validate:"required"`
	Notes             string    `json:"notes"`
	InternalNotes     string    `json:"internal_notes"`
	SubmitImmediately bool      `json:"submit_immediately"`
}

type updatePayload struct {
	POIDs         []string  `json:"po_ids"`
	AssignedSBC   uuid.UUID `json:"assigned_sbc"`
	Notes         string    `json:"notes"`
	InternalNotes string    `json:"internal_notes"`
}

type respondPayload struct {
	Action Action `json:"action" validate:"required"`
	Reason string `json:"reason"`
}

type lineResponse struct {
	POID     string `json:"po_id"`
	PONumber string `json:"po_number"`
	POLineNo string `json:"po_line_no"`
}

type stageResponse struct {
	ActorID *uuid.UUID `json:"actor_id,omitempty"`
	At      *time.Time `json:"at,omitempty"`
	Reason  string     `json:"reason,omitempty"`
}

type orderResponse struct {
	ID             uuid.UUID       `json:"id"`
	Reference      string          `json:"reference"`
	Lines          []lineResponse  `json:"lines"`
	CreatedBy      uuid.UUID       `json:"created_by"`
	AssignedSBC    uuid.UUID       `json:"assigned_sbc"`
	Status         Status          `json:"status"`
	SBCStatus      SBCResponse     `json:"sbc_status"`
	Notes          string          `json:"notes,omitempty"`
	InternalNotes  string          `json:"internal_notes,omitempty"`
	EstimatedTotal decimal.Decimal `json:"estimated_total"`
	L1             stageResponse   `json:"l1"`
	L2             stageResponse   `json:"l2"`
	SBC            stageResponse   `json:"sbc"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func toStage(d StageDecision) stageResponse {
	return stageResponse{ActorID: d.ActorID, At: d.At, Reason: d.Reason}
}

// toResponse renders an order for one viewer. Internal notes never
// reach subcontractor eyes.
func toResponse(viewer users.User, o ExternalPO) orderResponse {
	if viewer.Role == users.RoleSBC {
		o.InternalNotes = ""
	}
	lines := make([]lineResponse, 0, len(o.Lines))
	for _, l := range o.Lines {
		lines = append(lines, lineResponse{POID: l.POID, PONumber: l.PONumber, POLineNo: l.POLineNo})
	}
	return orderResponse{
		ID:             o.ID,
		Reference:      o.Reference,
		Lines:          lines,
		CreatedBy:      o.CreatedBy,
		AssignedSBC:    o.AssignedSBC,
		Status:         o.Status,
		SBCStatus:      o.SBCStatus,
		Notes:          o.Notes,
		InternalNotes:  o.InternalNotes,
		EstimatedTotal: o.EstimatedTotal,
		L1:             toStage(o.L1),
		L2:             toStage(o.L2),
		SBC:            toStage(o.SBC),
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, ok := rbac.UserFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	var req createPayload
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	order, err := h.svc.Create(r.Context(), actor, CreateInput{
		POIDs:             req.POIDs,
		AssignedSBC:       req.AssignedSBC,
		Notes:             req.Notes,
		InternalNotes:     req.InternalNotes,
		SubmitImmediately: req.SubmitImmediately,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toResponse(actor, order))
}

func (h *Handler) updateDraft(w http.ResponseWriter, r *http.Request) {
	actor, ok := rbac.UserFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid order id")
		return
	}
	var req updatePayload
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	order, err := h.svc.UpdateDraft(r.Context(), actor, id, CreateInput{
		POIDs:         req.POIDs,
		AssignedSBC:   req.AssignedSBC,
		Notes:         req.Notes,
		InternalNotes: req.InternalNotes,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(actor, order))
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(r *http.Request, id uuid.UUID) (ExternalPO, error) {
		actor, _ := rbac.UserFromContext(r.Context())
		return h.svc.Submit(r.Context(), actor, id)
	})
}

func (h *Handler) l1Respond(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.svc.L1Respond)
}

func (h *Handler) l2Respond(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.svc.L2Respond)
}

func (h *Handler) sbcRespond(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.svc.SBCRespond)
}

type respondFunc func(ctx context.Context, actor users.User, id uuid.UUID, action Action, reason string) (ExternalPO, error)

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, fn respondFunc) {
	actor, ok := rbac.UserFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid order id")
		return
	}
	var req respondPayload
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	order, err := fn(r.Context(), actor, id, req.Action, req.Reason)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(actor, order))
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn func(*http.Request, uuid.UUID) (ExternalPO, error)) {
	actor, ok := rbac.UserFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid order id")
		return
	}
	order, err := fn(r, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(actor, order))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	actor, ok := rbac.UserFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid order id")
		return
	}
	order, err := h.svc.Get(r.Context(), actor, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(actor, order))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor, ok := rbac.UserFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	orders, err := h.svc.List(r.Context(), actor, Queue(r.URL.Query().Get("queue")))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, toResponse(actor, o))
	}
	httpx.JSON(w, http.StatusOK, out)
}
