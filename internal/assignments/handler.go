package assignments

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/procura-erp/procura/internal/platform/httpx"
	"github.com/procura-erp/procura/internal/rbac"
)

// Handler exposes assignment endpoints.
type Handler struct {
	svc      *Service
	validate *validator.Validate
}

// NewHandler constructs the assignments handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc, validate: validator.New()}
}

// Mount registers routes.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/assignments", func(r chi.Router) {
		r.Post("/", h.create)
		r.Get("/", h.list)
		r.Get("/{id}", h.get)
		r.Post("/{id}/respond", h.respond)
	})
}

type createRequest struct {
	POIDs      []string  `json:"po_ids" validate:"required,min=1,dive,required"`
	AssignedTo uuid.UUID `json:"assigned_to" validate:"required"`
	Note       string    `json:"note"`
}

type respondRequest struct {
	Action Action `json:"action" validate:"required,oneof=APPROVE REJECT"`
	Reason string `json:"reason"`
}

type assignmentResponse struct {
	ID              uuid.UUID  `json:"id"`
	POIDs           []string   `json:"po_ids"`
	AssignedTo      uuid.UUID  `json:"assigned_to"`
	CreatedBy       uuid.UUID  `json:"created_by"`
	Status          Status     `json:"status"`
	Note            string     `json:"note,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	RespondedAt     *time.Time `json:"responded_at,omitempty"`
}

func toResponse(a Assignment) assignmentResponse {
	return assignmentResponse{
		ID:              a.ID,
		POIDs:           a.POIDs,
		AssignedTo:      a.AssignedTo,
		CreatedBy:       a.CreatedBy,
		Status:          a.Status,
		Note:            a.Note,
		RejectionReason: a.RejectionReason,
		CreatedAt:       a.CreatedAt,
		RespondedAt:     a.RespondedAt,
	}
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, ok := rbac.UserFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	a, err := h.svc.Create(r.Context(), actor, req.POIDs, req.AssignedTo, req.Note)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toResponse(a))
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request) {
	actor, ok := rbac.UserFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid assignment id")
		return
	}
	var req respondRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	a, err := h.svc.Respond(r.Context(), actor, id, req.Action, req.Reason)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(a))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	actor, ok := rbac.UserFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid assignment id")
		return
	}
	a, err := h.svc.Get(r.Context(), actor, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(a))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor, ok := rbac.UserFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	q := r.URL.Query()
	list, err := h.svc.List(r.Context(), actor, q.Get("queue"), Status(q.Get("status")))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]assignmentResponse, 0, len(list))
	for _, a := range list {
		out = append(out, toResponse(a))
	}
	httpx.JSON(w, http.StatusOK, out)
}
