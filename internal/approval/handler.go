package approval

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/aegis-grc/aegis/internal/authz"
	"github.com/aegis-grc/aegis/internal/platform/httpx"
	"github.com/aegis-grc/aegis/internal/shared"
)

// Handler exposes the approval workflow over HTTP.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	guard     authz.Middleware
	validator *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, guard authz.Middleware) *Handler {
	return &Handler{logger: logger, service: service, guard: guard, validator: validator.New()}
}

// MountRoutes registers approval routes. Submission needs only an
// authenticated caller; the approval chain is the gate, not a permission.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require(shared.PermApprovalsView))
		r.Get("/pending", h.listPending)
		r.Get("/{id}", h.get)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require(shared.PermApprovalsDecide))
		r.Post("/{id}/decision", h.decide)
	})
}

type createRequest struct {
	OperationType string          `json:"operation_type" validate:"required"`
	Payload       json.RawMessage `json:"payload" validate:"required"`
}

type decisionRequest struct {
	Decision string `json:"decision" validate:"required,oneof=approve reject"`
	Comments string `json:"comments" validate:"max=2000"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actor, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthenticated)
		return
	}
	created, err := h.service.CreateRequest(r.Context(), CreateInput{
		OperationType: req.OperationType,
		Payload:       req.Payload,
		Submitter:     actor,
	})
	if err != nil {
		h.logger.Error("create approval request", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"request": created})
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request id")
		return
	}
	var req decisionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actor, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthenticated)
		return
	}
	decided, err := h.service.Decide(r.Context(), id, actor, Decision(req.Decision), req.Comments)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"request": decided})
}

func (h *Handler) listPending(w http.ResponseWriter, r *http.Request) {
	role := r.URL.Query().Get("role")
	if role == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "role query parameter is required")
		return
	}
	requests, err := h.service.Pending(r.Context(), role)
	if err != nil {
		h.logger.Error("list pending approvals", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if requests == nil {
		requests = []Request{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"requests": requests})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request id")
		return
	}
	req, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"request": req})
}
