package assignment

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/aegis-grc/aegis/internal/authz"
	"github.com/aegis-grc/aegis/internal/platform/httpx"
	"github.com/aegis-grc/aegis/internal/shared"
)

// Handler manages role assignment endpoints and the capability listing.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	engine    *authz.Service
	guard     authz.Middleware
	validator *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, engine *authz.Service, guard authz.Middleware) *Handler {
	return &Handler{logger: logger, service: service, engine: engine, guard: guard, validator: validator.New()}
}

// MountRoutes registers assignment routes under /users.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require(shared.PermAssignmentsView))
		r.Get("/{id}/roles", h.listRoles)
		r.Get("/{id}/permissions", h.listPermissions)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require(shared.PermAssignmentsEdit))
		r.Post("/{id}/roles", h.assignRole)
		r.Delete("/{id}/roles/{role}", h.revokeRole)
	})
}

type assignRoleRequest struct {
	Role       string     `json:"role" validate:"required"`
	ValidFrom  *time.Time `json:"valid_from"`
	ValidUntil *time.Time `json:"valid_until"`
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid user id")
		return
	}
	var req assignRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actor, _ := shared.IdentityFromContext(r.Context())
	created, err := h.service.AssignRole(r.Context(), AssignInput{
		UserID:     userID,
		RoleName:   req.Role,
		AssignedBy: actor.UserID,
		ValidFrom:  req.ValidFrom,
		ValidUntil: req.ValidUntil,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"assignment": created})
}

func (h *Handler) revokeRole(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid user id")
		return
	}
	actor, _ := shared.IdentityFromContext(r.Context())
	if err := h.service.RevokeRole(r.Context(), userID, chi.URLParam(r, "role"), actor.UserID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"revoked": true})
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid user id")
		return
	}
	assignments, err := h.service.ActiveRoles(r.Context(), userID, time.Time{})
	if err != nil {
		h.logger.Error("list active roles", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"assignments": assignments})
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid user id")
		return
	}
	perms, err := h.engine.UserPermissions(r.Context(), shared.Identity{UserID: userID, IsActive: true})
	if err != nil {
		h.logger.Error("list user permissions", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

func pathID(r *http.Request, key string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, key), 10, 64)
}
