package audit

import (
	"encoding/csv"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/aegis-grc/aegis/internal/authz"
	"github.com/aegis-grc/aegis/internal/platform/httpx"
	"github.com/aegis-grc/aegis/internal/shared"
)

const exportRateLimit = 10
const exportRateWindow = time.Minute

// Handler serves the ledger query endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	guard   authz.Middleware
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, guard authz.Middleware) *Handler {
	return &Handler{logger: logger, service: service, guard: guard}
}

// MountRoutes registers the audit endpoints. The CSV export is rate limited
// per identity since it can scan large windows.
func (h *Handler) MountRoutes(r chi.Router) {
	limiter := httprate.Limit(exportRateLimit, exportRateWindow,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		}),
	)
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require(shared.PermAuditView))
		r.Get("/", h.list)
		r.Group(func(r chi.Router) {
			r.Use(limiter)
			r.Get("/export.csv", h.exportCSV)
		})
	})
}

func rateLimitKey(r *http.Request) (string, error) {
	if id, ok := shared.IdentityFromContext(r.Context()); ok {
		return "user:" + strconv.FormatInt(id.UserID, 10), nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	result, err := h.service.Query(r.Context(), filters)
	if err != nil {
		h.logger.Error("query audit ledger", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if result.Entries == nil {
		result.Entries = []Entry{}
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) exportCSV(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	filters.PageSize = 50

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="audit.csv"`)
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"id", "at", "actor", "action", "resource_type", "resource_id", "old_value", "new_value"})

	for page := 1; ; page++ {
		filters.Page = page
		result, err := h.service.Query(r.Context(), filters)
		if err != nil {
			h.logger.Error("export audit ledger", slog.Any("error", err))
			return
		}
		for _, e := range result.Entries {
			_ = cw.Write([]string{
				strconv.FormatInt(e.ID, 10),
				e.At.UTC().Format(time.RFC3339),
				strconv.FormatInt(e.Actor, 10),
				e.Action,
				e.ResourceType,
				e.ResourceID,
				marshalValue(e.OldValue),
				marshalValue(e.NewValue),
			})
		}
		if !result.Paging.HasNext {
			break
		}
	}
	cw.Flush()
}

func marshalValue(v map[string]any) string {
	if len(v) == 0 {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func parseFilters(r *http.Request) (Filters, error) {
	q := r.URL.Query()
	var f Filters
	if raw := q.Get("actor"); raw != "" {
		actor, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Filters{}, errInvalidParam("actor")
		}
		f.Actor = actor
	}
	f.ResourceType = q.Get("resource_type")
	f.Action = q.Get("action")
	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return Filters{}, errInvalidParam("from")
		}
		f.From = t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return Filters{}, errInvalidParam("to")
		}
		f.To = t
	}
	if raw := q.Get("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil {
			return Filters{}, errInvalidParam("page")
		}
		f.Page = page
	}
	if raw := q.Get("page_size"); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil {
			return Filters{}, errInvalidParam("page_size")
		}
		f.PageSize = size
	}
	return f, nil
}

type paramError string

func (e paramError) Error() string { return "invalid query parameter: " + string(e) }

func errInvalidParam(name string) error { return paramError(name) }
