package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/aegis-grc/aegis/internal/authz"
	"github.com/aegis-grc/aegis/internal/catalog"
	"github.com/aegis-grc/aegis/internal/shared"
)

type allowAllAssignments struct{ roles stubRoles }

func (a allowAllAssignments) ActiveRoleNames(ctx context.Context, userID int64, asOf time.Time) ([]string, error) {
	return a.roles[userID], nil
}

type allowAllCatalog struct{}

func (allowAllCatalog) RolePermissionNames(ctx context.Context, roleName string) ([]string, error) {
	return []string{shared.PermApprovalsView, shared.PermApprovalsDecide}, nil
}

func newTestRouter(t *testing.T) (chi.Router, *fixture) {
	t.Helper()
	f := newFixture(t)
	engine := authz.NewService(
		allowAllAssignments{roles: stubRoles{1: {catalog.RoleEmployee}, 2: {catalog.RoleDepartmentHead}, 3: {catalog.RoleOrganizationHead}}},
		allowAllCatalog{}, slog.Default(), nil, nil,
	)
	guard := authz.Middleware{Service: engine, Logger: slog.Default()}
	handler := NewHandler(slog.Default(), f.svc, guard)
	r := chi.NewRouter()
	r.Route("/approvals", handler.MountRoutes)
	return r, f
}

func doJSON(t *testing.T, router http.Handler, method, path string, body string, as int64) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if as != 0 {
		req = req.WithContext(shared.ContextWithIdentity(req.Context(), actor(as)))
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCreateEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/approvals/",
		`{"operation_type":"policy_clause.update","payload":{"clause":"7.2"}}`, 1)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Request Request `json:"request"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, StatusPending, resp.Request.Status)
	require.Equal(t, catalog.RoleDepartmentHead, resp.Request.CurrentApproverRole)
}

func TestCreateEndpointRejectsUnknownOperation(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/approvals/",
		`{"operation_type":"nonsense.op","payload":{}}`, 1)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateEndpointRequiresBody(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/approvals/", `{"operation_type":""}`, 1)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDecisionEndpointStatusCodes(t *testing.T) {
	router, f := newTestRouter(t)

	created := submit(t, f, 1, OpPolicyClauseUpdate)
	base := "/approvals/" + created.ID.String() + "/decision"

	// Wrong role.
	rec := doJSON(t, router, http.MethodPost, base, `{"decision":"approve"}`, 3)
	require.Equal(t, http.StatusForbidden, rec.Code)

	// Named role approves.
	rec = doJSON(t, router, http.MethodPost, base, `{"decision":"approve","comments":"ok"}`, 2)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodPost, base, `{"decision":"approve"}`, 3)
	require.Equal(t, http.StatusOK, rec.Code)

	// Terminal now.
	rec = doJSON(t, router, http.MethodPost, base, `{"decision":"reject"}`, 3)
	require.Equal(t, http.StatusConflict, rec.Code)

	// Unknown decision never reaches the service.
	rec = doJSON(t, router, http.MethodPost, base, `{"decision":"maybe"}`, 2)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPendingEndpoint(t *testing.T) {
	router, f := newTestRouter(t)
	submit(t, f, 1, OpPolicyClauseUpdate)

	rec := doJSON(t, router, http.MethodGet,
		fmt.Sprintf("/approvals/pending?role=%s", catalog.RoleDepartmentHead), "", 2)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Requests []Request `json:"requests"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Requests, 1)

	rec = doJSON(t, router, http.MethodGet, "/approvals/pending", "", 2)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetEndpoint(t *testing.T) {
	router, f := newTestRouter(t)
	created := submit(t, f, 1, OpPolicyClauseUpdate)

	rec := doJSON(t, router, http.MethodGet, "/approvals/"+created.ID.String(), "", 2)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/approvals/not-a-uuid", "", 2)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/approvals/"+created.ID.String(), "", 0)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
