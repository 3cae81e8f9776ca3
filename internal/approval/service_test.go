package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/aegis-grc/aegis/internal/audit"
	"github.com/aegis-grc/aegis/internal/catalog"
	"github.com/aegis-grc/aegis/internal/platform/httpx"
	"github.com/aegis-grc/aegis/internal/shared"
)

type memRepo struct {
	requests map[uuid.UUID]*Request
	entries  []audit.Entry
	nextStep int64
}

func newMemRepo() *memRepo {
	return &memRepo{requests: make(map[uuid.UUID]*Request)}
}

func cloneRequest(r Request) Request {
	out := r
	out.Chain = append([]string(nil), r.Chain...)
	out.History = append([]Step(nil), r.History...)
	if r.DecidedAt != nil {
		at := *r.DecidedAt
		out.DecidedAt = &at
	}
	return out
}

func (m *memRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	snapshot := make(map[uuid.UUID]*Request, len(m.requests))
	for id, req := range m.requests {
		c := cloneRequest(*req)
		snapshot[id] = &c
	}
	entriesLen := len(m.entries)
	stepID := m.nextStep
	if err := fn(ctx, (*memTx)(m)); err != nil {
		m.requests = snapshot
		m.entries = m.entries[:entriesLen]
		m.nextStep = stepID
		return err
	}
	return nil
}

func (m *memRepo) Get(ctx context.Context, id uuid.UUID) (Request, error) {
	req, ok := m.requests[id]
	if !ok {
		return Request{}, fmt.Errorf("request %s: %w", id, httpx.ErrNotFound)
	}
	return cloneRequest(*req), nil
}

func (m *memRepo) ListPending(ctx context.Context, role string) ([]Request, error) {
	var out []Request
	for _, req := range m.requests {
		if req.Status == StatusPending && req.CurrentApproverRole == role {
			out = append(out, cloneRequest(*req))
		}
	}
	return out, nil
}

type memTx memRepo

func (t *memTx) Insert(ctx context.Context, req Request) error {
	c := cloneRequest(req)
	t.requests[req.ID] = &c
	return nil
}

func (t *memTx) GetForUpdate(ctx context.Context, id uuid.UUID) (Request, error) {
	req, ok := t.requests[id]
	if !ok {
		return Request{}, fmt.Errorf("request %s: %w", id, httpx.ErrNotFound)
	}
	return cloneRequest(*req), nil
}

func (t *memTx) AppendStep(ctx context.Context, step Step) (Step, error) {
	t.nextStep++
	step.ID = t.nextStep
	req := t.requests[step.RequestID]
	req.History = append(req.History, step)
	return step, nil
}

func (t *memTx) Advance(ctx context.Context, id uuid.UUID, nextRole string, fromVersion int) error {
	req := t.requests[id]
	if req.Status != StatusPending || req.Version != fromVersion {
		return fmt.Errorf("request changed concurrently: %w", httpx.ErrInvalidState)
	}
	req.CurrentApproverRole = nextRole
	req.Version++
	return nil
}

func (t *memTx) Finalize(ctx context.Context, id uuid.UUID, status Status, decidedAt time.Time, fromVersion int) error {
	req := t.requests[id]
	if req.Status != StatusPending || req.Version != fromVersion {
		return fmt.Errorf("request changed concurrently: %w", httpx.ErrInvalidState)
	}
	req.Status = status
	req.CurrentApproverRole = ""
	req.DecidedAt = &decidedAt
	req.Version++
	return nil
}

func (t *memTx) AppendAudit(ctx context.Context, e audit.Entry) error {
	t.entries = append(t.entries, e)
	return nil
}

type stubHierarchy map[string]int

func (s stubHierarchy) HierarchyRank(ctx context.Context, roleName string) (int, error) {
	rank, ok := s[roleName]
	if !ok {
		return 0, fmt.Errorf("role %s: %w", roleName, httpx.ErrNotFound)
	}
	return rank, nil
}

type stubRoles map[int64][]string

func (s stubRoles) ActiveRoleNames(ctx context.Context, userID int64, asOf time.Time) ([]string, error) {
	return s[userID], nil
}

type captureApplier struct {
	calls []string
	err   error
}

func (c *captureApplier) apply(ctx context.Context, operationType string, payload json.RawMessage) error {
	c.calls = append(c.calls, operationType)
	return c.err
}

type captureNotifier struct {
	roles []string
}

func (c *captureNotifier) NotifyApprover(ctx context.Context, role string, requestID uuid.UUID, operationType string) error {
	c.roles = append(c.roles, role)
	return nil
}

type fixture struct {
	repo     *memRepo
	applier  *captureApplier
	notifier *captureNotifier
	svc      *Service
}

// Users: 1 employee, 2 department head, 3 organization head, 4 admin,
// 5 holds nothing.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := newMemRepo()
	applier := &captureApplier{}
	notifier := &captureNotifier{}
	hierarchy := stubHierarchy{
		catalog.RoleEmployee:         10,
		catalog.RoleDepartmentHead:   20,
		catalog.RoleOrganizationHead: 30,
		catalog.RoleEYAdmin:          40,
	}
	roles := stubRoles{
		1: {catalog.RoleEmployee},
		2: {catalog.RoleDepartmentHead},
		3: {catalog.RoleOrganizationHead},
		4: {catalog.RoleEYAdmin},
	}
	svc := NewService(repo, hierarchy, roles, DefaultPolicies(), applier.apply, notifier, nil, slog.Default())
	return &fixture{repo: repo, applier: applier, notifier: notifier, svc: svc}
}

func actor(id int64) shared.Identity {
	return shared.Identity{UserID: id, IsActive: true}
}

func submit(t *testing.T, f *fixture, submitter int64, op string) Request {
	t.Helper()
	req, err := f.svc.CreateRequest(context.Background(), CreateInput{
		OperationType: op,
		Payload:       json.RawMessage(`{"field":"value"}`),
		Submitter:     actor(submitter),
	})
	require.NoError(t, err)
	return req
}

func TestCreateRequestBuildsChainAboveSubmitter(t *testing.T) {
	f := newFixture(t)

	req := submit(t, f, 1, OpPolicyClauseUpdate)
	require.Equal(t, StatusPending, req.Status)
	require.Equal(t, []string{catalog.RoleDepartmentHead, catalog.RoleOrganizationHead}, req.Chain)
	require.Equal(t, catalog.RoleDepartmentHead, req.CurrentApproverRole)
	require.Empty(t, req.History)
	require.Nil(t, req.DecidedAt)

	// Exactly one ledger entry, and the first approver was notified.
	require.Len(t, f.repo.entries, 1)
	require.Equal(t, audit.ActionApprovalRequested, f.repo.entries[0].Action)
	require.Equal(t, []string{catalog.RoleDepartmentHead}, f.notifier.roles)
	require.Empty(t, f.applier.calls)
}

func TestCreateRequestSkipsRolesAtOrBelowSubmitter(t *testing.T) {
	f := newFixture(t)

	// A department head submitting skips its own level; only the strictly
	// higher role remains.
	req := submit(t, f, 2, OpPolicyClauseUpdate)
	require.Equal(t, []string{catalog.RoleOrganizationHead}, req.Chain)
	require.Equal(t, catalog.RoleOrganizationHead, req.CurrentApproverRole)
}

func TestCreateRequestUnknownOperation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateRequest(context.Background(), CreateInput{
		OperationType: "budget.rewrite",
		Payload:       json.RawMessage(`{}`),
		Submitter:     actor(1),
	})
	require.ErrorIs(t, err, httpx.ErrValidation)
	require.Empty(t, f.repo.requests)
	require.Empty(t, f.repo.entries)
}

func TestTwoStepApproval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := submit(t, f, 1, OpPolicyClauseUpdate)

	mid, err := f.svc.Decide(ctx, req.ID, actor(2), DecisionApprove, "looks fine")
	require.NoError(t, err)
	require.Equal(t, StatusPending, mid.Status)
	require.Equal(t, catalog.RoleOrganizationHead, mid.CurrentApproverRole)
	require.Len(t, mid.History, 1)
	require.Equal(t, mid.CurrentApproverRole, mid.Chain[len(mid.History)])
	require.Empty(t, f.applier.calls)

	final, err := f.svc.Decide(ctx, req.ID, actor(3), DecisionApprove, "")
	require.NoError(t, err)
	require.Equal(t, StatusApproved, final.Status)
	require.Empty(t, final.CurrentApproverRole)
	require.Len(t, final.History, 2)
	require.NotNil(t, final.DecidedAt)

	require.Equal(t, []string{OpPolicyClauseUpdate}, f.applier.calls)
	// requested + two decisions.
	require.Len(t, f.repo.entries, 3)
	require.Equal(t, []string{catalog.RoleDepartmentHead, catalog.RoleOrganizationHead}, f.notifier.roles)
}

func TestRejectIsTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := submit(t, f, 1, OpPolicyClauseUpdate)

	rejected, err := f.svc.Decide(ctx, req.ID, actor(2), DecisionReject, "missing rationale")
	require.NoError(t, err)
	require.Equal(t, StatusRejected, rejected.Status)
	require.Len(t, rejected.History, 1)
	require.NotNil(t, rejected.DecidedAt)
	require.Empty(t, f.applier.calls)

	// No further decision is accepted, from anyone.
	_, err = f.svc.Decide(ctx, req.ID, actor(3), DecisionApprove, "")
	require.ErrorIs(t, err, httpx.ErrInvalidState)
	_, err = f.svc.Decide(ctx, req.ID, actor(4), DecisionReject, "")
	require.ErrorIs(t, err, httpx.ErrInvalidState)

	stored, err := f.svc.Get(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, StatusRejected, stored.Status)
	require.Len(t, stored.History, 1)
}

func TestAutoApprovalOnEmptyChain(t *testing.T) {
	f := newFixture(t)

	// The admin outranks every approver of this policy, so the chain is
	// empty and the request is approved on submission.
	req := submit(t, f, 4, OpFrameworkUpdate)
	require.Equal(t, StatusApproved, req.Status)
	require.Empty(t, req.Chain)
	require.Empty(t, req.History)
	require.NotNil(t, req.DecidedAt)

	require.Equal(t, []string{OpFrameworkUpdate}, f.applier.calls)
	require.Len(t, f.repo.entries, 2)
	require.Equal(t, audit.ActionApprovalRequested, f.repo.entries[0].Action)
	require.Equal(t, audit.ActionApprovalDecided, f.repo.entries[1].Action)
	require.Empty(t, f.notifier.roles)
}

func TestDecideOnlyNamedRoleMayAct(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := submit(t, f, 1, OpPolicyClauseUpdate)

	// The organization head outranks the named approver; rank is irrelevant.
	_, err := f.svc.Decide(ctx, req.ID, actor(3), DecisionApprove, "")
	require.ErrorIs(t, err, httpx.ErrForbidden)

	// The admin outranks everyone and is still refused.
	_, err = f.svc.Decide(ctx, req.ID, actor(4), DecisionApprove, "")
	require.ErrorIs(t, err, httpx.ErrForbidden)

	// A user with no roles at all.
	_, err = f.svc.Decide(ctx, req.ID, actor(5), DecisionApprove, "")
	require.ErrorIs(t, err, httpx.ErrForbidden)

	// Refused decisions leave no trace in history or ledger.
	stored, err := f.svc.Get(ctx, req.ID)
	require.NoError(t, err)
	require.Empty(t, stored.History)
	require.Len(t, f.repo.entries, 1)
}

func TestDecideValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := submit(t, f, 1, OpPolicyClauseUpdate)

	_, err := f.svc.Decide(ctx, req.ID, actor(2), Decision("defer"), "")
	require.ErrorIs(t, err, httpx.ErrValidation)

	_, err = f.svc.Decide(ctx, req.ID, shared.Identity{UserID: 2}, DecisionApprove, "")
	require.ErrorIs(t, err, httpx.ErrForbidden)

	_, err = f.svc.Decide(ctx, uuid.New(), actor(2), DecisionApprove, "")
	require.ErrorIs(t, err, httpx.ErrNotFound)
}

func TestApplierFailureLeavesDecisionFinal(t *testing.T) {
	f := newFixture(t)
	f.applier.err = errors.New("content system offline")
	ctx := context.Background()

	req := submit(t, f, 2, OpPolicyClauseUpdate)

	_, err := f.svc.Decide(ctx, req.ID, actor(3), DecisionApprove, "")
	require.ErrorIs(t, err, httpx.ErrApplicationFailed)

	// The approval itself stands; only the side effect failed.
	stored, getErr := f.svc.Get(ctx, req.ID)
	require.NoError(t, getErr)
	require.Equal(t, StatusApproved, stored.Status)
	require.Len(t, f.applier.calls, 1)
}

func TestPendingInbox(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := submit(t, f, 1, OpPolicyClauseUpdate)
	second := submit(t, f, 1, OpPolicyClauseUpdate)

	inbox, err := f.svc.Pending(ctx, catalog.RoleDepartmentHead)
	require.NoError(t, err)
	require.Len(t, inbox, 2)

	_, err = f.svc.Decide(ctx, first.ID, actor(2), DecisionApprove, "")
	require.NoError(t, err)

	inbox, err = f.svc.Pending(ctx, catalog.RoleDepartmentHead)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	require.Equal(t, second.ID, inbox[0].ID)

	upstream, err := f.svc.Pending(ctx, catalog.RoleOrganizationHead)
	require.NoError(t, err)
	require.Len(t, upstream, 1)
	require.Equal(t, first.ID, upstream[0].ID)
}

func TestChainInvariantHoldsThroughout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := submit(t, f, 1, OpOrganizationUpdate)
	for req.Status == StatusPending {
		require.Equal(t, req.Chain[len(req.History)], req.CurrentApproverRole)
		var deciderID int64
		switch req.CurrentApproverRole {
		case catalog.RoleOrganizationHead:
			deciderID = 3
		case catalog.RoleEYAdmin:
			deciderID = 4
		default:
			t.Fatalf("unexpected approver role %s", req.CurrentApproverRole)
		}
		next, err := f.svc.Decide(ctx, req.ID, actor(deciderID), DecisionApprove, "")
		require.NoError(t, err)
		req = next
	}
	require.Equal(t, StatusApproved, req.Status)
	require.Len(t, req.History, 2)
}
