package assignment

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aegis-grc/aegis/internal/audit"
	"github.com/aegis-grc/aegis/internal/catalog"
	"github.com/aegis-grc/aegis/internal/platform/httpx"
)

type memStore struct {
	rows    []UserRoleAssignment
	entries []audit.Entry
	nextID  int64
}

func (m *memStore) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx := &memTx{store: m}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	// Commit: apply staged writes.
	m.rows = append(m.rows, tx.inserted...)
	for _, id := range tx.deactivated {
		for i := range m.rows {
			if m.rows[i].ID == id {
				m.rows[i].IsActive = false
			}
		}
	}
	m.entries = append(m.entries, tx.audited...)
	return nil
}

func (m *memStore) ListActive(ctx context.Context, userID int64, asOf time.Time) ([]UserRoleAssignment, error) {
	var out []UserRoleAssignment
	for _, a := range m.rows {
		if a.UserID == userID && a.IsActive && a.Covers(asOf) {
			out = append(out, a)
		}
	}
	return out, nil
}

type memTx struct {
	store       *memStore
	inserted    []UserRoleAssignment
	deactivated []int64
	audited     []audit.Entry
}

func (t *memTx) GetActiveForUpdate(ctx context.Context, userID, roleID int64) (UserRoleAssignment, error) {
	for _, a := range t.store.rows {
		if a.UserID == userID && a.RoleID == roleID && a.IsActive {
			return a, nil
		}
	}
	return UserRoleAssignment{}, fmt.Errorf("no active assignment: %w", httpx.ErrNotFound)
}

func (t *memTx) Insert(ctx context.Context, a UserRoleAssignment) (UserRoleAssignment, error) {
	t.store.nextID++
	a.ID = t.store.nextID
	t.inserted = append(t.inserted, a)
	return a, nil
}

func (t *memTx) Deactivate(ctx context.Context, assignmentID int64) error {
	t.deactivated = append(t.deactivated, assignmentID)
	return nil
}

func (t *memTx) AppendAudit(ctx context.Context, e audit.Entry) error {
	t.audited = append(t.audited, e)
	return nil
}

type memCatalog struct {
	roles map[string]catalog.Role
}

func (m memCatalog) GetRole(ctx context.Context, name string) (catalog.Role, error) {
	role, ok := m.roles[name]
	if !ok {
		return catalog.Role{}, fmt.Errorf("role %s: %w", name, httpx.ErrNotFound)
	}
	return role, nil
}

func testCatalog() memCatalog {
	return memCatalog{roles: map[string]catalog.Role{
		catalog.RoleEmployee:       {ID: 1, Name: catalog.RoleEmployee, HierarchyLevel: 10},
		catalog.RoleDepartmentHead: {ID: 2, Name: catalog.RoleDepartmentHead, HierarchyLevel: 20},
	}}
}

func TestAssignRoleWritesRowAndAudit(t *testing.T) {
	store := &memStore{}
	svc := NewService(store, testCatalog())
	ctx := context.Background()

	created, err := svc.AssignRole(ctx, AssignInput{UserID: 7, RoleName: "employee", AssignedBy: 1})
	require.NoError(t, err)
	require.True(t, created.IsActive)
	require.Equal(t, "employee", created.RoleName)

	require.Len(t, store.rows, 1)
	require.Len(t, store.entries, 1)
	require.Equal(t, audit.ActionRoleAssigned, store.entries[0].Action)
	require.Equal(t, int64(1), store.entries[0].Actor)
}

func TestAssignRoleDuplicateConflict(t *testing.T) {
	store := &memStore{}
	svc := NewService(store, testCatalog())
	ctx := context.Background()

	_, err := svc.AssignRole(ctx, AssignInput{UserID: 7, RoleName: "employee", AssignedBy: 1})
	require.NoError(t, err)

	_, err = svc.AssignRole(ctx, AssignInput{UserID: 7, RoleName: "employee", AssignedBy: 1})
	require.ErrorIs(t, err, httpx.ErrConflict)

	// The failed assign must not leave a second audit entry.
	require.Len(t, store.entries, 1)
}

func TestAssignRoleUnknownRole(t *testing.T) {
	svc := NewService(&memStore{}, testCatalog())

	_, err := svc.AssignRole(context.Background(), AssignInput{UserID: 7, RoleName: "czar", AssignedBy: 1})
	require.ErrorIs(t, err, httpx.ErrNotFound)
}

func TestAssignRoleValidityWindow(t *testing.T) {
	svc := NewService(&memStore{}, testCatalog())
	from := time.Now()
	until := from.Add(-time.Hour)

	_, err := svc.AssignRole(context.Background(), AssignInput{
		UserID: 7, RoleName: "employee", AssignedBy: 1,
		ValidFrom: &from, ValidUntil: &until,
	})
	require.ErrorIs(t, err, httpx.ErrValidation)
}

func TestRevokeRole(t *testing.T) {
	store := &memStore{}
	svc := NewService(store, testCatalog())
	ctx := context.Background()

	_, err := svc.AssignRole(ctx, AssignInput{UserID: 7, RoleName: "employee", AssignedBy: 1})
	require.NoError(t, err)

	require.NoError(t, svc.RevokeRole(ctx, 7, "employee", 2))

	names, err := svc.ActiveRoleNames(ctx, 7, time.Now())
	require.NoError(t, err)
	require.Empty(t, names)

	require.Len(t, store.entries, 2)
	require.Equal(t, audit.ActionRoleRevoked, store.entries[1].Action)

	// Revoking again finds nothing active.
	err = svc.RevokeRole(ctx, 7, "employee", 2)
	require.ErrorIs(t, err, httpx.ErrNotFound)
}

func TestActiveRolesHonoursWindow(t *testing.T) {
	store := &memStore{}
	svc := NewService(store, testCatalog())
	ctx := context.Background()

	until := time.Now().Add(time.Hour)
	_, err := svc.AssignRole(ctx, AssignInput{UserID: 7, RoleName: "department_head", AssignedBy: 1, ValidUntil: &until})
	require.NoError(t, err)

	names, err := svc.ActiveRoleNames(ctx, 7, time.Now())
	require.NoError(t, err)
	require.Equal(t, []string{"department_head"}, names)

	// Past the expiry the assignment no longer counts, even though the row
	// is still marked active.
	names, err = svc.ActiveRoleNames(ctx, 7, until.Add(time.Minute))
	require.NoError(t, err)
	require.Empty(t, names)
}
