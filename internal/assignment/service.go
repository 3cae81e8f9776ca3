package assignment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aegis-grc/aegis/internal/audit"
	"github.com/aegis-grc/aegis/internal/catalog"
	"github.com/aegis-grc/aegis/internal/platform/httpx"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListActive(ctx context.Context, userID int64, asOf time.Time) ([]UserRoleAssignment, error)
}

// TxRepository exposes transactional operations. The audit append runs on
// the same transaction as the assignment write, so neither can land alone.
type TxRepository interface {
	GetActiveForUpdate(ctx context.Context, userID, roleID int64) (UserRoleAssignment, error)
	Insert(ctx context.Context, a UserRoleAssignment) (UserRoleAssignment, error)
	Deactivate(ctx context.Context, assignmentID int64) error
	AppendAudit(ctx context.Context, e audit.Entry) error
}

// CatalogPort resolves role names against the permission catalog.
type CatalogPort interface {
	GetRole(ctx context.Context, name string) (catalog.Role, error)
}

// Service is the source of truth for who currently holds which role.
type Service struct {
	repo    RepositoryPort
	catalog CatalogPort
	now     func() time.Time
}

// NewService builds the assignment store service.
func NewService(repo RepositoryPort, cat CatalogPort) *Service {
	return &Service{repo: repo, catalog: cat, now: time.Now}
}

// AssignInput describes a role grant.
type AssignInput struct {
	UserID     int64
	RoleName   string
	AssignedBy int64
	ValidFrom  *time.Time
	ValidUntil *time.Time
}

// AssignRole grants a role to a user. The active-duplicate check and the
// insert run in one transaction under a row lock; two concurrent assigns of
// the same pair cannot both succeed.
func (s *Service) AssignRole(ctx context.Context, in AssignInput) (UserRoleAssignment, error) {
	role, err := s.catalog.GetRole(ctx, in.RoleName)
	if err != nil {
		return UserRoleAssignment{}, err
	}
	if in.UserID == 0 {
		return UserRoleAssignment{}, fmt.Errorf("assignment: user id required: %w", httpx.ErrValidation)
	}
	validFrom := s.now()
	if in.ValidFrom != nil {
		validFrom = *in.ValidFrom
	}
	if in.ValidUntil != nil && !in.ValidUntil.After(validFrom) {
		return UserRoleAssignment{}, fmt.Errorf("assignment: valid_until must be after valid_from: %w", httpx.ErrValidation)
	}

	var created UserRoleAssignment
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetActiveForUpdate(ctx, in.UserID, role.ID); err == nil {
			return fmt.Errorf("assignment: user %d already holds role %s: %w", in.UserID, role.Name, httpx.ErrConflict)
		} else if !isNotFound(err) {
			return err
		}
		inserted, err := tx.Insert(ctx, UserRoleAssignment{
			UserID:     in.UserID,
			RoleID:     role.ID,
			RoleName:   role.Name,
			AssignedBy: in.AssignedBy,
			AssignedAt: s.now(),
			ValidFrom:  validFrom,
			ValidUntil: in.ValidUntil,
			IsActive:   true,
		})
		if err != nil {
			return err
		}
		created = inserted
		return tx.AppendAudit(ctx, audit.Entry{
			Actor:        in.AssignedBy,
			Action:       audit.ActionRoleAssigned,
			ResourceType: "user_role_assignment",
			ResourceID:   strconv.FormatInt(inserted.ID, 10),
			NewValue: map[string]any{
				"user_id":     in.UserID,
				"role":        role.Name,
				"valid_from":  validFrom,
				"valid_until": in.ValidUntil,
			},
		})
	})
	if err != nil {
		return UserRoleAssignment{}, err
	}
	return created, nil
}

// RevokeRole deactivates the active assignment for (user, role). The row is
// kept with is_active=false; nothing is ever deleted.
func (s *Service) RevokeRole(ctx context.Context, userID int64, roleName string, revokedBy int64) error {
	role, err := s.catalog.GetRole(ctx, roleName)
	if err != nil {
		return err
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		active, err := tx.GetActiveForUpdate(ctx, userID, role.ID)
		if err != nil {
			return err
		}
		if err := tx.Deactivate(ctx, active.ID); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, audit.Entry{
			Actor:        revokedBy,
			Action:       audit.ActionRoleRevoked,
			ResourceType: "user_role_assignment",
			ResourceID:   strconv.FormatInt(active.ID, 10),
			OldValue:     map[string]any{"is_active": true},
			NewValue: map[string]any{
				"is_active": false,
				"user_id":   userID,
				"role":      role.Name,
			},
		})
	})
}

// ActiveRoles returns the assignments valid at asOf.
func (s *Service) ActiveRoles(ctx context.Context, userID int64, asOf time.Time) ([]UserRoleAssignment, error) {
	if asOf.IsZero() {
		asOf = s.now()
	}
	return s.repo.ListActive(ctx, userID, asOf)
}

// ActiveRoleNames returns the role names a user holds at asOf.
func (s *Service) ActiveRoleNames(ctx context.Context, userID int64, asOf time.Time) ([]string, error) {
	assignments, err := s.ActiveRoles(ctx, userID, asOf)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(assignments))
	for _, a := range assignments {
		names = append(names, a.RoleName)
	}
	return names, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, httpx.ErrNotFound)
}
