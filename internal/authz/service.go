// Package authz answers permission checks by resolving a user's active
// roles against the permission catalog. It is read-only: aside from denial
// logging it has no side effects.
package authz

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/aegis-grc/aegis/internal/shared"
)

// AssignmentsPort resolves the roles a user currently holds.
type AssignmentsPort interface {
	ActiveRoleNames(ctx context.Context, userID int64, asOf time.Time) ([]string, error)
}

// CatalogPort resolves the permission names granted to a role.
type CatalogPort interface {
	RolePermissionNames(ctx context.Context, roleName string) ([]string, error)
}

// DenialEvent describes a failed permission check for security monitoring.
type DenialEvent struct {
	UserID   int64     `json:"user_id"`
	Subject  string    `json:"subject"`
	Resource string    `json:"resource"`
	Action   string    `json:"action"`
	Reason   string    `json:"reason"`
	At       time.Time `json:"at"`
}

// DenialSink receives denial events. Recording is best-effort and never
// affects the check result.
type DenialSink interface {
	RecordDenial(ctx context.Context, event DenialEvent) error
}

// DenialCounter counts denials for metrics.
type DenialCounter interface {
	IncAuthzDenial()
}

// Service is the authorization engine.
type Service struct {
	assignments AssignmentsPort
	catalog     CatalogPort
	logger      *slog.Logger
	denials     DenialSink
	counter     DenialCounter
	now         func() time.Time
}

// NewService constructs the engine. Sink and counter may be nil.
func NewService(assignments AssignmentsPort, catalog CatalogPort, logger *slog.Logger, denials DenialSink, counter DenialCounter) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		assignments: assignments,
		catalog:     catalog,
		logger:      logger,
		denials:     denials,
		counter:     counter,
		now:         time.Now,
	}
}

// CheckPermission reports whether the identity may perform (resource, action).
// Matching is exact: no hierarchy inheritance, no wildcards.
func (s *Service) CheckPermission(ctx context.Context, id shared.Identity, resource, action string) (bool, error) {
	resource = strings.ToLower(strings.TrimSpace(resource))
	action = strings.ToLower(strings.TrimSpace(action))
	if !id.IsActive {
		s.logDenial(ctx, id, resource, action, "identity inactive")
		return false, nil
	}
	granted, err := s.effectivePermissions(ctx, id.UserID)
	if err != nil {
		return false, err
	}
	if len(granted) == 0 {
		s.logDenial(ctx, id, resource, action, "no active roles")
		return false, nil
	}
	if _, ok := granted[resource+"."+action]; ok {
		return true, nil
	}
	s.logDenial(ctx, id, resource, action, "permission not granted")
	return false, nil
}

// UserPermissions returns the identity's capabilities as resource -> actions.
func (s *Service) UserPermissions(ctx context.Context, id shared.Identity) (map[string][]string, error) {
	if !id.IsActive {
		return map[string][]string{}, nil
	}
	granted, err := s.effectivePermissions(ctx, id.UserID)
	if err != nil {
		return nil, err
	}
	byResource := make(map[string][]string)
	for name := range granted {
		dot := strings.LastIndex(name, ".")
		if dot <= 0 || dot == len(name)-1 {
			continue
		}
		resource, action := name[:dot], name[dot+1:]
		byResource[resource] = append(byResource[resource], action)
	}
	for resource := range byResource {
		sort.Strings(byResource[resource])
	}
	return byResource, nil
}

// effectivePermissions unions the grant sets of every active role.
func (s *Service) effectivePermissions(ctx context.Context, userID int64) (map[string]struct{}, error) {
	roles, err := s.assignments.ActiveRoleNames(ctx, userID, s.now())
	if err != nil {
		return nil, err
	}
	granted := make(map[string]struct{})
	for _, role := range roles {
		names, err := s.catalog.RolePermissionNames(ctx, role)
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			granted[strings.ToLower(name)] = struct{}{}
		}
	}
	return granted, nil
}

func (s *Service) logDenial(ctx context.Context, id shared.Identity, resource, action, reason string) {
	s.logger.Warn("permission denied",
		slog.Int64("user_id", id.UserID),
		slog.String("resource", resource),
		slog.String("action", action),
		slog.String("reason", reason),
	)
	if s.counter != nil {
		s.counter.IncAuthzDenial()
	}
	if s.denials == nil {
		return
	}
	event := DenialEvent{
		UserID:   id.UserID,
		Subject:  id.Subject,
		Resource: resource,
		Action:   action,
		Reason:   reason,
		At:       s.now(),
	}
	if err := s.denials.RecordDenial(ctx, event); err != nil {
		s.logger.Warn("record denial event", slog.Any("error", err))
	}
}
