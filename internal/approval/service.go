package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/aegis-grc/aegis/internal/audit"
	"github.com/aegis-grc/aegis/internal/platform/httpx"
	"github.com/aegis-grc/aegis/internal/shared"
)

// ContentApplier applies an approved payload. The engine treats the payload
// as opaque and invokes the applier exactly once per approved request.
type ContentApplier func(ctx context.Context, operationType string, payload json.RawMessage) error

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id uuid.UUID) (Request, error)
	ListPending(ctx context.Context, role string) ([]Request, error)
}

// TxRepository exposes transactional operations. GetForUpdate must lock the
// request row so concurrent decisions serialize; Advance and Finalize verify
// the version they were read at.
type TxRepository interface {
	Insert(ctx context.Context, req Request) error
	GetForUpdate(ctx context.Context, id uuid.UUID) (Request, error)
	AppendStep(ctx context.Context, step Step) (Step, error)
	Advance(ctx context.Context, id uuid.UUID, nextRole string, fromVersion int) error
	Finalize(ctx context.Context, id uuid.UUID, status Status, decidedAt time.Time, fromVersion int) error
	AppendAudit(ctx context.Context, e audit.Entry) error
}

// HierarchyPort is the slice of the permission catalog the workflow needs.
type HierarchyPort interface {
	HierarchyRank(ctx context.Context, roleName string) (int, error)
}

// RolesPort resolves a user's currently held roles.
type RolesPort interface {
	ActiveRoleNames(ctx context.Context, userID int64, asOf time.Time) ([]string, error)
}

// Notifier tells the next approver role about work in its inbox.
// Notification is best-effort and never fails the workflow.
type Notifier interface {
	NotifyApprover(ctx context.Context, role string, requestID uuid.UUID, operationType string) error
}

// DecisionCounter counts resolved decisions for metrics.
type DecisionCounter interface {
	IncApprovalDecision(decision string)
}

// Service drives approval requests from submission to a terminal outcome.
type Service struct {
	repo      RepositoryPort
	hierarchy HierarchyPort
	roles     RolesPort
	policies  PolicyTable
	applier   ContentApplier
	notifier  Notifier
	counter   DecisionCounter
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs the workflow engine. Notifier and counter may be nil;
// applier is required.
func NewService(repo RepositoryPort, hierarchy HierarchyPort, roles RolesPort, policies PolicyTable, applier ContentApplier, notifier Notifier, counter DecisionCounter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		hierarchy: hierarchy,
		roles:     roles,
		policies:  policies,
		applier:   applier,
		notifier:  notifier,
		counter:   counter,
		logger:    logger,
		now:       time.Now,
	}
}

// CreateInput describes a submission.
type CreateInput struct {
	OperationType string
	Payload       json.RawMessage
	Submitter     shared.Identity
}

// CreateRequest builds the approval chain for the operation type and either
// opens a PENDING request or, when the submitter already outranks every
// required approver, auto-approves and applies the payload immediately.
func (s *Service) CreateRequest(ctx context.Context, in CreateInput) (Request, error) {
	required, ok := s.policies[in.OperationType]
	if !ok {
		return Request{}, fmt.Errorf("approval: unknown operation type %q: %w", in.OperationType, httpx.ErrValidation)
	}
	if !in.Submitter.IsActive {
		return Request{}, fmt.Errorf("approval: submitter inactive: %w", httpx.ErrForbidden)
	}

	submitterRank, err := s.submitterRank(ctx, in.Submitter.UserID)
	if err != nil {
		return Request{}, err
	}

	// Keep the policy's order; keep only roles that strictly outrank the
	// submitter. A submitter with no roles ranks below every approver.
	chain := make([]string, 0, len(required))
	for _, role := range required {
		rank, err := s.hierarchy.HierarchyRank(ctx, role)
		if err != nil {
			return Request{}, err
		}
		if rank > submitterRank {
			chain = append(chain, role)
		}
	}

	now := s.now()
	req := Request{
		ID:            uuid.New(),
		OperationType: in.OperationType,
		Payload:       in.Payload,
		SubmittedBy:   in.Submitter.UserID,
		Chain:         chain,
		Status:        StatusPending,
		Version:       1,
		CreatedAt:     now,
	}

	if len(chain) == 0 {
		// The submitter outranks the whole chain: auto-approval, by policy.
		req.Status = StatusApproved
		req.DecidedAt = &now
		err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			if err := tx.Insert(ctx, req); err != nil {
				return err
			}
			if err := tx.AppendAudit(ctx, s.requestedEntry(req, true)); err != nil {
				return err
			}
			return tx.AppendAudit(ctx, audit.Entry{
				Actor:        req.SubmittedBy,
				Action:       audit.ActionApprovalDecided,
				ResourceType: "approval_request",
				ResourceID:   req.ID.String(),
				NewValue:     map[string]any{"status": string(StatusApproved), "auto_approved": true},
			})
		})
		if err != nil {
			return Request{}, err
		}
		if s.counter != nil {
			s.counter.IncApprovalDecision("auto_approve")
		}
		if err := s.apply(ctx, req); err != nil {
			return req, err
		}
		return req, nil
	}

	req.CurrentApproverRole = chain[0]
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.Insert(ctx, req); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, s.requestedEntry(req, false))
	})
	if err != nil {
		return Request{}, err
	}
	s.notify(ctx, req.CurrentApproverRole, req)
	return req, nil
}

// Decide applies one approver's verdict. The status re-check, the step
// append and the advance/terminate all run under the request's row lock, so
// two members of the same role deciding concurrently cannot both succeed.
func (s *Service) Decide(ctx context.Context, requestID uuid.UUID, actor shared.Identity, decision Decision, comments string) (Request, error) {
	if decision != DecisionApprove && decision != DecisionReject {
		return Request{}, fmt.Errorf("approval: decision must be approve or reject: %w", httpx.ErrValidation)
	}
	if !actor.IsActive {
		return Request{}, fmt.Errorf("approval: actor inactive: %w", httpx.ErrForbidden)
	}
	actorRoles, err := s.roles.ActiveRoleNames(ctx, actor.UserID, s.now())
	if err != nil {
		return Request{}, err
	}

	var (
		result      Request
		applyNeeded bool
		nextRole    string
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		req, err := tx.GetForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		if req.Status != StatusPending {
			return fmt.Errorf("approval: request %s already %s: %w", req.ID, req.Status, httpx.ErrInvalidState)
		}
		// Only the named next role may act; outranking it is irrelevant.
		if !contains(actorRoles, req.CurrentApproverRole) {
			return fmt.Errorf("approval: decision reserved for role %s: %w", req.CurrentApproverRole, httpx.ErrForbidden)
		}

		now := s.now()
		step, err := tx.AppendStep(ctx, Step{
			RequestID:  req.ID,
			Role:       req.CurrentApproverRole,
			ApproverID: actor.UserID,
			Decision:   decision,
			Comments:   comments,
			At:         now,
		})
		if err != nil {
			return err
		}
		req.History = append(req.History, step)

		switch {
		case decision == DecisionReject:
			if err := tx.Finalize(ctx, req.ID, StatusRejected, now, req.Version); err != nil {
				return err
			}
			req.Status = StatusRejected
			req.DecidedAt = &now
			req.CurrentApproverRole = ""
		case len(req.History) == len(req.Chain):
			if err := tx.Finalize(ctx, req.ID, StatusApproved, now, req.Version); err != nil {
				return err
			}
			req.Status = StatusApproved
			req.DecidedAt = &now
			req.CurrentApproverRole = ""
			applyNeeded = true
		default:
			nextRole = req.Chain[len(req.History)]
			if err := tx.Advance(ctx, req.ID, nextRole, req.Version); err != nil {
				return err
			}
			req.CurrentApproverRole = nextRole
		}
		req.Version++

		if err := tx.AppendAudit(ctx, audit.Entry{
			Actor:        actor.UserID,
			Action:       audit.ActionApprovalDecided,
			ResourceType: "approval_request",
			ResourceID:   req.ID.String(),
			OldValue:     map[string]any{"status": string(StatusPending), "role": step.Role},
			NewValue: map[string]any{
				"decision": string(decision),
				"status":   string(req.Status),
				"comments": comments,
			},
		}); err != nil {
			return err
		}
		result = req
		return nil
	})
	if err != nil {
		return Request{}, err
	}

	if s.counter != nil {
		s.counter.IncApprovalDecision(string(decision))
	}
	if applyNeeded {
		if err := s.apply(ctx, result); err != nil {
			return result, err
		}
	}
	if nextRole != "" {
		s.notify(ctx, nextRole, result)
	}
	return result, nil
}

// Pending lists the inbox for a role.
func (s *Service) Pending(ctx context.Context, role string) ([]Request, error) {
	return s.repo.ListPending(ctx, role)
}

// Get returns one request with its full history.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Request, error) {
	return s.repo.Get(ctx, id)
}

// apply invokes the content applier after the decision has committed. The
// decision is final either way; an applier failure is surfaced as
// ApplicationFailed for the caller to retry the side effect.
func (s *Service) apply(ctx context.Context, req Request) error {
	if s.applier == nil {
		return nil
	}
	if err := s.applier(ctx, req.OperationType, req.Payload); err != nil {
		s.logger.Error("content applier failed",
			slog.String("request_id", req.ID.String()),
			slog.String("operation_type", req.OperationType),
			slog.Any("error", err),
		)
		return fmt.Errorf("approval: request %s approved but payload not applied: %w", req.ID, httpx.ErrApplicationFailed)
	}
	return nil
}

func (s *Service) notify(ctx context.Context, role string, req Request) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyApprover(ctx, role, req.ID, req.OperationType); err != nil {
		s.logger.Warn("notify approver", slog.String("role", role), slog.Any("error", err))
	}
}

// submitterRank is the highest hierarchy level among the submitter's active
// roles; zero when the submitter holds none.
func (s *Service) submitterRank(ctx context.Context, userID int64) (int, error) {
	roles, err := s.roles.ActiveRoleNames(ctx, userID, s.now())
	if err != nil {
		return 0, err
	}
	rank := 0
	for _, role := range roles {
		level, err := s.hierarchy.HierarchyRank(ctx, role)
		if err != nil {
			return 0, err
		}
		if level > rank {
			rank = level
		}
	}
	return rank, nil
}

func (s *Service) requestedEntry(req Request, autoApproved bool) audit.Entry {
	return audit.Entry{
		Actor:        req.SubmittedBy,
		Action:       audit.ActionApprovalRequested,
		ResourceType: "approval_request",
		ResourceID:   req.ID.String(),
		NewValue: map[string]any{
			"operation_type": req.OperationType,
			"approval_chain": req.Chain,
			"auto_approved":  autoApproved,
		},
	}
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
