// Package service opens, escalates and settles disputes over completed service requests.
package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"medilink/internal/audit"
	billingdomain "medilink/internal/billing/domain"
	"medilink/internal/db"
	"medilink/internal/dispute/domain"
	"medilink/internal/dispute/repository"
	"medilink/internal/dispute/workflow"
	"medilink/internal/events"
	"medilink/internal/platform/apperr"
	"medilink/internal/platform/logger"
	"medilink/internal/platform/rbac"
	srdomain "medilink/internal/servicerequest/domain"
)

// RequestStore loads service requests without an access check.
type RequestStore interface {
	GetByID(ctx context.Context, id string) (*srdomain.ServiceRequest, error)
}

// RequestSettler moves a request into and out of dispute.
type RequestSettler interface {
	MarkDisputed(ctx context.Context, requestID string) (*srdomain.ServiceRequest, error)
	SettleDispute(ctx context.Context, requestID string, refund bool) (*srdomain.ServiceRequest, error)
}

// Refunder refunds the service payment of a request.
type Refunder interface {
	RefundServicePayment(ctx context.Context, hospitalOrgID, requestID string) (*billingdomain.Payment, error)
}

// Engine runs the resolution workflow. A nil Engine applies decisions synchronously.
type Engine interface {
	Start(ctx context.Context, disputeID string) error
	Signal(ctx context.Context, disputeID string, d workflow.Decision) error
}

var (
	errNotFound        = apperr.NotFound("Dispute not found.", "紛争が見つかりません。")
	errRequestNotFound = apperr.NotFound("Service request not found.", "サービスリクエストが見つかりません。")
	errNotCompleted    = apperr.New(apperr.KindFailedPrecondition,
		"Only completed requests can be disputed.", "完了したリクエストのみ紛争を申し立てられます。")
	errActive = apperr.New(apperr.KindConflict,
		"This request already has an open dispute.", "このリクエストにはすでに未解決の紛争があります。")
	errClosed = apperr.New(apperr.KindFailedPrecondition,
		"This dispute is already closed.", "この紛争はすでに終了しています。")
	errReason   = apperr.Invalid("A reason is required.", "理由を入力してください。")
	errDecision = apperr.Wrap(domain.ErrInvalidDecision, apperr.KindInvalid,
		"Decision must be hospital or provider.", "判定は hospital または provider を指定してください。")
)

// Service implements dispute use cases.
type Service struct {
	repo     repository.Repository
	requests RequestStore
	settler  RequestSettler
	refunds  Refunder
	engine   Engine
	members  rbac.OrgMembershipGetter
	tx       db.TxRunner
	events   events.Publisher
	audit    audit.AuditLogger
	log      *zap.Logger
	now      func() time.Time
}

// NewService returns a dispute service. engine may be nil.
func NewService(repo repository.Repository, requests RequestStore, settler RequestSettler, refunds Refunder, engine Engine,
	members rbac.OrgMembershipGetter, tx db.TxRunner, publisher events.Publisher, auditLogger audit.AuditLogger, log *zap.Logger) *Service {
	if auditLogger == nil {
		auditLogger = audit.Nop{}
	}
	return &Service{
		repo:     repo,
		requests: requests,
		settler:  settler,
		refunds:  refunds,
		engine:   engine,
		members:  members,
		tx:       tx,
		events:   events.OrNop(publisher),
		audit:    auditLogger,
		log:      logger.OrNop(log),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Open raises a dispute on a completed request of the caller's hospital.
func (s *Service) Open(ctx context.Context, requestID, reason string) (*domain.Dispute, error) {
	caller, err := rbac.RequireOrgType(ctx, s.members, "hospital")
	if err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, errReason
	}
	var d *domain.Dispute
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		sr, err := s.requests.GetByID(ctx, requestID)
		if err != nil {
			return apperr.Internal(err)
		}
		if sr == nil || sr.HospitalOrgID != caller.OrgID {
			return errRequestNotFound
		}
		if sr.Status != srdomain.StatusCompleted {
			if sr.Status == srdomain.StatusDisputed {
				return errActive
			}
			return errNotCompleted
		}
		active, err := s.repo.GetActiveByRequest(ctx, requestID)
		if err != nil {
			return apperr.Internal(err)
		}
		if active != nil {
			return errActive
		}
		d = &domain.Dispute{
			ID:            uuid.New().String(),
			RequestID:     sr.ID,
			HospitalOrgID: sr.HospitalOrgID,
			ProviderOrgID: sr.ProviderOrgID,
			Reason:        reason,
			Status:        domain.StatusOpen,
			CreatedAt:     s.now(),
		}
		if err := s.repo.Create(ctx, d); err != nil {
			if db.IsUniqueViolation(err) {
				return errActive
			}
			return apperr.Internal(err)
		}
		_, err = s.settler.MarkDisputed(ctx, sr.ID)
		return err
	})
	if err != nil {
		return nil, classify(err)
	}

	s.record(ctx, d, "open", caller.UserID, map[string]any{"request_id": d.RequestID})
	s.events.Publish(ctx, events.New(events.DisputeOpened, d.ID,
		map[string]any{"request_id": d.RequestID}, d.HospitalOrgID, d.ProviderOrgID))
	if s.engine != nil {
		if err := s.engine.Start(ctx, d.ID); err != nil {
			// The dispute stays resolvable: Resolve falls back to applying the decision directly.
			s.log.Warn("start dispute workflow", zap.String("dispute_id", d.ID), zap.Error(err))
		}
	}
	return d, nil
}

// Withdraw closes the caller hospital's active dispute and returns the request to completed.
func (s *Service) Withdraw(ctx context.Context, id string) (*domain.Dispute, error) {
	caller, err := rbac.RequireOrgType(ctx, s.members, "hospital")
	if err != nil {
		return nil, err
	}
	var d *domain.Dispute
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if d, err = s.load(ctx, id); err != nil {
			return err
		}
		if d.HospitalOrgID != caller.OrgID {
			return errNotFound
		}
		from := d.Status
		if !from.Active() {
			return errClosed
		}
		now := s.now()
		d.Status, d.ResolvedAt = domain.StatusWithdrawn, &now
		if err := s.update(ctx, d, from); err != nil {
			return err
		}
		_, err = s.settler.SettleDispute(ctx, d.RequestID, false)
		return err
	})
	if err != nil {
		return nil, classify(err)
	}
	s.record(ctx, d, "withdraw", caller.UserID, nil)
	s.events.Publish(ctx, events.New(events.DisputeResolved, d.ID,
		map[string]any{"request_id": d.RequestID, "status": string(d.Status)}, d.HospitalOrgID, d.ProviderOrgID))
	if s.engine != nil {
		if err := s.engine.Signal(ctx, d.ID, workflow.Decision{Decision: workflow.DecisionWithdraw}); err != nil &&
			!errors.Is(err, workflow.ErrNotRunning) {
			s.log.Warn("signal dispute workflow", zap.String("dispute_id", d.ID), zap.Error(err))
		}
	}
	return d, nil
}

// Resolve records the platform's decision. With a workflow engine the decision is handed to the running
// workflow and applied asynchronously; the returned flag reports whether it was applied before returning.
func (s *Service) Resolve(ctx context.Context, id, decision, resolution string) (*domain.Dispute, bool, error) {
	adminID, err := rbac.RequirePlatformAdmin(ctx)
	if err != nil {
		return nil, false, err
	}
	dec, err := domain.ParseDecision(decision)
	if err != nil {
		return nil, false, errDecision
	}
	d, err := s.load(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if !d.Status.Active() {
		return nil, false, errClosed
	}
	resolution = strings.TrimSpace(resolution)
	if s.engine != nil {
		err := s.engine.Signal(ctx, id, workflow.Decision{Decision: string(dec), Resolution: resolution, ResolvedBy: adminID})
		if err == nil {
			return d, false, nil
		}
		s.log.Warn("signal dispute workflow, applying directly", zap.String("dispute_id", id), zap.Error(err))
	}
	d, err = s.apply(ctx, id, dec, resolution, adminID)
	if err != nil {
		return nil, false, err
	}
	return d, true, nil
}

// ApplyDecision settles the dispute in favour of decision. Applying to an already closed dispute is a no-op,
// so workflow retries are safe.
func (s *Service) ApplyDecision(ctx context.Context, id, decision, resolution, resolvedBy string) error {
	dec, err := domain.ParseDecision(decision)
	if err != nil {
		return errDecision
	}
	_, err = s.apply(ctx, id, dec, resolution, resolvedBy)
	return err
}

func (s *Service) apply(ctx context.Context, id string, dec domain.Decision, resolution, resolvedBy string) (*domain.Dispute, error) {
	var d *domain.Dispute
	closed := false
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if d, err = s.load(ctx, id); err != nil {
			return err
		}
		from := d.Status
		if !from.Active() {
			closed = true
			return nil
		}
		now := s.now()
		d.Status, d.Resolution, d.ResolvedAt = dec.Resolved(), resolution, &now
		if err := s.update(ctx, d, from); err != nil {
			return err
		}
		if _, err := s.settler.SettleDispute(ctx, d.RequestID, dec.Refunds()); err != nil {
			return err
		}
		if dec.Refunds() {
			if _, err := s.refunds.RefundServicePayment(ctx, d.HospitalOrgID, d.RequestID); err != nil &&
				!apperr.Is(err, apperr.KindNotFound) {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	if closed {
		return d, nil
	}
	s.record(ctx, d, "resolve", resolvedBy, map[string]any{"decision": string(dec)})
	s.events.Publish(ctx, events.New(events.DisputeResolved, d.ID,
		map[string]any{"request_id": d.RequestID, "status": string(d.Status)}, d.HospitalOrgID, d.ProviderOrgID))
	return d, nil
}

// Escalate moves an open dispute to review. Other statuses are left alone.
func (s *Service) Escalate(ctx context.Context, id string) error {
	d, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if d.Status != domain.StatusOpen {
		return nil
	}
	now := s.now()
	d.Status, d.EscalatedAt = domain.StatusUnderReview, &now
	ok, err := s.repo.Update(ctx, d, domain.StatusOpen)
	if err != nil {
		return apperr.Internal(err)
	}
	if !ok {
		return nil
	}
	s.record(ctx, d, "escalate", "", nil)
	s.events.Publish(ctx, events.New(events.DisputeEscalated, d.ID,
		map[string]any{"request_id": d.RequestID}, d.HospitalOrgID, d.ProviderOrgID))
	return nil
}

// Get returns a dispute visible to the caller: either party or a platform admin.
func (s *Service) Get(ctx context.Context, id string) (*domain.Dispute, error) {
	ident, err := rbac.RequireUser(ctx)
	if err != nil {
		return nil, err
	}
	d, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if ident.PlatformAdmin {
		return d, nil
	}
	caller, err := rbac.RequireOrgMember(ctx, s.members)
	if err != nil {
		return nil, err
	}
	if d.HospitalOrgID != caller.OrgID && d.ProviderOrgID != caller.OrgID {
		return nil, errNotFound
	}
	return d, nil
}

// List returns disputes newest first. Platform admins see every org's; others see their own org's.
func (s *Service) List(ctx context.Context, status domain.Status, limit, offset int) ([]*domain.Dispute, error) {
	ident, err := rbac.RequireUser(ctx)
	if err != nil {
		return nil, err
	}
	if status != "" && !status.Valid() {
		return nil, apperr.Invalid("Unknown dispute status.", "不明な紛争ステータスです。")
	}
	orgID := ""
	if !ident.PlatformAdmin {
		caller, err := rbac.RequireOrgMember(ctx, s.members)
		if err != nil {
			return nil, err
		}
		orgID = caller.OrgID
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	out, err := s.repo.List(ctx, orgID, status, limit, offset)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return out, nil
}

func (s *Service) load(ctx context.Context, id string) (*domain.Dispute, error) {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if d == nil {
		return nil, errNotFound
	}
	return d, nil
}

func (s *Service) update(ctx context.Context, d *domain.Dispute, from domain.Status) error {
	ok, err := s.repo.Update(ctx, d, from)
	if err != nil {
		return apperr.Internal(err)
	}
	if !ok {
		return errClosed
	}
	return nil
}

func (s *Service) record(ctx context.Context, d *domain.Dispute, action, userID string, meta map[string]any) {
	s.audit.LogEvent(ctx, audit.Event{
		OrgID:      d.HospitalOrgID,
		UserID:     userID,
		Action:     action,
		Resource:   "dispute",
		ResourceID: d.ID,
		Metadata:   meta,
	})
}

func classify(err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	return apperr.Internal(err)
}
