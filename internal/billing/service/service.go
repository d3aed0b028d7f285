// Package service implements subscriptions, payments and the monthly renewal run.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"medilink/internal/audit"
	"medilink/internal/billing/domain"
	"medilink/internal/billing/repository"
	creditsdomain "medilink/internal/credits/domain"
	"medilink/internal/db"
	"medilink/internal/events"
	"medilink/internal/platform/apperr"
	"medilink/internal/platform/logger"
	"medilink/internal/platform/rbac"
)

// renewBatch bounds one RenewDue pass. The worker runs again on its next tick.
const renewBatch = 500

// CreditGranter adds plan credits to an org.
type CreditGranter interface {
	Grant(ctx context.Context, orgID string, amount int64, reason creditsdomain.Reason, reference string) (*creditsdomain.Transaction, error)
}

var (
	errNoSubscription = apperr.NotFound("Subscription not found.", "サブスクリプションが見つかりません。")
	errNoPayment      = apperr.NotFound("Payment not found.", "支払いが見つかりません。")
	errUnknownPlan    = apperr.Wrap(domain.ErrUnknownPlan, apperr.KindInvalid, "Unknown plan.", "不明なプランです。")
	errSamePlan       = apperr.New(apperr.KindFailedPrecondition,
		"The organization is already on this plan.", "この組織はすでにこのプランです。")
	errAlreadyCancelled = apperr.New(apperr.KindFailedPrecondition,
		"The subscription is already cancelled.", "サブスクリプションはすでにキャンセルされています。")
	errPaymentTransition = apperr.New(apperr.KindFailedPrecondition,
		"The payment cannot move to this status.", "支払いをこのステータスに変更できません。")
	errBadAmount = apperr.Invalid("Amount must be positive.", "金額は正の値である必要があります。")
)

// Service is the billing service.
type Service struct {
	repo      repository.Repository
	members   rbac.OrgMembershipGetter
	credits   CreditGranter
	tx        db.TxRunner
	publisher events.Publisher
	audit     audit.AuditLogger
	log       *zap.Logger
	now       func() time.Time
}

// NewService returns a billing service.
func NewService(repo repository.Repository, members rbac.OrgMembershipGetter, credits CreditGranter, tx db.TxRunner, publisher events.Publisher, auditLogger audit.AuditLogger, log *zap.Logger) *Service {
	if auditLogger == nil {
		auditLogger = audit.Nop{}
	}
	return &Service{
		repo:      repo,
		members:   members,
		credits:   credits,
		tx:        tx,
		publisher: events.OrNop(publisher),
		audit:     auditLogger,
		log:       logger.OrNop(log),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// StartFree puts a new org on the free plan. Its credits arrive with the first renewal.
func (s *Service) StartFree(ctx context.Context, orgID string) error {
	now := s.now()
	sub := &domain.Subscription{
		OrgID:              orgID,
		Plan:               domain.PlanFree,
		Status:             domain.SubscriptionActive,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.AddDate(0, 1, 0),
		CreatedAt:          now,
	}
	if err := s.repo.SaveSubscription(ctx, sub); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

// GetSubscription returns the active org's subscription.
func (s *Service) GetSubscription(ctx context.Context) (*domain.Subscription, error) {
	caller, err := rbac.RequireOrgMember(ctx, s.members)
	if err != nil {
		return nil, err
	}
	return s.subscription(ctx, caller.OrgID)
}

// ChangePlan moves the active org to plan. Moving to a different paid plan, or changing after the period
// ended, starts a new period billed at once; otherwise the running period is kept. Each period's payment
// and credits are keyed by period start and plan, so cancelling and resubscribing never grants twice.
func (s *Service) ChangePlan(ctx context.Context, name domain.PlanName) (*domain.Subscription, error) {
	caller, err := rbac.RequireOrgAdmin(ctx, s.members)
	if err != nil {
		return nil, err
	}
	plan, err := domain.LookupPlan(name)
	if err != nil {
		return nil, errUnknownPlan
	}
	var sub *domain.Subscription
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		cur, err := s.subscription(ctx, caller.OrgID)
		if err != nil {
			return err
		}
		if cur.Plan == plan.Name && cur.Status == domain.SubscriptionActive {
			return errSamePlan
		}
		now := s.now()
		start, end := cur.CurrentPeriodStart, cur.CurrentPeriodEnd
		if !end.After(now) || (plan.Paid() && plan.Name != cur.Plan) {
			start, end = now, now.AddDate(0, 1, 0)
		}
		sub = &domain.Subscription{
			OrgID:              caller.OrgID,
			Plan:               plan.Name,
			Status:             domain.SubscriptionActive,
			CurrentPeriodStart: start,
			CurrentPeriodEnd:   end,
			CreatedAt:          cur.CreatedAt,
		}
		if err := s.repo.SaveSubscription(ctx, sub); err != nil {
			return err
		}
		return s.startPeriod(ctx, sub, plan)
	})
	if err != nil {
		return nil, classify(err)
	}
	s.changed(ctx, sub, "plan_changed")
	return sub, nil
}

// Cancel stops renewals of the active org's subscription.
func (s *Service) Cancel(ctx context.Context) (*domain.Subscription, error) {
	caller, err := rbac.RequireOrgAdmin(ctx, s.members)
	if err != nil {
		return nil, err
	}
	sub, err := s.subscription(ctx, caller.OrgID)
	if err != nil {
		return nil, err
	}
	if sub.Status == domain.SubscriptionCancelled {
		return nil, errAlreadyCancelled
	}
	sub.Status = domain.SubscriptionCancelled
	if err := s.repo.SaveSubscription(ctx, sub); err != nil {
		return nil, apperr.Internal(err)
	}
	s.changed(ctx, sub, "cancelled")
	return sub, nil
}

// ListPayments returns the active org's payments newest first. Only org admins see billing history.
func (s *Service) ListPayments(ctx context.Context, limit, offset int) ([]*domain.Payment, error) {
	caller, err := rbac.RequireOrgAdmin(ctx, s.members)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	ps, err := s.repo.ListPayments(ctx, caller.OrgID, limit, offset)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return ps, nil
}

// MarkPayment records the outcome of a payment. A failed subscription payment puts the subscription
// past due; a later success reactivates it.
func (s *Service) MarkPayment(ctx context.Context, paymentID string, status domain.PaymentStatus) (*domain.Payment, error) {
	if _, err := rbac.RequirePlatformAdmin(ctx); err != nil {
		return nil, err
	}
	var p *domain.Payment
	var sub *domain.Subscription
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		p, err = s.repo.GetPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		if p == nil {
			return errNoPayment
		}
		if !p.CanMoveTo(status) {
			return errPaymentTransition
		}
		now := s.now()
		if err := s.repo.UpdatePaymentStatus(ctx, p.ID, status, now); err != nil {
			return err
		}
		p.Status, p.UpdatedAt = status, now
		if p.Kind != domain.PaymentSubscription {
			return nil
		}
		cur, err := s.repo.GetSubscription(ctx, p.OrgID)
		if err != nil || cur == nil {
			return err
		}
		switch {
		case status == domain.PaymentFailed && cur.Status == domain.SubscriptionActive:
			cur.Status = domain.SubscriptionPastDue
		case status == domain.PaymentSucceeded && cur.Status == domain.SubscriptionPastDue:
			cur.Status = domain.SubscriptionActive
		default:
			return nil
		}
		sub = cur
		return s.repo.SaveSubscription(ctx, cur)
	})
	if err != nil {
		return nil, classify(err)
	}
	if sub != nil {
		s.changed(ctx, sub, "status_changed")
	}
	return p, nil
}

// RenewDue advances every active subscription whose period has ended, catching up missed periods.
// Each period records a payment for paid plans and grants the plan's credits under the period's
// reference, so rerunning a period never grants twice.
func (s *Service) RenewDue(ctx context.Context, now time.Time) (int, error) {
	due, err := s.repo.ListDue(ctx, now, renewBatch)
	if err != nil {
		return 0, apperr.Internal(err)
	}
	renewed := 0
	var errs []error
	for _, sub := range due {
		if err := s.renew(ctx, sub, now); err != nil {
			s.log.Warn("subscription renewal failed", zap.String("org_id", sub.OrgID), zap.Error(err))
			errs = append(errs, fmt.Errorf("renew %s: %w", sub.OrgID, err))
			continue
		}
		renewed++
	}
	return renewed, errors.Join(errs...)
}

func (s *Service) renew(ctx context.Context, sub *domain.Subscription, now time.Time) error {
	plan, err := domain.LookupPlan(sub.Plan)
	if err != nil {
		return err
	}
	periods := 0
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		for !sub.CurrentPeriodEnd.After(now) {
			sub.CurrentPeriodStart, sub.CurrentPeriodEnd = sub.NextPeriod()
			if err := s.startPeriod(ctx, sub, plan); err != nil {
				return err
			}
			periods++
		}
		return s.repo.SaveSubscription(ctx, sub)
	})
	if err != nil {
		return err
	}
	s.audit.LogEvent(ctx, audit.Event{
		OrgID:      sub.OrgID,
		Action:     "renew",
		Resource:   "subscription",
		ResourceID: sub.OrgID,
		Metadata: map[string]any{
			"plan":         string(sub.Plan),
			"periods":      periods,
			"period_start": sub.CurrentPeriodStart.Format(time.RFC3339),
		},
	})
	s.changed(ctx, sub, "renewed")
	return nil
}

// startPeriod bills and credits the period that starts at sub.CurrentPeriodStart.
func (s *Service) startPeriod(ctx context.Context, sub *domain.Subscription, plan domain.Plan) error {
	ref := periodReference(sub.OrgID, sub.CurrentPeriodStart, plan.Name)
	if plan.Paid() {
		if _, err := s.recordPayment(ctx, sub.OrgID, domain.PaymentSubscription, ref, plan.PriceCents, domain.Currency); err != nil {
			return err
		}
	}
	if plan.MonthlyCredits > 0 && s.credits != nil {
		if _, err := s.credits.Grant(ctx, sub.OrgID, plan.MonthlyCredits, creditsdomain.ReasonGrant, ref); err != nil {
			return err
		}
	}
	return nil
}

// periodReference is "period:<org>:<period-start>:<plan>".
func periodReference(orgID string, start time.Time, plan domain.PlanName) string {
	return "period:" + orgID + ":" + start.UTC().Format(time.RFC3339) + ":" + string(plan)
}

// RecordServicePayment creates the pending payment a hospital owes for a completed service request.
// It is idempotent on the request id.
func (s *Service) RecordServicePayment(ctx context.Context, hospitalOrgID, requestID string, amountCents int64, currency string) (*domain.Payment, error) {
	if amountCents <= 0 {
		return nil, errBadAmount
	}
	if currency == "" {
		currency = domain.Currency
	}
	p, err := s.recordPayment(ctx, hospitalOrgID, domain.PaymentService, requestID, amountCents, currency)
	if err != nil {
		return nil, classify(err)
	}
	return p, nil
}

// RefundServicePayment marks the service payment of requestID refunded. Refunding twice is a no-op.
func (s *Service) RefundServicePayment(ctx context.Context, hospitalOrgID, requestID string) (*domain.Payment, error) {
	p, err := s.repo.GetPaymentByReference(ctx, hospitalOrgID, domain.PaymentService, requestID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if p == nil {
		return nil, errNoPayment
	}
	if p.Status == domain.PaymentRefunded {
		return p, nil
	}
	now := s.now()
	if err := s.repo.UpdatePaymentStatus(ctx, p.ID, domain.PaymentRefunded, now); err != nil {
		return nil, apperr.Internal(err)
	}
	p.Status, p.UpdatedAt = domain.PaymentRefunded, now
	return p, nil
}

func (s *Service) recordPayment(ctx context.Context, orgID string, kind domain.PaymentKind, ref string, amount int64, currency string) (*domain.Payment, error) {
	existing, err := s.repo.GetPaymentByReference(ctx, orgID, kind, ref)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	now := s.now()
	p := &domain.Payment{
		ID:          uuid.New().String(),
		OrgID:       orgID,
		Kind:        kind,
		Reference:   ref,
		AmountCents: amount,
		Currency:    currency,
		Status:      domain.PaymentPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.CreatePayment(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) subscription(ctx context.Context, orgID string) (*domain.Subscription, error) {
	sub, err := s.repo.GetSubscription(ctx, orgID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if sub == nil {
		return nil, errNoSubscription
	}
	return sub, nil
}

func (s *Service) changed(ctx context.Context, sub *domain.Subscription, change string) {
	s.publisher.Publish(ctx, events.New(events.SubscriptionChanged, sub.OrgID, map[string]any{
		"change":     change,
		"plan":       string(sub.Plan),
		"status":     string(sub.Status),
		"period_end": sub.CurrentPeriodEnd.Format(time.RFC3339),
	}, sub.OrgID))
}

func classify(err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	return apperr.Internal(err)
}
