// Package service brokers service requests between hospitals and providers.
//
// Hospitals open requests against their equipment, providers quote, the hospital accepts one quote and
// the chosen provider starts and completes the work. Every status change goes through the domain status
// machine and a conditional update, so two concurrent writers cannot both move the same request.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"medilink/internal/audit"
	billingdomain "medilink/internal/billing/domain"
	"medilink/internal/db"
	equipmentdomain "medilink/internal/equipment/domain"
	"medilink/internal/events"
	"medilink/internal/platform/apperr"
	"medilink/internal/platform/authctx"
	"medilink/internal/platform/rbac"
	"medilink/internal/servicerequest/domain"
	"medilink/internal/servicerequest/repository"
)

const (
	orgHospital = "hospital"
	orgProvider = "provider"
)

// EquipmentStore is the part of the equipment repository the service drives.
type EquipmentStore interface {
	GetByID(ctx context.Context, id string) (*equipmentdomain.Equipment, error)
	SetStatus(ctx context.Context, id string, status equipmentdomain.Status, lastServicedAt *time.Time, at time.Time) error
}

// PaymentRecorder records what a hospital owes for completed work.
type PaymentRecorder interface {
	RecordServicePayment(ctx context.Context, hospitalOrgID, requestID string, amountCents int64, currency string) (*billingdomain.Payment, error)
}

var (
	errNotFound      = apperr.NotFound("Service request not found.", "サービスリクエストが見つかりません。")
	errQuoteNotFound = apperr.NotFound("Quote not found.", "見積もりが見つかりません。")
	errEquipment     = apperr.NotFound("Equipment not found.", "機器が見つかりません。")
	errRetired       = apperr.New(apperr.KindFailedPrecondition,
		"Retired equipment cannot receive service requests.", "廃棄済みの機器にはサービスリクエストを作成できません。")
	errTransition = apperr.Wrap(domain.ErrInvalidTransition, apperr.KindFailedPrecondition,
		"This action is not allowed in the request's current status.", "現在のステータスではこの操作はできません。")
	errDupQuote = apperr.New(apperr.KindConflict,
		"Your organization already has a live quote for this request.", "この組織はすでにこのリクエストに有効な見積もりを提出しています。")
	errQuoteState = apperr.New(apperr.KindFailedPrecondition,
		"This quote is no longer open.", "この見積もりはすでに受付を終了しています。")
	errQuoteExpired = apperr.New(apperr.KindFailedPrecondition,
		"This quote has expired.", "この見積もりは有効期限切れです。")
	errNotAssigned = apperr.PermissionDenied(
		"Only the assigned provider can do this.", "この操作は担当プロバイダーのみ実行できます。")
)

// CreateInput is a new service request.
type CreateInput struct {
	EquipmentID string
	Title       string
	Description string
	Priority    domain.Priority
}

// QuoteInput is a provider's offer.
type QuoteInput struct {
	AmountCents int64
	Currency    string
	Notes       string
	ValidUntil  *time.Time
}

// Service is the service request service.
type Service struct {
	repo      repository.Repository
	equipment EquipmentStore
	payments  PaymentRecorder
	members   rbac.OrgMembershipGetter
	tx        db.TxRunner
	publisher events.Publisher
	audit     audit.AuditLogger
	now       func() time.Time
}

// NewService returns a service request service.
func NewService(repo repository.Repository, equipment EquipmentStore, payments PaymentRecorder, members rbac.OrgMembershipGetter, tx db.TxRunner, publisher events.Publisher, auditLogger audit.AuditLogger) *Service {
	if auditLogger == nil {
		auditLogger = audit.Nop{}
	}
	return &Service{
		repo:      repo,
		equipment: equipment,
		payments:  payments,
		members:   members,
		tx:        tx,
		publisher: events.OrNop(publisher),
		audit:     auditLogger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Create opens a request for the caller's hospital and flags the equipment as needing service.
func (s *Service) Create(ctx context.Context, in CreateInput) (*domain.ServiceRequest, error) {
	caller, err := rbac.RequireOrgType(ctx, s.members, orgHospital)
	if err != nil {
		return nil, err
	}
	now := s.now()
	sr := &domain.ServiceRequest{
		ID:            uuid.New().String(),
		HospitalOrgID: caller.OrgID,
		EquipmentID:   in.EquipmentID,
		Title:         in.Title,
		Description:   in.Description,
		Priority:      in.Priority,
		Status:        domain.StatusOpen,
		CreatedBy:     caller.UserID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := sr.Validate(); err != nil {
		return nil, apperr.Wrap(err, apperr.KindInvalid, "Service request is invalid: "+err.Error(), "サービスリクエストの入力内容が不正です。")
	}
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		eq, err := s.equipment.GetByID(ctx, sr.EquipmentID)
		if err != nil {
			return err
		}
		if eq == nil || eq.OrgID != caller.OrgID {
			return errEquipment
		}
		if !eq.Serviceable() {
			return errRetired
		}
		if err := s.repo.Create(ctx, sr); err != nil {
			return err
		}
		if eq.Status == equipmentdomain.StatusOperational {
			return s.equipment.SetStatus(ctx, eq.ID, equipmentdomain.StatusNeedsService, nil, now)
		}
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	s.publisher.Publish(ctx, events.New(events.ServiceRequestCreated, sr.ID, map[string]any{
		"title":    sr.Title,
		"priority": string(sr.Priority),
	}, sr.HospitalOrgID))
	return sr, nil
}

// Get returns a request visible to the caller: its hospital, a provider that quoted or was assigned,
// any provider while it is still open for quotes, or a platform admin.
func (s *Service) Get(ctx context.Context, id string) (*domain.ServiceRequest, error) {
	id0, err := rbac.RequireUser(ctx)
	if err != nil {
		return nil, err
	}
	sr, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if id0.PlatformAdmin {
		return sr, nil
	}
	caller, err := rbac.RequireOrgMember(ctx, s.members)
	if err != nil {
		return nil, err
	}
	ok, err := s.visible(ctx, caller, sr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errNotFound
	}
	return sr, nil
}

func (s *Service) visible(ctx context.Context, caller rbac.Caller, sr *domain.ServiceRequest) (bool, error) {
	switch caller.OrgType {
	case orgHospital:
		return sr.HospitalOrgID == caller.OrgID, nil
	case orgProvider:
		if sr.ProviderOrgID == caller.OrgID || sr.Status == domain.StatusOpen || sr.Status == domain.StatusQuoted {
			return true, nil
		}
		quotes, err := s.repo.ListQuotes(ctx, sr.ID)
		if err != nil {
			return false, apperr.Internal(err)
		}
		for _, q := range quotes {
			if q.ProviderOrgID == caller.OrgID {
				return true, nil
			}
		}
	}
	return false, nil
}

// ListForHospital returns the caller hospital's requests, newest first.
func (s *Service) ListForHospital(ctx context.Context, status domain.Status, limit, offset int) ([]*domain.ServiceRequest, error) {
	caller, err := rbac.RequireOrgType(ctx, s.members, orgHospital)
	if err != nil {
		return nil, err
	}
	if status != "" && !status.Valid() {
		return nil, apperr.Invalid("Unknown status.", "不明なステータスです。")
	}
	limit, offset = page(limit, offset)
	list, err := s.repo.ListByHospital(ctx, caller.OrgID, status, limit, offset)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return list, nil
}

// ListOpenForProviders returns requests still accepting quotes.
func (s *Service) ListOpenForProviders(ctx context.Context, limit, offset int) ([]*domain.ServiceRequest, error) {
	if _, err := rbac.RequireOrgType(ctx, s.members, orgProvider); err != nil {
		return nil, err
	}
	limit, offset = page(limit, offset)
	list, err := s.repo.ListOpen(ctx, limit, offset)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return list, nil
}

// ListAssigned returns requests assigned to the caller's provider org.
func (s *Service) ListAssigned(ctx context.Context, limit, offset int) ([]*domain.ServiceRequest, error) {
	caller, err := rbac.RequireOrgType(ctx, s.members, orgProvider)
	if err != nil {
		return nil, err
	}
	limit, offset = page(limit, offset)
	list, err := s.repo.ListByProvider(ctx, caller.OrgID, limit, offset)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return list, nil
}

// ListQuotes returns every quote to the hospital and only its own quotes to a provider.
func (s *Service) ListQuotes(ctx context.Context, requestID string) ([]*domain.Quote, error) {
	sr, err := s.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	quotes, err := s.repo.ListQuotes(ctx, sr.ID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	id, _ := authctx.From(ctx)
	if id.PlatformAdmin || id.OrgID == sr.HospitalOrgID {
		return quotes, nil
	}
	own := quotes[:0:0]
	for _, q := range quotes {
		if q.ProviderOrgID == id.OrgID {
			own = append(own, q)
		}
	}
	return own, nil
}

// SubmitQuote records the caller provider's offer. The first quote moves the request to quoted.
func (s *Service) SubmitQuote(ctx context.Context, requestID string, in QuoteInput) (*domain.Quote, error) {
	caller, err := rbac.RequireOrgType(ctx, s.members, orgProvider)
	if err != nil {
		return nil, err
	}
	now := s.now()
	q := &domain.Quote{
		ID:            uuid.New().String(),
		RequestID:     requestID,
		ProviderOrgID: caller.OrgID,
		AmountCents:   in.AmountCents,
		Currency:      in.Currency,
		Notes:         in.Notes,
		Status:        domain.QuoteSubmitted,
		ValidUntil:    in.ValidUntil,
		CreatedAt:     now,
	}
	if err := q.Validate(); err != nil {
		return nil, apperr.Wrap(err, apperr.KindInvalid, "Quote is invalid: "+err.Error(), "見積もりの入力内容が不正です。")
	}
	if q.Expired(now) {
		return nil, apperr.Invalid("Quote validity must be in the future.", "見積もりの有効期限は未来の日時である必要があります。")
	}
	var sr *domain.ServiceRequest
	var from domain.Status
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		sr, err = s.load(ctx, requestID)
		if err != nil {
			return err
		}
		from = sr.Status
		switch sr.Status {
		case domain.StatusOpen:
			if err := s.move(ctx, sr, domain.StatusQuoted, now); err != nil {
				return err
			}
		case domain.StatusQuoted:
		default:
			return errTransition
		}
		if err := s.repo.CreateQuote(ctx, q); err != nil {
			if db.IsUniqueViolation(err) {
				return errDupQuote
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	s.publisher.Publish(ctx, events.New(events.QuoteSubmitted, sr.ID, map[string]any{
		"quote_id":     q.ID,
		"amount_cents": q.AmountCents,
		"currency":     q.Currency,
	}, sr.HospitalOrgID, q.ProviderOrgID))
	if from != sr.Status {
		s.statusChanged(ctx, sr, from)
	}
	return q, nil
}

// WithdrawQuote withdraws the caller provider's submitted quote. The request stays quoted.
func (s *Service) WithdrawQuote(ctx context.Context, quoteID string) (*domain.Quote, error) {
	caller, err := rbac.RequireOrgType(ctx, s.members, orgProvider)
	if err != nil {
		return nil, err
	}
	q, err := s.repo.GetQuote(ctx, quoteID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if q == nil || q.ProviderOrgID != caller.OrgID {
		return nil, errQuoteNotFound
	}
	if q.Status != domain.QuoteSubmitted {
		return nil, errQuoteState
	}
	ok, err := s.repo.UpdateQuoteStatus(ctx, q.ID, domain.QuoteSubmitted, domain.QuoteWithdrawn)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if !ok {
		return nil, errQuoteState
	}
	q.Status = domain.QuoteWithdrawn
	return q, nil
}

// AcceptQuote accepts one quote, rejects the others and assigns the quoting provider.
func (s *Service) AcceptQuote(ctx context.Context, requestID, quoteID string) (*domain.ServiceRequest, error) {
	caller, err := rbac.RequireOrgType(ctx, s.members, orgHospital)
	if err != nil {
		return nil, err
	}
	now := s.now()
	var sr *domain.ServiceRequest
	var q *domain.Quote
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if sr, err = s.ownedByHospital(ctx, caller.OrgID, requestID); err != nil {
			return err
		}
		if q, err = s.repo.GetQuote(ctx, quoteID); err != nil {
			return err
		}
		if q == nil || q.RequestID != sr.ID {
			return errQuoteNotFound
		}
		if q.Status != domain.QuoteSubmitted {
			return errQuoteState
		}
		if q.Expired(now) {
			return errQuoteExpired
		}
		ok, err := s.repo.UpdateQuoteStatus(ctx, q.ID, domain.QuoteSubmitted, domain.QuoteAccepted)
		if err != nil {
			return err
		}
		if !ok {
			return errQuoteState
		}
		sr.ProviderOrgID, sr.AcceptedQuoteID = q.ProviderOrgID, q.ID
		if err := s.move(ctx, sr, domain.StatusAccepted, now); err != nil {
			return err
		}
		return s.repo.RejectOtherQuotes(ctx, sr.ID, q.ID)
	})
	if err != nil {
		return nil, classify(err)
	}
	s.publisher.Publish(ctx, events.New(events.QuoteAccepted, sr.ID, map[string]any{
		"quote_id": q.ID,
	}, sr.HospitalOrgID, sr.ProviderOrgID))
	s.statusChanged(ctx, sr, domain.StatusQuoted)
	return sr, nil
}

// Start begins the work. Only the assigned provider may start it.
func (s *Service) Start(ctx context.Context, requestID string) (*domain.ServiceRequest, error) {
	return s.providerStep(ctx, requestID, domain.StatusInProgress, func(ctx context.Context, sr *domain.ServiceRequest, now time.Time) error {
		return s.equipment.SetStatus(ctx, sr.EquipmentID, equipmentdomain.StatusUnderService, nil, now)
	})
}

// Complete finishes the work: the equipment is operational again and the hospital owes the accepted quote.
func (s *Service) Complete(ctx context.Context, requestID string) (*domain.ServiceRequest, error) {
	return s.providerStep(ctx, requestID, domain.StatusCompleted, func(ctx context.Context, sr *domain.ServiceRequest, now time.Time) error {
		if err := s.equipment.SetStatus(ctx, sr.EquipmentID, equipmentdomain.StatusOperational, &now, now); err != nil {
			return err
		}
		q, err := s.repo.GetQuote(ctx, sr.AcceptedQuoteID)
		if err != nil {
			return err
		}
		if q == nil || s.payments == nil {
			return nil
		}
		_, err = s.payments.RecordServicePayment(ctx, sr.HospitalOrgID, sr.ID, q.AmountCents, q.Currency)
		return err
	})
}

func (s *Service) providerStep(ctx context.Context, requestID string, to domain.Status, effect func(context.Context, *domain.ServiceRequest, time.Time) error) (*domain.ServiceRequest, error) {
	caller, err := rbac.RequireOrgType(ctx, s.members, orgProvider)
	if err != nil {
		return nil, err
	}
	now := s.now()
	var sr *domain.ServiceRequest
	var from domain.Status
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if sr, err = s.load(ctx, requestID); err != nil {
			return err
		}
		if sr.ProviderOrgID != caller.OrgID {
			return errNotAssigned
		}
		from = sr.Status
		if err := s.move(ctx, sr, to, now); err != nil {
			return err
		}
		return effect(ctx, sr, now)
	})
	if err != nil {
		return nil, classify(err)
	}
	s.statusChanged(ctx, sr, from)
	return sr, nil
}

// Cancel withdraws a request that work has not started on. Equipment flagged by it returns to operational
// unless another request is still active for it.
func (s *Service) Cancel(ctx context.Context, requestID string) (*domain.ServiceRequest, error) {
	caller, err := rbac.RequireOrgType(ctx, s.members, orgHospital)
	if err != nil {
		return nil, err
	}
	now := s.now()
	var sr *domain.ServiceRequest
	var from domain.Status
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if sr, err = s.ownedByHospital(ctx, caller.OrgID, requestID); err != nil {
			return err
		}
		from = sr.Status
		if err := s.move(ctx, sr, domain.StatusCancelled, now); err != nil {
			return err
		}
		if err := s.repo.RejectOtherQuotes(ctx, sr.ID, ""); err != nil {
			return err
		}
		busy, err := s.repo.HasActiveForEquipment(ctx, sr.EquipmentID, sr.ID)
		if err != nil || busy {
			return err
		}
		eq, err := s.equipment.GetByID(ctx, sr.EquipmentID)
		if err != nil || eq == nil || eq.Status != equipmentdomain.StatusNeedsService {
			return err
		}
		return s.equipment.SetStatus(ctx, eq.ID, equipmentdomain.StatusOperational, nil, now)
	})
	if err != nil {
		return nil, classify(err)
	}
	s.statusChanged(ctx, sr, from)
	return sr, nil
}

// MarkDisputed moves a completed request to disputed. The dispute service authorizes the caller.
func (s *Service) MarkDisputed(ctx context.Context, requestID string) (*domain.ServiceRequest, error) {
	return s.system(ctx, requestID, domain.StatusDisputed)
}

// SettleDispute closes a disputed request: refunded when the hospital won, completed otherwise.
func (s *Service) SettleDispute(ctx context.Context, requestID string, refund bool) (*domain.ServiceRequest, error) {
	to := domain.StatusCompleted
	if refund {
		to = domain.StatusRefunded
	}
	return s.system(ctx, requestID, to)
}

func (s *Service) system(ctx context.Context, requestID string, to domain.Status) (*domain.ServiceRequest, error) {
	var sr *domain.ServiceRequest
	var from domain.Status
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if sr, err = s.load(ctx, requestID); err != nil {
			return err
		}
		from = sr.Status
		return s.move(ctx, sr, to, s.now())
	})
	if err != nil {
		return nil, classify(err)
	}
	s.statusChanged(ctx, sr, from)
	return sr, nil
}

// move applies the transition and persists it only if nobody moved the request meanwhile.
func (s *Service) move(ctx context.Context, sr *domain.ServiceRequest, to domain.Status, now time.Time) error {
	from := sr.Status
	if err := sr.Transition(to, now); err != nil {
		return errTransition
	}
	ok, err := s.repo.Update(ctx, sr, from)
	if err != nil {
		return err
	}
	if !ok {
		return errTransition
	}
	return nil
}

func (s *Service) statusChanged(ctx context.Context, sr *domain.ServiceRequest, from domain.Status) {
	s.publisher.Publish(ctx, events.New(events.ServiceRequestStatusChanged, sr.ID, map[string]any{
		"from": string(from),
		"to":   string(sr.Status),
	}, sr.HospitalOrgID, sr.ProviderOrgID))
	userID, _ := authctx.GetUserID(ctx)
	s.audit.LogEvent(ctx, audit.Event{
		OrgID:      sr.HospitalOrgID,
		UserID:     userID,
		Action:     "status_changed",
		Resource:   "service_request",
		ResourceID: sr.ID,
		Metadata:   map[string]any{"from": string(from), "to": string(sr.Status), "provider_org_id": sr.ProviderOrgID},
	})
}

func (s *Service) load(ctx context.Context, id string) (*domain.ServiceRequest, error) {
	sr, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if sr == nil {
		return nil, errNotFound
	}
	return sr, nil
}

func (s *Service) ownedByHospital(ctx context.Context, orgID, id string) (*domain.ServiceRequest, error) {
	sr, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if sr.HospitalOrgID != orgID {
		return nil, errNotFound
	}
	return sr, nil
}

func page(limit, offset int) (int, int) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func classify(err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	return apperr.Internal(err)
}
