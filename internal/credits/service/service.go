// Package service implements the AI credit guard and its ledger.
//
// Balances only move through a single conditional UPDATE followed by a ledger insert in the same
// transaction. A consumption or refund is idempotent on its reference: replaying one returns the
// original ledger entry and charges nothing.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"medilink/internal/audit"
	"medilink/internal/audit/query"
	"medilink/internal/credits/domain"
	"medilink/internal/credits/repository"
	"medilink/internal/db"
	"medilink/internal/events"
	"medilink/internal/platform/apperr"
	"medilink/internal/platform/rbac"
)

var (
	errInsufficient = apperr.Wrap(domain.ErrInsufficientCredits, apperr.KindInsufficientCredits,
		"Not enough AI credits. Upgrade your plan or ask an administrator for more.",
		"AIクレジットが不足しています。プランをアップグレードするか管理者に追加を依頼してください。")
	errUnknownFeature = apperr.Wrap(domain.ErrUnknownFeature, apperr.KindInvalid,
		"Unknown AI feature.", "不明なAI機能です。")
	errNoAccount     = apperr.NotFound("Credit account not found.", "クレジットアカウントが見つかりません。")
	errNoConsumption = apperr.NotFound("No credit consumption with this reference.",
		"この参照のクレジット消費が見つかりません。")
	errBadAmount = apperr.Invalid("Amount must be positive.", "数量は正の値である必要があります。")
	errBadReason = apperr.Invalid("Reason must be grant or adjust.", "理由は grant または adjust である必要があります。")
	errBadToken  = apperr.Invalid("Invalid page token.", "ページトークンが不正です。")
)

// Balance is the caller-facing view of an account.
type Balance struct {
	Account  *domain.Account
	Features map[domain.Feature]int64
}

// TransactionPage is one page of the ledger, newest first.
type TransactionPage struct {
	Transactions  []*domain.Transaction
	NextPageToken string
}

// Service is the credits service.
type Service struct {
	repo      repository.Repository
	members   rbac.OrgMembershipGetter
	tx        db.TxRunner
	publisher events.Publisher
	audit     audit.AuditLogger
	now       func() time.Time
}

// NewService returns a credits service.
func NewService(repo repository.Repository, members rbac.OrgMembershipGetter, tx db.TxRunner, publisher events.Publisher, auditLogger audit.AuditLogger) *Service {
	if auditLogger == nil {
		auditLogger = audit.Nop{}
	}
	return &Service{
		repo:      repo,
		members:   members,
		tx:        tx,
		publisher: events.OrNop(publisher),
		audit:     auditLogger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// OpenAccount creates the org's zero-balance account. It joins the caller's transaction when there is one.
func (s *Service) OpenAccount(ctx context.Context, orgID string) error {
	if err := s.repo.OpenAccount(ctx, orgID, s.now()); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

// Balance returns the active org's account and the feature price list.
func (s *Service) Balance(ctx context.Context) (*Balance, error) {
	caller, err := rbac.RequireOrgMember(ctx, s.members)
	if err != nil {
		return nil, err
	}
	a, err := s.account(ctx, caller.OrgID)
	if err != nil {
		return nil, err
	}
	return &Balance{Account: a, Features: domain.Features()}, nil
}

// Guard fails with an insufficient-credits error when the active org cannot cover required credits.
// It does not reserve anything; Consume re-checks atomically.
func (s *Service) Guard(ctx context.Context, required int64) (*domain.Account, error) {
	caller, err := rbac.RequireOrgMember(ctx, s.members)
	if err != nil {
		return nil, err
	}
	if required < 0 {
		return nil, errBadAmount
	}
	a, err := s.account(ctx, caller.OrgID)
	if err != nil {
		return nil, err
	}
	if a.Balance < required {
		return a, errInsufficient
	}
	return a, nil
}

// GuardFeature is Guard with the price of feature.
func (s *Service) GuardFeature(ctx context.Context, feature domain.Feature) (*domain.Account, error) {
	cost, err := domain.Cost(feature)
	if err != nil {
		return nil, errUnknownFeature
	}
	return s.Guard(ctx, cost)
}

// Consume charges the active org for one use of feature. replayed is true when reference was
// already charged and the original entry is returned instead.
func (s *Service) Consume(ctx context.Context, feature domain.Feature, reference string) (t *domain.Transaction, replayed bool, err error) {
	caller, err := rbac.RequireOrgMember(ctx, s.members)
	if err != nil {
		return nil, false, err
	}
	cost, err := domain.Cost(feature)
	if err != nil {
		return nil, false, errUnknownFeature
	}
	if reference == "" {
		reference = uuid.New().String()
	}
	orgID := caller.OrgID

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		prior, err := s.repo.GetTransactionByReference(ctx, orgID, domain.ReasonConsume, reference)
		if err != nil {
			return err
		}
		if prior != nil {
			t, replayed = prior, true
			return nil
		}
		now := s.now()
		balance, ok, err := s.repo.Debit(ctx, orgID, cost, now)
		if err != nil {
			return err
		}
		if !ok {
			a, err := s.repo.GetAccount(ctx, orgID)
			if err != nil {
				return err
			}
			if a == nil {
				return errNoAccount
			}
			return errInsufficient
		}
		t = &domain.Transaction{
			ID:           uuid.New().String(),
			OrgID:        orgID,
			Delta:        -cost,
			Reason:       domain.ReasonConsume,
			Feature:      feature,
			Reference:    reference,
			BalanceAfter: balance,
			CreatedAt:    now,
		}
		return s.repo.InsertTransaction(ctx, t)
	})
	if db.IsUniqueViolation(err) {
		// A concurrent consumer with the same reference won; its debit stands and ours rolled back.
		prior, gerr := s.repo.GetTransactionByReference(ctx, orgID, domain.ReasonConsume, reference)
		if gerr != nil || prior == nil {
			return nil, false, apperr.Internal(errors.Join(err, gerr))
		}
		return prior, true, nil
	}
	if err != nil {
		return nil, false, classify(err)
	}
	if !replayed {
		s.changed(ctx, t)
	}
	return t, replayed, nil
}

// Grant adds credits to orgID without an authorization check. Billing uses it for plan credits.
// A non-empty reference makes the grant idempotent.
func (s *Service) Grant(ctx context.Context, orgID string, amount int64, reason domain.Reason, reference string) (*domain.Transaction, error) {
	if amount <= 0 {
		return nil, errBadAmount
	}
	if reason == "" {
		reason = domain.ReasonGrant
	}
	if reason != domain.ReasonGrant && reason != domain.ReasonAdjust {
		return nil, errBadReason
	}
	if reference == "" {
		reference = uuid.New().String()
	}
	t, fresh, err := s.credit(ctx, orgID, amount, reason, "", reference)
	if err != nil {
		return nil, err
	}
	if fresh {
		s.changed(ctx, t)
		s.audit.LogEvent(ctx, audit.Event{
			OrgID:      orgID,
			Action:     "grant",
			Resource:   "credits",
			ResourceID: t.ID,
			Metadata:   map[string]any{"amount": amount, "reason": string(reason), "reference": reference},
		})
	}
	return t, nil
}

// AdminGrant is Grant restricted to platform admins.
func (s *Service) AdminGrant(ctx context.Context, orgID string, amount int64, reason domain.Reason, reference string) (*domain.Transaction, error) {
	if _, err := rbac.RequirePlatformAdmin(ctx); err != nil {
		return nil, err
	}
	return s.Grant(ctx, orgID, amount, reason, reference)
}

// Refund returns the credits of the consumption recorded under reference. A consumption is refunded at most
// once; refunding it again returns the first refund.
func (s *Service) Refund(ctx context.Context, orgID, reference string) (*domain.Transaction, error) {
	consumed, err := s.repo.GetTransactionByReference(ctx, orgID, domain.ReasonConsume, reference)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if consumed == nil {
		return nil, errNoConsumption
	}
	t, fresh, err := s.credit(ctx, orgID, -consumed.Delta, domain.ReasonRefund, consumed.Feature, reference)
	if err != nil {
		return nil, err
	}
	if fresh {
		s.changed(ctx, t)
	}
	return t, nil
}

// AdminRefund is Refund restricted to platform admins.
func (s *Service) AdminRefund(ctx context.Context, orgID, reference string) (*domain.Transaction, error) {
	if _, err := rbac.RequirePlatformAdmin(ctx); err != nil {
		return nil, err
	}
	return s.Refund(ctx, orgID, reference)
}

// ListTransactions pages the active org's ledger, newest first.
func (s *Service) ListTransactions(ctx context.Context, pageSize int, pageToken string) (*TransactionPage, error) {
	caller, err := rbac.RequireOrgMember(ctx, s.members)
	if err != nil {
		return nil, err
	}
	order := query.Order{Desc: true}
	var before int64
	if pageToken != "" {
		c, err := query.Decode(pageToken)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.KindInvalid, errBadToken.EN, errBadToken.JA)
		}
		if err := c.Validate(order, ""); err != nil {
			return nil, apperr.Wrap(err, apperr.KindInvalid, errBadToken.EN, errBadToken.JA)
		}
		before = c.Seq
	}
	size := query.ClampPageSize(pageSize)
	rows, err := s.repo.ListTransactions(ctx, caller.OrgID, before, size+1)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	page := &TransactionPage{Transactions: rows}
	if len(rows) > size {
		page.Transactions = rows[:size]
		token, err := query.Encode(query.NewCursor(rows[size-1].Seq, order, ""))
		if err != nil {
			return nil, apperr.Internal(err)
		}
		page.NextPageToken = token
	}
	return page, nil
}

// credit adds amount under (reason, reference) once. fresh is false when the entry already existed.
func (s *Service) credit(ctx context.Context, orgID string, amount int64, reason domain.Reason, feature domain.Feature, reference string) (t *domain.Transaction, fresh bool, err error) {
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		prior, err := s.repo.GetTransactionByReference(ctx, orgID, reason, reference)
		if err != nil {
			return err
		}
		if prior != nil {
			t = prior
			return nil
		}
		now := s.now()
		balance, ok, err := s.repo.Credit(ctx, orgID, amount, reason, now)
		if err != nil {
			return err
		}
		if !ok {
			return errNoAccount
		}
		t = &domain.Transaction{
			ID:           uuid.New().String(),
			OrgID:        orgID,
			Delta:        amount,
			Reason:       reason,
			Feature:      feature,
			Reference:    reference,
			BalanceAfter: balance,
			CreatedAt:    now,
		}
		fresh = true
		return s.repo.InsertTransaction(ctx, t)
	})
	if db.IsUniqueViolation(err) {
		prior, gerr := s.repo.GetTransactionByReference(ctx, orgID, reason, reference)
		if gerr != nil || prior == nil {
			return nil, false, apperr.Internal(errors.Join(err, gerr))
		}
		return prior, false, nil
	}
	if err != nil {
		return nil, false, classify(err)
	}
	return t, fresh, nil
}

func (s *Service) account(ctx context.Context, orgID string) (*domain.Account, error) {
	a, err := s.repo.GetAccount(ctx, orgID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if a == nil {
		return nil, errNoAccount
	}
	return a, nil
}

func (s *Service) changed(ctx context.Context, t *domain.Transaction) {
	s.publisher.Publish(ctx, events.New(events.CreditsChanged, t.ID, map[string]any{
		"delta":   t.Delta,
		"reason":  string(t.Reason),
		"feature": string(t.Feature),
		"balance": t.BalanceAfter,
	}, t.OrgID))
}

// classify passes classified errors through and wraps the rest as internal.
func classify(err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	return apperr.Internal(err)
}
