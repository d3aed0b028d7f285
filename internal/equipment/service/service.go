// Package service implements the equipment registry of hospital organizations.
package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"medilink/internal/db"
	"medilink/internal/equipment/domain"
	"medilink/internal/equipment/repository"
	"medilink/internal/platform/apperr"
	"medilink/internal/platform/rbac"
)

var (
	errNotFound  = apperr.NotFound("Equipment not found.", "機器が見つかりません。")
	errDupSerial = apperr.New(apperr.KindConflict,
		"Equipment with this serial number already exists.", "このシリアル番号の機器はすでに登録されています。")
	errRetired = apperr.New(apperr.KindFailedPrecondition,
		"Retired equipment cannot be changed.", "廃棄済みの機器は変更できません。")
	errInService = apperr.New(apperr.KindFailedPrecondition,
		"Equipment under service cannot be retired.", "サービス中の機器は廃棄できません。")
	errBadStatus = apperr.Invalid("Unknown equipment status.", "不明な機器ステータスです。")
)

// Input carries the caller-editable fields. Nil pointers are left unchanged by Update.
type Input struct {
	Name         *string
	Category     *string
	Manufacturer *string
	Model        *string
	SerialNumber *string
	Location     *string
	PurchasedAt  *time.Time
}

// Service is the equipment service.
type Service struct {
	repo    repository.Repository
	members rbac.OrgMembershipGetter
	now     func() time.Time
}

// NewService returns an equipment service.
func NewService(repo repository.Repository, members rbac.OrgMembershipGetter) *Service {
	return &Service{repo: repo, members: members, now: func() time.Time { return time.Now().UTC() }}
}

// Create registers equipment for the caller's hospital.
func (s *Service) Create(ctx context.Context, in Input) (*domain.Equipment, error) {
	caller, err := rbac.RequireOrgType(ctx, s.members, "hospital")
	if err != nil {
		return nil, err
	}
	now := s.now()
	e := &domain.Equipment{ID: uuid.New().String(), OrgID: caller.OrgID, CreatedAt: now, UpdatedAt: now}
	apply(e, in)
	if err := e.Validate(); err != nil {
		return nil, apperr.Wrap(err, apperr.KindInvalid, "Equipment is invalid: "+err.Error(), "機器の入力内容が不正です。")
	}
	if err := s.repo.Create(ctx, e); err != nil {
		if db.IsUniqueViolation(err) {
			return nil, errDupSerial
		}
		return nil, apperr.Internal(err)
	}
	return e, nil
}

// Get returns equipment owned by the caller's hospital.
func (s *Service) Get(ctx context.Context, id string) (*domain.Equipment, error) {
	caller, err := rbac.RequireOrgType(ctx, s.members, "hospital")
	if err != nil {
		return nil, err
	}
	return s.owned(ctx, caller.OrgID, id)
}

// List returns the caller's equipment, optionally narrowed by status and category.
func (s *Service) List(ctx context.Context, status domain.Status, category string) ([]*domain.Equipment, error) {
	caller, err := rbac.RequireOrgType(ctx, s.members, "hospital")
	if err != nil {
		return nil, err
	}
	if status != "" && !status.Valid() {
		return nil, errBadStatus
	}
	list, err := s.repo.List(ctx, caller.OrgID, repository.Filter{Status: status, Category: strings.TrimSpace(category)})
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return list, nil
}

// Update changes the descriptive fields of equipment. Status only moves through service requests and Retire.
func (s *Service) Update(ctx context.Context, id string, in Input) (*domain.Equipment, error) {
	caller, err := rbac.RequireOrgType(ctx, s.members, "hospital")
	if err != nil {
		return nil, err
	}
	e, err := s.owned(ctx, caller.OrgID, id)
	if err != nil {
		return nil, err
	}
	if e.Status == domain.StatusRetired {
		return nil, errRetired
	}
	apply(e, in)
	if err := e.Validate(); err != nil {
		return nil, apperr.Wrap(err, apperr.KindInvalid, "Equipment is invalid: "+err.Error(), "機器の入力内容が不正です。")
	}
	e.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, e); err != nil {
		if db.IsUniqueViolation(err) {
			return nil, errDupSerial
		}
		return nil, apperr.Internal(err)
	}
	return e, nil
}

// Retire takes equipment out of use. Retiring twice is a no-op.
func (s *Service) Retire(ctx context.Context, id string) (*domain.Equipment, error) {
	caller, err := rbac.RequireOrgType(ctx, s.members, "hospital")
	if err != nil {
		return nil, err
	}
	e, err := s.owned(ctx, caller.OrgID, id)
	if err != nil {
		return nil, err
	}
	switch e.Status {
	case domain.StatusRetired:
		return e, nil
	case domain.StatusUnderService:
		return nil, errInService
	}
	e.Status, e.UpdatedAt = domain.StatusRetired, s.now()
	if err := s.repo.SetStatus(ctx, e.ID, e.Status, nil, e.UpdatedAt); err != nil {
		return nil, apperr.Internal(err)
	}
	return e, nil
}

func (s *Service) owned(ctx context.Context, orgID, id string) (*domain.Equipment, error) {
	e, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if e == nil || e.OrgID != orgID {
		return nil, errNotFound
	}
	return e, nil
}

func apply(e *domain.Equipment, in Input) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	set(&e.Name, in.Name)
	set(&e.Category, in.Category)
	set(&e.Manufacturer, in.Manufacturer)
	set(&e.Model, in.Model)
	set(&e.SerialNumber, in.SerialNumber)
	set(&e.Location, in.Location)
	if in.PurchasedAt != nil {
		t := in.PurchasedAt.UTC()
		e.PurchasedAt = &t
	}
}
