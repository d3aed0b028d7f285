// Package service implements scoped audit log reads and exports.
package service

import (
	"context"
	"errors"

	"medilink/internal/audit"
	"medilink/internal/audit/domain"
	"medilink/internal/audit/query"
	auditrepo "medilink/internal/audit/repository"
	"medilink/internal/platform/apperr"
	"medilink/internal/platform/authctx"
	"medilink/internal/platform/rbac"
)

// ExportBatchSize is how many rows an export reads per query.
const ExportBatchSize = 500

const defaultMaxExport = 100000

// Page is one page of audit logs.
type Page struct {
	Entries       []*domain.AuditLog
	NextPageToken string
}

// Service answers audit queries for platform admins (all orgs) and org admins (their org only).
type Service struct {
	repo      auditrepo.Repository
	members   rbac.OrgMembershipGetter
	logger    audit.AuditLogger
	maxExport int
}

// NewService returns an audit query service. maxExport caps the rows of a single export.
func NewService(repo auditrepo.Repository, members rbac.OrgMembershipGetter, logger audit.AuditLogger, maxExport int) *Service {
	if logger == nil {
		logger = audit.Nop{}
	}
	if maxExport <= 0 {
		maxExport = defaultMaxExport
	}
	return &Service{repo: repo, members: members, logger: logger, maxExport: maxExport}
}

// scope returns the condition restricting what the caller may read.
func (s *Service) scope(ctx context.Context) (query.Condition, authctx.Identity, error) {
	id, err := rbac.RequireUser(ctx)
	if err != nil {
		return query.Condition{}, id, err
	}
	if id.PlatformAdmin {
		return query.Condition{}, id, nil
	}
	c, err := rbac.RequireOrgAdmin(ctx, s.members)
	if err != nil {
		return query.Condition{}, id, err
	}
	return query.Condition{Clause: "org_id = ?", Params: []any{c.OrgID}}, id, nil
}

func invalidRequest(err error) error {
	if errors.Is(err, query.ErrCursorMismatch) {
		return apperr.Wrap(err, apperr.KindInvalid,
			"The page token does not match this filter or order.",
			"ページトークンがフィルターまたは並び順と一致しません。")
	}
	return apperr.Wrap(err, apperr.KindInvalid, "Invalid filter, order_by or page token: "+err.Error(),
		"フィルター、並び順またはページトークンが不正です: "+err.Error())
}

// List returns one page of audit logs matching filter (AIP-160) in orderBy order.
func (s *Service) List(ctx context.Context, filter, orderBy string, pageSize int, pageToken string) (*Page, error) {
	scope, _, err := s.scope(ctx)
	if err != nil {
		return nil, err
	}
	req, err := query.Parse(filter, orderBy, pageSize, pageToken)
	if err != nil {
		return nil, invalidRequest(err)
	}
	where := query.And(scope, req.Where)
	if req.After != nil {
		where = query.And(where, req.After.Condition())
	}
	rows, err := s.repo.List(ctx, where, req.Order, req.PageSize+1)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	page := &Page{Entries: rows}
	if len(rows) > req.PageSize {
		page.Entries = rows[:req.PageSize]
		last := page.Entries[len(page.Entries)-1]
		token, err := query.Encode(query.NewCursor(last.Seq, req.Order, filter).WithCreatedAt(last.CreatedAt))
		if err != nil {
			return nil, apperr.Internal(err)
		}
		page.NextPageToken = token
	}
	return page, nil
}

var errNotFound = apperr.NotFound("Audit log entry not found.", "監査ログが見つかりません。")

// Get returns one entry. Entries outside the caller's scope are reported as not found.
func (s *Service) Get(ctx context.Context, id string) (*domain.AuditLog, error) {
	_, caller, err := s.scope(ctx)
	if err != nil {
		return nil, err
	}
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if a == nil || (!caller.PlatformAdmin && a.OrgID != caller.OrgID) {
		return nil, errNotFound
	}
	return a, nil
}

// ExportResult summarizes a finished export.
type ExportResult struct {
	Rows      int
	Truncated bool
}

// Export streams every entry matching filter, oldest first, to sink in batches.
// It stops at the configured row cap and records the export itself in the audit log.
func (s *Service) Export(ctx context.Context, sink RowWriter, filter string) (ExportResult, error) {
	scope, caller, err := s.scope(ctx)
	if err != nil {
		return ExportResult{}, err
	}
	where, err := query.ParseFilter(filter)
	if err != nil {
		return ExportResult{}, invalidRequest(err)
	}
	base := query.And(scope, where)
	order := query.Order{Desc: false}

	var res ExportResult
	var after *position
	for {
		limit := ExportBatchSize
		if remaining := s.maxExport - res.Rows; remaining < limit {
			limit = remaining
		}
		if limit <= 0 {
			res.Truncated = true
			break
		}
		batch, err := s.repo.List(ctx, after.and(base), order, limit)
		if err != nil {
			return res, apperr.Internal(err)
		}
		for _, a := range batch {
			if err := sink.WriteRow(a); err != nil {
				return res, apperr.Internal(err)
			}
		}
		res.Rows += len(batch)
		if len(batch) < limit {
			break
		}
		last := batch[len(batch)-1]
		after = &position{query.NewCursor(last.Seq, order, "").WithCreatedAt(last.CreatedAt)}
	}
	if err := sink.Flush(); err != nil {
		return res, apperr.Internal(err)
	}
	if res.Truncated {
		// only truncated when the next row exists
		more, err := s.repo.List(ctx, after.and(base), order, 1)
		if err != nil {
			return res, apperr.Internal(err)
		}
		res.Truncated = len(more) > 0
	}

	s.logger.LogEvent(ctx, audit.Event{
		OrgID:    caller.OrgID,
		UserID:   caller.UserID,
		Action:   "export",
		Resource: "audit_log",
		Metadata: map[string]any{"filter": filter, "format": sink.Format(), "rows": res.Rows, "truncated": res.Truncated},
	})
	return res, nil
}

// position is the keyset position of an export. A nil position starts from the beginning.
type position struct{ c query.Cursor }

func (p *position) and(base query.Condition) query.Condition {
	if p == nil {
		return base
	}
	return query.And(base, p.c.Condition())
}
