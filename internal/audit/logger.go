package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"medilink/internal/audit/domain"
	auditrepo "medilink/internal/audit/repository"
	"medilink/internal/platform/logger"
)

// SentinelOrgID is the org_id used for audit events that have no org (e.g. a failed sign-in).
const SentinelOrgID = "_system"

// Event is one audit record to write. Metadata is stored as a JSON object.
type Event struct {
	OrgID      string
	UserID     string
	Action     string
	Resource   string
	ResourceID string
	Metadata   map[string]any
}

// AuditLogger writes a single audit event. Services use it for state changes the HTTP
// middleware cannot see (worker renewals, workflow escalations, failed sign-ins).
type AuditLogger interface {
	LogEvent(ctx context.Context, e Event)
}

// IPExtractor returns the client IP for the request carried by ctx.
type IPExtractor func(context.Context) string

// Logger implements AuditLogger on the audit repository.
type Logger struct {
	repo        auditrepo.Repository
	ipExtractor IPExtractor
	log         *zap.Logger
	now         func() time.Time
}

// NewLogger returns a Logger that persists to repo. A nil ipExtractor reads the IP stored by WithClientIP.
func NewLogger(repo auditrepo.Repository, ipExtractor IPExtractor, log *zap.Logger) *Logger {
	if ipExtractor == nil {
		ipExtractor = ClientIPFromContext
	}
	return &Logger{repo: repo, ipExtractor: ipExtractor, log: logger.OrNop(log), now: time.Now}
}

// LogEvent writes one audit log entry. Best-effort: errors are logged and not returned.
func (l *Logger) LogEvent(ctx context.Context, e Event) {
	if l == nil || l.repo == nil {
		return
	}
	if e.OrgID == "" {
		e.OrgID = SentinelOrgID
	}
	var meta string
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			l.log.Warn("audit: metadata not serializable", zap.String("action", e.Action), zap.Error(err))
		} else {
			meta = string(b)
		}
	}
	entry := &domain.AuditLog{
		ID:         uuid.New().String(),
		OrgID:      e.OrgID,
		UserID:     e.UserID,
		Action:     e.Action,
		Resource:   e.Resource,
		ResourceID: e.ResourceID,
		IP:         l.ipExtractor(ctx),
		Metadata:   meta,
		CreatedAt:  l.now().UTC(),
	}
	if err := l.repo.Create(ctx, entry); err != nil {
		l.log.Error("audit: failed to log event",
			zap.String("action", e.Action), zap.String("resource", e.Resource), zap.Error(err))
	}
}

// Nop is an AuditLogger that drops events.
type Nop struct{}

// LogEvent does nothing.
func (Nop) LogEvent(context.Context, Event) {}

type ipKey struct{}

// WithClientIP stores the caller's IP for later audit writes.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ipKey{}, ip)
}

// ClientIPFromContext returns the IP stored by WithClientIP, or "unknown".
func ClientIPFromContext(ctx context.Context) string {
	if ip, ok := ctx.Value(ipKey{}).(string); ok && ip != "" {
		return ip
	}
	return "unknown"
}
