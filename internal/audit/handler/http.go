// Package handler exposes audit log reads and exports over HTTP.
package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"medilink/internal/audit/domain"
	"medilink/internal/audit/service"
	"medilink/internal/platform/apperr"
	"medilink/internal/platform/httpx"
	"medilink/internal/platform/logger"
)

// Handler serves /api/audit-logs.
type Handler struct {
	svc *service.Service
	log *zap.Logger
}

// NewHandler returns an audit HTTP handler.
func NewHandler(svc *service.Service, log *zap.Logger) *Handler {
	return &Handler{svc: svc, log: logger.OrNop(log)}
}

// Routes registers the audit routes on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/api/audit-logs", h.list)
	r.Get("/api/audit-logs/export", h.export)
	r.Get("/api/audit-logs/{id}", h.get)
}

type auditLogView struct {
	ID         string          `json:"id"`
	OrgID      string          `json:"org_id"`
	UserID     string          `json:"user_id,omitempty"`
	Action     string          `json:"action"`
	Resource   string          `json:"resource"`
	ResourceID string          `json:"resource_id,omitempty"`
	IP         string          `json:"ip"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

func toView(a *domain.AuditLog) auditLogView {
	v := auditLogView{
		ID: a.ID, OrgID: a.OrgID, UserID: a.UserID, Action: a.Action, Resource: a.Resource,
		ResourceID: a.ResourceID, IP: a.IP, CreatedAt: a.CreatedAt.UTC(),
	}
	if a.Metadata != "" && json.Valid([]byte(a.Metadata)) {
		v.Metadata = json.RawMessage(a.Metadata)
	}
	return v
}

type listResponse struct {
	AuditLogs     []auditLogView `json:"audit_logs"`
	NextPageToken string         `json:"next_page_token"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := h.svc.List(r.Context(), q.Get("filter"), q.Get("order_by"), httpx.QueryInt(r, "page_size", 0), q.Get("page_token"))
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	resp := listResponse{AuditLogs: make([]auditLogView, 0, len(page.Entries)), NextPageToken: page.NextPageToken}
	for _, a := range page.Entries {
		resp.AuditLogs = append(resp.AuditLogs, toView(a))
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	a, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toView(a))
}

// TruncatedTrailer carries "true" when an export stopped at the row cap with rows left. The outcome
// is only known once the body is written, so it is sent as a declared trailer.
const TruncatedTrailer = "X-Export-Truncated"

// exportWriter defers the response headers until the first byte so that errors
// raised before any row is written still render as JSON.
type exportWriter struct {
	w           http.ResponseWriter
	contentType string
	filename    string
	started     bool
}

func (e *exportWriter) start() {
	if e.started {
		return
	}
	e.started = true
	h := e.w.Header()
	h.Set("Content-Type", e.contentType)
	h.Set("Content-Disposition", `attachment; filename="`+e.filename+`"`)
	h.Set("Trailer", TruncatedTrailer)
	e.w.WriteHeader(http.StatusOK)
}

func (e *exportWriter) Write(p []byte) (int, error) {
	e.start()
	return e.w.Write(p)
}

func (h *Handler) export(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = service.FormatCSV
	}
	ew := &exportWriter{w: w, filename: "audit-logs." + format}
	sink, err := service.NewRowWriter(format, ew)
	if err != nil {
		apperr.Write(w, r, apperr.Invalid("format must be csv or jsonl", "形式は csv または jsonl を指定してください。"))
		return
	}
	ew.contentType = sink.ContentType()
	res, err := h.svc.Export(r.Context(), sink, r.URL.Query().Get("filter"))
	if err != nil {
		if !ew.started {
			apperr.Write(w, r, err)
			return
		}
		// the body is partially written; the client sees a truncated stream
		h.log.Error("audit export aborted", zap.Int("rows", res.Rows), zap.Error(err))
		return
	}
	ew.start()
	w.Header().Set(TruncatedTrailer, strconv.FormatBool(res.Truncated))
	if res.Truncated {
		h.log.Warn("audit export truncated", zap.Int("rows", res.Rows))
	}
}
