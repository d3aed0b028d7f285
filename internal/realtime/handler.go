package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"medilink/internal/platform/apperr"
	"medilink/internal/platform/authctx"
	"medilink/internal/platform/logger"
)

const writeTimeout = 5 * time.Second

var errNoFeed = apperr.New(apperr.KindFailedPrecondition,
	"Realtime updates are not available.", "リアルタイム更新は利用できません。")

type Handler struct {
	subs    Subscriber
	origins []string
	log     *zap.Logger
}

// NewHandler returns the realtime handler. origins lists extra websocket origin patterns; subs may be nil.
func NewHandler(subs Subscriber, origins []string, log *zap.Logger) *Handler {
	return &Handler{subs: subs, origins: origins, log: logger.OrNop(log)}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/api/realtime", h.stream)
}

// stream forwards every event on the caller's active-org channel until either side closes.
func (h *Handler) stream(w http.ResponseWriter, r *http.Request) {
	id, ok := authctx.From(r.Context())
	if !ok {
		apperr.Write(w, r, apperr.Unauthenticated())
		return
	}
	if id.OrgID == "" {
		apperr.Write(w, r, apperr.PermissionDenied("Select an organization first.", "先に組織を選択してください。"))
		return
	}
	if h.subs == nil {
		apperr.Write(w, r, errNoFeed)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	msgs, stop, err := h.subs.Subscribe(ctx, id.OrgID)
	if err != nil {
		h.log.Error("realtime subscribe", zap.String("org_id", id.OrgID), zap.Error(err))
		apperr.Write(w, r, errNoFeed)
		return
	}
	defer stop()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		return
	}
	// Clients only listen; CloseRead handles their close frame and cancels ctx.
	ctx = conn.CloseRead(ctx)

	if err := write(ctx, conn, map[string]string{"type": "ready", "org_id": id.OrgID}); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case m, ok := <-msgs:
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "feed closed")
				return
			}
			if err := write(ctx, conn, json.RawMessage(m)); err != nil {
				_ = conn.Close(websocket.StatusInternalError, "write_failed")
				return
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, v any) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, v)
}
