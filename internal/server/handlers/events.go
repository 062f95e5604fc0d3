package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ricopen19/OCR-to-doc/pkg/service"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // the UI shell is served from a local origin
	},
}

// EventsConfig tunes the progress stream.
type EventsConfig struct {
	// Interval is the minimum gap between two pushed snapshots.
	Interval time.Duration
	// WriteTimeout bounds a single websocket write.
	WriteTimeout time.Duration
}

func (c EventsConfig) withDefaults() EventsConfig {
	if c.Interval <= 0 {
		c.Interval = 250 * time.Millisecond
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	return c
}

// ProgressEvent is one pushed snapshot. Log carries only the lines added
// since the previous event.
type ProgressEvent struct {
	Type     string           `json:"type"`
	Progress service.Progress `json:"progress"`
	LogFrom  int              `json:"logFrom"`
}

// streamEvents pushes progress snapshots until the job is terminal or the
// client goes away. Unchanged snapshots are not resent.
func (a *API) streamEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := a.svc.GetProgress(id); err != nil {
		respondWithError(w, r, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Debug("websocket upgrade failed", zap.String("job_id", id), zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reads detect the client closing the socket.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	limiter := rate.NewLimiter(rate.Every(a.events.Interval), 1)
	sentLog := 0
	var last *service.Progress

	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}

		p, err := a.svc.GetProgress(id)
		if err != nil {
			a.writeClose(conn, websocket.CloseInternalServerErr, err.Error())
			return
		}
		if last != nil && sameSnapshot(*last, p) {
			continue
		}

		event := ProgressEvent{Type: "progress", Progress: p, LogFrom: sentLog}
		if sentLog <= len(p.Log) {
			event.Progress.Log = p.Log[sentLog:]
		}
		terminal := p.Status.Terminal()
		if terminal {
			event.Type = "terminal"
		}

		_ = conn.SetWriteDeadline(time.Now().Add(a.events.WriteTimeout))
		if err := conn.WriteJSON(event); err != nil {
			a.logger.Debug("websocket write failed", zap.String("job_id", id), zap.Error(err))
			return
		}
		sentLog = len(p.Log)
		last = &p

		if terminal {
			a.writeClose(conn, websocket.CloseNormalClosure, string(p.Status))
			return
		}
	}
}

func (a *API) writeClose(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(a.events.WriteTimeout))
}

func sameSnapshot(a, b service.Progress) bool {
	return a.Status == b.Status &&
		a.Progress == b.Progress &&
		len(a.Log) == len(b.Log) &&
		eqString(a.CurrentMessage, b.CurrentMessage) &&
		eqInt(a.PageCurrent, b.PageCurrent) &&
		eqInt(a.PageTotal, b.PageTotal) &&
		eqInt(a.ETASeconds, b.ETASeconds)
}

func eqString(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqInt(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
