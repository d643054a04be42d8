package events

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket" //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
	"nhooyr.io/websocket/wsjson"
)

// WebSocketHandler pushes one user's events over a websocket connection.
//
// Query parameters:
//   - patterns: comma separated event type patterns (default: all)
//   - since: replay retained events with a greater sequence number first
//
// Each message is one JSON encoded Event. PrevSeq is the Seq of the
// previous message on this connection; a client whose last Seq differs from
// PrevSeq has lost events to a full queue and resyncs through the pull
// endpoint.
type WebSocketHandler struct {
	bus            *Bus
	logger         *zap.Logger
	userFn         func(*http.Request) string
	originPatterns []string
	writeTimeout   time.Duration
}

// NewWebSocketHandler creates the push handler. userFn resolves the acting
// user of a request; originPatterns are host patterns accepted in the Origin
// header besides the request host.
func NewWebSocketHandler(bus *Bus, logger *zap.Logger, userFn func(*http.Request) string, originPatterns []string) *WebSocketHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if userFn == nil {
		userFn = func(r *http.Request) string { return UserFromContext(r.Context()) }
	}
	return &WebSocketHandler{
		bus:            bus,
		logger:         logger,
		userFn:         userFn,
		originPatterns: originPatterns,
		writeTimeout:   10 * time.Second,
	}
}

// ServeHTTP handles websocket upgrade requests.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var (
		since    uint64
		hasSince bool
	)
	if raw := r.URL.Query().Get("since"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, "since must be a non-negative integer", http.StatusBadRequest)
			return
		}
		since, hasSince = v, true
	}
	patterns := ParsePatterns(r.URL.Query().Get("patterns"))
	userID := h.userFn(r)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{ //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Warn("events: websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "") //nolint:staticcheck // TODO: migrate to github.com/coder/websocket

	// Subscribe before replaying so nothing published in between is missed.
	sub := h.bus.Subscribe(userID, patterns...)
	defer h.bus.Unsubscribe(sub)
	h.logger.Debug("events: websocket client connected",
		zap.String("user_id", userID), zap.String("subscriber", sub.ID()))

	// CloseRead drains client frames and cancels ctx when the peer goes away.
	ctx := conn.CloseRead(r.Context())

	var last uint64
	if hasSince {
		last = since
		res := h.bus.Since(userID, since)
		for _, e := range res.Events {
			if !sub.matches(e.Type) {
				continue
			}
			e.PrevSeq = last
			if err := h.write(ctx, conn, e); err != nil {
				return
			}
			last = e.Seq
		}
	}

	for {
		evs, err := sub.Next(ctx)
		if err != nil {
			return
		}
		for _, e := range evs {
			if e.Seq <= last {
				continue
			}
			// The subscriber's predecessor may have been sent by the replay.
			if e.PrevSeq < last {
				e.PrevSeq = last
			}
			if err := h.write(ctx, conn, e); err != nil {
				h.logger.Debug("events: websocket write failed", zap.Error(err))
				return
			}
			last = e.Seq
		}
	}
}

func (h *WebSocketHandler) write(ctx context.Context, conn *websocket.Conn, e Event) error { //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
	ctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, e)
}
