package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/openquill/dmforge/internal/observe"
	"github.com/openquill/dmforge/internal/tool/sheet"
)

// subscriberBuffer bounds the per-connection event queue. A client that
// stops reading loses events rather than stalling the game turn.
const subscriberBuffer = 16

// EventHub fans sheet-change notifications out to websocket subscribers.
// Its Notify method satisfies [sheet.NotifyFunc], so the hub plugs straight
// into the sheet binder.
type EventHub struct {
	logger  *slog.Logger
	metrics *observe.Metrics

	mu   sync.Mutex
	subs map[chan sheet.Notification]struct{}
}

// NewEventHub creates an EventHub. A nil logger falls back to slog.Default.
func NewEventHub(logger *slog.Logger, metrics *observe.Metrics) *EventHub {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &EventHub{
		logger:  logger,
		metrics: metrics,
		subs:    make(map[chan sheet.Notification]struct{}),
	}
}

// Notify broadcasts one notification to every subscriber. Slow subscribers
// are skipped, never waited on.
func (h *EventHub) Notify(ctx context.Context, n sheet.Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- n:
		default:
			h.logger.Debug("event subscriber lagging; dropped notification", "tool", n.Tool)
		}
	}
}

// SubscriberCount returns the number of connected clients.
func (h *EventHub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *EventHub) subscribe() chan sheet.Notification {
	ch := make(chan sheet.Notification, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *EventHub) unsubscribe(ch chan sheet.Notification) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}

// handleWS upgrades the request and forwards notifications until the client
// disconnects or the request context ends.
func (h *EventHub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed", "err", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "event feed closed")

	ctx := r.Context()
	ch := h.subscribe()
	defer h.unsubscribe(ch)

	h.metrics.ActiveEventStreams.Add(ctx, 1)
	defer h.metrics.ActiveEventStreams.Add(ctx, -1)

	h.logger.Debug("event subscriber connected", "remote", r.RemoteAddr)

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case n := <-ch:
			if err := wsjson.Write(ctx, conn, n); err != nil {
				h.logger.Debug("event subscriber gone", "remote", r.RemoteAddr, "err", err)
				return
			}
		}
	}
}
