// Package feed fans newly created posts out to websocket subscribers.
package feed

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nightstudio/paywall/internal/app/domain/post"
	"github.com/nightstudio/paywall/internal/app/metrics"
	"github.com/nightstudio/paywall/internal/app/services/access"
	"github.com/nightstudio/paywall/internal/app/system"
	"github.com/nightstudio/paywall/pkg/logger"
)

const (
	EventPostCreated = "post_created"

	subscriberBuffer = 32
	recentPosts      = 256

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var _ system.Service = (*Hub)(nil)

// Event is pushed to subscribers. Post never carries media.
type Event struct {
	Type string          `json:"type"`
	Post access.PostView `json:"post"`
}

type subscriber struct {
	ch chan Event
}

// Hub broadcasts post events. Slow subscribers drop events rather than block
// publishers.
type Hub struct {
	log      *logger.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	subs    map[*subscriber]struct{}
	seen    map[string]struct{}
	order   []string
	stopped bool
}

func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.NewDefault("feed")
	}
	return &Hub{
		log:  log,
		subs: make(map[*subscriber]struct{}),
		seen: make(map[string]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// WithOriginCheck replaces the same-host default with allow. Browsers do not
// apply CORS to websocket upgrades, so the upgrade itself checks Origin.
// Requests without an Origin header come from non-browser clients and pass.
func (h *Hub) WithOriginCheck(allow func(origin string) bool) *Hub {
	h.upgrader.CheckOrigin = func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || allow(origin) {
			return true
		}
		h.log.WithField("origin", origin).Warn("feed subscription from disallowed origin")
		return false
	}
	return h
}

func (h *Hub) Name() string { return "feed-hub" }

func (h *Hub) Start(context.Context) error {
	h.mu.Lock()
	h.stopped = false
	h.mu.Unlock()
	return nil
}

// Stop disconnects every subscriber.
func (h *Hub) Stop(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped = true
	for s := range h.subs {
		delete(h.subs, s)
		close(s.ch)
	}
	return nil
}

// PublishPost announces p. A post already announced is ignored, so the
// in-process publisher and the database relay may both feed the hub.
func (h *Hub) PublishPost(p post.Post) {
	ev := Event{
		Type: EventPostCreated,
		Post: access.Redact(p, access.Result{UnlockRequired: p.Locked}),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	if _, dup := h.seen[p.ID]; dup {
		return
	}
	h.seen[p.ID] = struct{}{}
	h.order = append(h.order, p.ID)
	if len(h.order) > recentPosts {
		delete(h.seen, h.order[0])
		h.order = h.order[1:]
	}

	for s := range h.subs {
		select {
		case s.ch <- ev:
		default:
			h.log.Warn("feed subscriber too slow; event dropped")
		}
	}
}

// Subscribe registers a listener. The returned cancel func must be called
// once the caller stops reading.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	s := &subscriber{ch: make(chan Event, subscriberBuffer)}

	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		close(s.ch)
		return s.ch, func() {}
	}
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	metrics.FeedSubscriberConnected(1)

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			if _, ok := h.subs[s]; ok {
				delete(h.subs, s)
				close(s.ch)
			}
			h.mu.Unlock()
			metrics.FeedSubscriberConnected(-1)
		})
	}
}

// Subscribers reports the number of connected listeners.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// ServeHTTP upgrades to a websocket and streams events until either side
// goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Debug("feed upgrade failed")
		return
	}
	events, cancel := h.Subscribe()
	defer cancel()
	defer conn.Close()

	// reader: only pongs and close frames are expected
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return
		case ev, ok := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
