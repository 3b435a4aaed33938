package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ChangeEvent is a single postgres_changes notification.
type ChangeEvent struct {
	Type      string          `json:"type"`
	Schema    string          `json:"schema"`
	Table     string          `json:"table"`
	Record    json.RawMessage `json:"record"`
	OldRecord json.RawMessage `json:"old_record,omitempty"`
}

// ChangeHandler receives change events in arrival order.
type ChangeHandler func(ChangeEvent)

// Subscription describes which row changes to listen for.
type Subscription struct {
	Schema string // default "public"
	Table  string
	Event  string // INSERT, UPDATE, DELETE or *; default INSERT
	Filter string // optional, e.g. "creator_id=eq.<uuid>"
}

func (s Subscription) normalized() Subscription {
	if s.Schema == "" {
		s.Schema = "public"
	}
	if s.Event == "" {
		s.Event = "INSERT"
	}
	return s
}

func (s Subscription) topic() string {
	return "realtime:" + s.Schema + ":" + s.Table
}

// Realtime listens to Supabase Realtime postgres_changes over a websocket.
type Realtime struct {
	url       string
	heartbeat time.Duration
	dialer    *websocket.Dialer

	writeMu sync.Mutex
	ref     int
}

// Realtime returns a realtime listener for the client's project.
func (c *Client) Realtime() *Realtime {
	return newRealtime(c.baseURL, c.apiKey)
}

func newRealtime(baseURL, apiKey string) *Realtime {
	wsURL := baseURL
	switch {
	case strings.HasPrefix(wsURL, "https://"):
		wsURL = "wss://" + strings.TrimPrefix(wsURL, "https://")
	case strings.HasPrefix(wsURL, "http://"):
		wsURL = "ws://" + strings.TrimPrefix(wsURL, "http://")
	}
	q := url.Values{"apikey": {apiKey}, "vsn": {"1.0.0"}}
	return &Realtime{
		url:       wsURL + "/realtime/v1/websocket?" + q.Encode(),
		heartbeat: 30 * time.Second,
		dialer:    &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// Listen joins the channel for sub and calls fn for every matching change
// until ctx is cancelled or the connection drops. It returns nil only when
// ctx is cancelled; callers reconnect on any other return.
func (r *Realtime) Listen(ctx context.Context, sub Subscription, fn ChangeHandler) error {
	if sub.Table == "" {
		return fmt.Errorf("realtime: table is required")
	}
	sub = sub.normalized()

	conn, _, err := r.dialer.DialContext(ctx, r.url, nil)
	if err != nil {
		return fmt.Errorf("realtime dial: %w", err)
	}
	defer conn.Close()

	change := map[string]string{"event": sub.Event, "schema": sub.Schema, "table": sub.Table}
	if sub.Filter != "" {
		change["filter"] = sub.Filter
	}
	join := map[string]any{
		"config": map[string]any{"postgres_changes": []map[string]string{change}},
	}
	if err := r.send(conn, sub.topic(), "phx_join", join); err != nil {
		return fmt.Errorf("realtime join: %w", err)
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(r.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				r.writeMu.Lock()
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				r.writeMu.Unlock()
				_ = conn.Close()
				return
			case <-ticker.C:
				if err := r.send(conn, "phoenix", "heartbeat", map[string]any{}); err != nil {
					_ = conn.Close()
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("realtime read: %w", err)
		}
		if ev, ok := decodeChange(data, sub); ok {
			fn(ev)
		}
	}
}

func (r *Realtime) send(conn *websocket.Conn, topic, event string, payload any) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	r.ref++
	ref := strconv.Itoa(r.ref)
	return conn.WriteJSON(map[string]any{
		"topic":    topic,
		"event":    event,
		"payload":  payload,
		"ref":      ref,
		"join_ref": ref,
	})
}

type phoenixMessage struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// decodeChange accepts both the postgres_changes envelope
// ({"data": {...}}) and the legacy per-event frames.
func decodeChange(data []byte, sub Subscription) (ChangeEvent, bool) {
	var msg phoenixMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.Topic != sub.topic() {
		return ChangeEvent{}, false
	}

	var ev ChangeEvent
	switch msg.Event {
	case "postgres_changes":
		var wrapped struct {
			Data ChangeEvent `json:"data"`
		}
		if err := json.Unmarshal(msg.Payload, &wrapped); err != nil {
			return ChangeEvent{}, false
		}
		ev = wrapped.Data
	case "INSERT", "UPDATE", "DELETE":
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			return ChangeEvent{}, false
		}
		if ev.Type == "" {
			ev.Type = msg.Event
		}
	default:
		return ChangeEvent{}, false
	}

	if ev.Table != "" && ev.Table != sub.Table {
		return ChangeEvent{}, false
	}
	if sub.Event != "*" && !strings.EqualFold(ev.Type, sub.Event) {
		return ChangeEvent{}, false
	}
	return ev, true
}
