package feed

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nightstudio/paywall/internal/app/domain/post"
	"github.com/nightstudio/paywall/internal/app/system"
	"github.com/nightstudio/paywall/pkg/logger"
	"github.com/nightstudio/paywall/supabase/client"
)

var _ system.Service = (*Relay)(nil)

// Listener is the realtime source the relay reads from.
type Listener interface {
	Listen(ctx context.Context, sub client.Subscription, fn client.ChangeHandler) error
}

// Relay forwards post inserts observed by the database to the hub, so posts
// written by other instances reach local subscribers.
type Relay struct {
	listener Listener
	hub      *Hub
	log      *logger.Logger
	backoff  time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

func NewRelay(listener Listener, hub *Hub, log *logger.Logger) *Relay {
	if log == nil {
		log = logger.NewDefault("feed-relay")
	}
	return &Relay{listener: listener, hub: hub, log: log, backoff: 2 * time.Second}
}

func (r *Relay) Name() string { return "feed-relay" }

func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	r.running = true
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(runCtx)
	}()

	r.log.Info("feed relay started")
	return nil
}

func (r *Relay) run(ctx context.Context) {
	sub := client.Subscription{Table: "posts", Event: "INSERT"}
	wait := r.backoff
	for {
		started := time.Now()
		err := r.listener.Listen(ctx, sub, r.handle)
		if ctx.Err() != nil {
			return
		}
		if time.Since(started) > time.Minute {
			wait = r.backoff
		}
		r.log.WithError(err).Warnf("realtime connection lost; reconnecting in %s", wait)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		if wait < time.Minute {
			wait *= 2
		}
	}
}

func (r *Relay) handle(ev client.ChangeEvent) {
	var p post.Post
	if err := json.Unmarshal(ev.Record, &p); err != nil || p.ID == "" {
		r.log.WithError(err).Warn("ignoring undecodable post change")
		return
	}
	r.hub.PublishPost(p)
}

func (r *Relay) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.log.Info("feed relay stopped")
	return nil
}
