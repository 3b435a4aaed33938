package httpapi

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/mr-tron/base58"

	app "github.com/nightstudio/paywall/internal/app"
	"github.com/nightstudio/paywall/internal/app/domain/post"
	"github.com/nightstudio/paywall/internal/app/services/access"
	"github.com/nightstudio/paywall/internal/app/services/auth"
	"github.com/nightstudio/paywall/internal/app/services/unlock"
	"github.com/nightstudio/paywall/internal/app/storage/memory"
	"github.com/nightstudio/paywall/internal/config"
	"github.com/nightstudio/paywall/internal/httputil"
	"github.com/nightstudio/paywall/internal/logging"
)

type testServer struct {
	t       *testing.T
	handler http.Handler
	app     *app.Application
	settled *atomic.Int32

	// declineFor makes the stub settler refuse the given viewer.
	declineFor func(viewerID string)
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := &config.Config{
		Environment: "test",
		Server:      config.ServerConfig{CORSOrigins: "*"},
		Storage:     config.StorageConfig{Driver: config.DriverMemory},
		Auth:        config.AuthConfig{JWTSecret: strings.Repeat("k", 32), Issuer: "paywall-test"},
		Reconcile:   config.ReconcileConfig{JournalPath: t.TempDir() + "/journal.jsonl", Schedule: "@every 5m"},
		RateLimit:   config.RateLimitConfig{UnlockPerSecond: 50, UnlockBurst: 50},
	}

	settled := &atomic.Int32{}
	decline := &atomic.Value{}
	decline.Store("")
	settler := unlock.SettlerFunc(func(_ context.Context, viewerID string, p post.Post) (unlock.Settlement, error) {
		if viewerID == decline.Load().(string) {
			return unlock.Declined("insufficient_funds"), nil
		}
		n := settled.Add(1)
		return unlock.Settled(fmt.Sprintf("sig-%s-%d", p.ID, n)), nil
	})

	application, err := app.New(cfg, app.Components{Store: memory.New(), Settler: settler}, nil)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	if err := application.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		_ = application.Stop(context.Background())
		_ = application.Close()
	})

	srv := &testServer{
		t:       t,
		handler: NewHandler(application, logging.New("httpapi-test", "error", "text")),
		app:     application,
		settled: settled,
	}
	srv.declineFor = func(id string) { decline.Store(id) }
	return srv
}

func (s *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			s.t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) decode(rec *httptest.ResponseRecorder, dst any) {
	s.t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		s.t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func (s *testServer) expectStatus(rec *httptest.ResponseRecorder, want int) {
	s.t.Helper()
	if rec.Code != want {
		s.t.Fatalf("expected status %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
}

// login signs a challenge with a key derived from seed and returns the
// session.
func (s *testServer) login(seed byte) auth.Session {
	s.t.Helper()
	priv := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{seed}, ed25519.SeedSize))
	wallet := base58.Encode(priv.Public().(ed25519.PublicKey))

	rec := s.do(http.MethodPost, "/api/auth/nonce", "", map[string]string{"wallet_address": wallet})
	s.expectStatus(rec, http.StatusOK)
	var challenge auth.Challenge
	s.decode(rec, &challenge)

	rec = s.do(http.MethodPost, "/api/auth/wallet", "", auth.LoginRequest{
		Wallet:    wallet,
		Nonce:     challenge.Nonce,
		Message:   challenge.Message,
		Signature: base58.Encode(ed25519.Sign(priv, []byte(challenge.Message))),
	})
	s.expectStatus(rec, http.StatusOK)
	var session auth.Session
	s.decode(rec, &session)
	if session.Token == "" || session.User.ID == "" {
		s.t.Fatalf("incomplete session: %+v", session)
	}
	return session
}

type unlockBody struct {
	Outcome unlock.Outcome  `json:"outcome"`
	Post    access.PostView `json:"post"`
}

func TestUnlockFlow(t *testing.T) {
	srv := newTestServer(t)
	creator := srv.login(1)
	viewer := srv.login(2)

	rec := srv.do(http.MethodPost, "/api/posts", creator.Token, map[string]any{
		"title":       "Behind the scenes",
		"teaser_text": "a look at the set",
		"media_url":   "https://cdn.example.com/bts.mp4",
		"price":       "2.50",
		"currency":    "USDC",
		"locked":      true,
	})
	srv.expectStatus(rec, http.StatusCreated)
	var created access.PostView
	srv.decode(rec, &created)
	if created.MediaURL == "" || !created.Access.FullContentVisible {
		t.Fatalf("creator should see own media: %+v", created)
	}

	rec = srv.do(http.MethodPost, "/api/posts/"+created.ID+"/unlock", creator.Token, nil)
	srv.expectStatus(rec, http.StatusOK)
	var own unlockBody
	srv.decode(rec, &own)
	if own.Outcome.Reason != unlock.ReasonCreator || own.Outcome.State != unlock.StateShortCircuitUnlocked {
		t.Fatalf("creator unlock should short circuit: %+v", own.Outcome)
	}
	if n := srv.settled.Load(); n != 0 {
		t.Fatalf("creator was charged, settlements=%d", n)
	}

	rec = srv.do(http.MethodGet, "/api/posts/"+created.ID, viewer.Token, nil)
	srv.expectStatus(rec, http.StatusOK)
	var locked access.PostView
	srv.decode(rec, &locked)
	if locked.MediaURL != "" || !locked.Access.UnlockRequired {
		t.Fatalf("viewer should get a redacted post: %+v", locked)
	}
	if locked.Access.Reason != access.ReasonPaymentRequired {
		t.Fatalf("unexpected reason %q", locked.Access.Reason)
	}

	rec = srv.do(http.MethodGet, "/api/posts/"+created.ID+"/access", "", nil)
	srv.expectStatus(rec, http.StatusOK)
	var anon access.Result
	srv.decode(rec, &anon)
	if anon.FullContentVisible || anon.Reason != access.ReasonNoIdentity {
		t.Fatalf("anonymous access: %+v", anon)
	}

	rec = srv.do(http.MethodPost, "/api/posts/"+created.ID+"/unlock", viewer.Token, nil)
	srv.expectStatus(rec, http.StatusOK)
	var first unlockBody
	srv.decode(rec, &first)
	if first.Outcome.Status != unlock.StatusUnlocked || first.Outcome.State != unlock.StateUnlocked || first.Outcome.Reference == "" {
		t.Fatalf("unexpected outcome: %+v", first.Outcome)
	}
	if first.Post.MediaURL != "https://cdn.example.com/bts.mp4" {
		t.Fatalf("media should be visible after unlock: %+v", first.Post)
	}

	rec = srv.do(http.MethodPost, "/api/posts/"+created.ID+"/unlock", viewer.Token, nil)
	srv.expectStatus(rec, http.StatusOK)
	var second unlockBody
	srv.decode(rec, &second)
	if second.Outcome.Reason != unlock.ReasonAlreadyUnlocked || second.Outcome.Reference != first.Outcome.Reference {
		t.Fatalf("repeat unlock should short circuit: %+v", second.Outcome)
	}
	if n := srv.settled.Load(); n != 1 {
		t.Fatalf("expected one settlement, got %d", n)
	}

	rec = srv.do(http.MethodGet, "/api/users/me/purchases", viewer.Token, nil)
	srv.expectStatus(rec, http.StatusOK)
	var purchases []map[string]any
	srv.decode(rec, &purchases)
	if len(purchases) != 1 || purchases[0]["post_id"] != created.ID {
		t.Fatalf("unexpected purchases: %+v", purchases)
	}

	rec = srv.do(http.MethodGet, "/api/posts?creator="+creator.User.ID, viewer.Token, nil)
	srv.expectStatus(rec, http.StatusOK)
	var feed []access.PostView
	srv.decode(rec, &feed)
	if len(feed) != 1 || feed[0].MediaURL == "" {
		t.Fatalf("feed should include the unlocked post: %+v", feed)
	}
}

func TestUnlockDeclined(t *testing.T) {
	srv := newTestServer(t)
	creator := srv.login(3)
	viewer := srv.login(4)
	srv.declineFor(viewer.User.ID)

	rec := srv.do(http.MethodPost, "/api/posts", creator.Token, map[string]any{
		"title":     "Locked",
		"media_url": "https://cdn.example.com/a.png",
		"price":     "1",
		"locked":    true,
	})
	srv.expectStatus(rec, http.StatusCreated)
	var created access.PostView
	srv.decode(rec, &created)

	rec = srv.do(http.MethodPost, "/api/posts/"+created.ID+"/unlock", viewer.Token, nil)
	srv.expectStatus(rec, http.StatusPaymentRequired)
	var errResp httputil.ErrorResponse
	srv.decode(rec, &errResp)
	if errResp.Code != "SETTLEMENT_REJECTED" || errResp.Details["reason"] != "insufficient_funds" {
		t.Fatalf("unexpected error body: %+v", errResp)
	}

	rec = srv.do(http.MethodGet, "/api/posts/"+created.ID, viewer.Token, nil)
	var view access.PostView
	srv.decode(rec, &view)
	if view.MediaURL != "" {
		t.Fatalf("declined payment must not reveal media")
	}
	if n := srv.settled.Load(); n != 0 {
		t.Fatalf("no settlement should have succeeded, got %d", n)
	}
}

func TestUnlockRequiresIdentity(t *testing.T) {
	srv := newTestServer(t)
	creator := srv.login(5)

	rec := srv.do(http.MethodPost, "/api/posts", creator.Token, map[string]any{
		"title": "Locked", "media_url": "https://cdn.example.com/a.png", "price": "1", "locked": true,
	})
	srv.expectStatus(rec, http.StatusCreated)
	var created access.PostView
	srv.decode(rec, &created)

	rec = srv.do(http.MethodPost, "/api/posts/"+created.ID+"/unlock", "", nil)
	srv.expectStatus(rec, http.StatusUnauthorized)
	var errResp httputil.ErrorResponse
	srv.decode(rec, &errResp)
	if errResp.Code != "IDENTITY_REQUIRED" {
		t.Fatalf("unexpected code %q", errResp.Code)
	}

	rec = srv.do(http.MethodPost, "/api/posts/"+created.ID+"/unlock", "not-a-token", nil)
	srv.expectStatus(rec, http.StatusUnauthorized)
}

func TestSocialEndpoints(t *testing.T) {
	srv := newTestServer(t)
	alice := srv.login(6)
	bob := srv.login(7)

	rec := srv.do(http.MethodPatch, "/api/users/me", alice.Token, map[string]any{
		"username": "alice", "bio": "photos",
	})
	srv.expectStatus(rec, http.StatusOK)

	rec = srv.do(http.MethodGet, "/api/users/by-username/@Alice", bob.Token, nil)
	srv.expectStatus(rec, http.StatusOK)
	var profile struct {
		User struct {
			ID  string `json:"id"`
			Bio string `json:"bio"`
		} `json:"user"`
		IsFollowing bool `json:"is_following"`
	}
	srv.decode(rec, &profile)
	if profile.User.ID != alice.User.ID || profile.User.Bio != "photos" || profile.IsFollowing {
		t.Fatalf("unexpected profile: %+v", profile)
	}

	srv.expectStatus(srv.do(http.MethodPost, "/api/users/"+alice.User.ID+"/follow", bob.Token, nil), http.StatusCreated)
	srv.expectStatus(srv.do(http.MethodPost, "/api/users/"+alice.User.ID+"/follow", bob.Token, nil), http.StatusConflict)
	srv.expectStatus(srv.do(http.MethodPost, "/api/users/"+bob.User.ID+"/follow", bob.Token, nil), http.StatusBadRequest)

	rec = srv.do(http.MethodGet, "/api/users/"+alice.User.ID+"/followers", "", nil)
	srv.expectStatus(rec, http.StatusOK)
	var followers []map[string]any
	srv.decode(rec, &followers)
	if len(followers) != 1 || followers[0]["follower_id"] != bob.User.ID {
		t.Fatalf("unexpected followers: %+v", followers)
	}

	srv.expectStatus(srv.do(http.MethodDelete, "/api/users/"+alice.User.ID+"/follow", bob.Token, nil), http.StatusNoContent)

	rec = srv.do(http.MethodPost, "/api/posts", alice.Token, map[string]any{"title": "Free", "media_url": "https://cdn.example.com/f.png"})
	srv.expectStatus(rec, http.StatusCreated)
	var free access.PostView
	srv.decode(rec, &free)

	rec = srv.do(http.MethodPost, "/api/posts/"+free.ID+"/like", bob.Token, nil)
	srv.expectStatus(rec, http.StatusOK)
	var like struct {
		Liked      bool `json:"liked"`
		LikesCount int  `json:"likes_count"`
	}
	srv.decode(rec, &like)
	if !like.Liked || like.LikesCount != 1 {
		t.Fatalf("unexpected like state: %+v", like)
	}

	rec = srv.do(http.MethodGet, "/api/posts/"+free.ID, "", nil)
	var anon access.PostView
	srv.decode(rec, &anon)
	if anon.MediaURL == "" {
		t.Fatalf("free posts are visible to anonymous viewers")
	}
}

func TestOperationalEndpoints(t *testing.T) {
	srv := newTestServer(t)

	srv.expectStatus(srv.do(http.MethodGet, "/health", "", nil), http.StatusOK)
	srv.expectStatus(srv.do(http.MethodGet, "/metrics", "", nil), http.StatusOK)

	rec := srv.do(http.MethodGet, "/api/nope", "", nil)
	srv.expectStatus(rec, http.StatusNotFound)
	var errResp httputil.ErrorResponse
	srv.decode(rec, &errResp)
	if errResp.Code != "NOT_FOUND" || errResp.TraceID == "" {
		t.Fatalf("unexpected 404 body: %+v", errResp)
	}

	// media uploads need a storage bucket
	user := srv.login(8)
	srv.expectStatus(srv.do(http.MethodPost, "/api/media", user.Token, nil), http.StatusServiceUnavailable)

	rec = srv.do(http.MethodPost, "/api/auth/nonce", "", map[string]string{"wallet_address": "not-base58-0OIl"})
	srv.expectStatus(rec, http.StatusBadRequest)

	rec = srv.do(http.MethodPost, "/api/posts", user.Token, map[string]any{"title": "x", "unknown": 1})
	srv.expectStatus(rec, http.StatusBadRequest)
}
