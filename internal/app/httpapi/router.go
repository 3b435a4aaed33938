// Package httpapi exposes the paywall over HTTP.
package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	app "github.com/nightstudio/paywall/internal/app"
	"github.com/nightstudio/paywall/internal/app/metrics"
	"github.com/nightstudio/paywall/internal/config"
	"github.com/nightstudio/paywall/internal/logging"
	"github.com/nightstudio/paywall/internal/middleware"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app *app.Application
	log *logging.Logger
}

// Router is the API handler plus the pieces the server manages.
type Router struct {
	http.Handler
	Limiter *middleware.RateLimiter
}

// NewHandler returns the API router wrapped in the middleware chain.
func NewHandler(application *app.Application, log *logging.Logger) *Router {
	if log == nil {
		log = logging.New("httpapi", "info", "text")
	}
	cfg := application.Config
	if cfg == nil {
		cfg = &config.Config{}
	}
	h := &handler{app: application, log: log}

	perSecond, burst := cfg.RateLimit.UnlockPerSecond, cfg.RateLimit.UnlockBurst
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst <= 0 {
		burst = 3
	}
	limiter := middleware.NewRateLimiter(perSecond, burst, log)

	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(h.notFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(h.methodNotAllowed)

	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	requireUser := middleware.RequireUserID

	api.HandleFunc("/auth/nonce", h.authNonce).Methods(http.MethodPost)
	api.HandleFunc("/auth/wallet", h.authWallet).Methods(http.MethodPost)

	api.Handle("/users/me", requireUser(http.HandlerFunc(h.me))).Methods(http.MethodGet)
	api.Handle("/users/me", requireUser(http.HandlerFunc(h.updateMe))).Methods(http.MethodPatch)
	api.Handle("/users/me/purchases", requireUser(http.HandlerFunc(h.myPurchases))).Methods(http.MethodGet)
	api.HandleFunc("/users/by-username/{username}", h.userByUsername).Methods(http.MethodGet)
	api.HandleFunc("/users/{id}", h.user).Methods(http.MethodGet)
	api.Handle("/users/{id}/follow", requireUser(http.HandlerFunc(h.follow))).Methods(http.MethodPost)
	api.Handle("/users/{id}/follow", requireUser(http.HandlerFunc(h.unfollow))).Methods(http.MethodDelete)
	api.HandleFunc("/users/{id}/followers", h.followers).Methods(http.MethodGet)
	api.HandleFunc("/users/{id}/following", h.following).Methods(http.MethodGet)

	api.HandleFunc("/posts", h.listPosts).Methods(http.MethodGet)
	api.Handle("/posts", requireUser(http.HandlerFunc(h.createPost))).Methods(http.MethodPost)
	api.HandleFunc("/posts/{id}", h.getPost).Methods(http.MethodGet)
	api.HandleFunc("/posts/{id}/access", h.postAccess).Methods(http.MethodGet)
	api.Handle("/posts/{id}/unlock", requireUser(limiter.Handler(http.HandlerFunc(h.unlock)))).Methods(http.MethodPost)
	api.Handle("/posts/{id}/like", requireUser(http.HandlerFunc(h.like))).Methods(http.MethodPost)

	api.Handle("/media", requireUser(http.HandlerFunc(h.uploadMedia))).Methods(http.MethodPost)
	api.Handle("/feed/ws", application.Feed).Methods(http.MethodGet)

	auth := middleware.NewAuthMiddleware(application.Auth, log, []string{"/health", "/metrics"})
	cors := middleware.NewCORSMiddleware(cfg.Server.AllowedOrigins())
	tracing := middleware.NewTracingMiddleware(log)

	var chain http.Handler = r
	chain = auth.Handler(chain)
	chain = cors.Handler(chain)
	chain = middleware.MetricsMiddleware()(chain)
	chain = tracing.Handler(chain)

	return &Router{Handler: chain, Limiter: limiter}
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"storage":  h.app.Config.Storage.Driver,
		"realtime": h.app.Feed.Subscribers(),
	})
}
