// Package api exposes the trust core to the desktop UI as a loopback
// HTTP/JSON service, with its OpenAPI document and Swagger UI.
package api

import (
	_ "embed"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/helyxium/trustcore/auth"
	"github.com/helyxium/trustcore/internal/clock"
)

const maxBodyBytes = 64 << 10

//go:embed openapi.yaml
var openapiSpec []byte

// KeySource publishes the transmission public key.
type KeySource interface {
	PublicKeyPEM() ([]byte, error)
}

// API holds the dependencies needed by the REST handlers.
type API struct {
	auth    *auth.Manager
	keys    KeySource
	limiter *ipRateLimiter
	clock   clock.Clock
	logger  *slog.Logger
}

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger. Default: discard.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) { a.logger = logger }
}

func WithClock(c clock.Clock) Option {
	return func(a *API) { a.clock = c }
}

// New creates an API over manager. keys may be nil, in which case the
// public key route answers 404.
func New(manager *auth.Manager, keys KeySource, opts ...Option) *API {
	a := &API{auth: manager, keys: keys, clock: clock.Real()}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	a.logger = a.logger.With("component", "api")
	a.limiter = newIPRateLimiter(a.clock)
	return a
}

// Router returns a chi.Router with all API routes. Mount it under /api/v1.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(SecurityHeaders)
	r.Use(a.CSRFMiddleware)

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})
	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/docs",
	}, nil))

	r.Post("/auth/register", a.Register)
	r.Post("/auth/register/child", a.RegisterChild)
	r.Post("/auth/login", a.Login)
	r.Post("/auth/mfa", a.CompleteMFA)
	r.Get("/keys/public", a.PublicKey)

	r.Post("/coppa/consent/verify", a.VerifyConsent)

	r.Group(func(r chi.Router) {
		r.Use(a.AuthMiddleware)
		r.Post("/auth/logout", a.Logout)
		r.Get("/auth/me", a.Me)
		r.Post("/auth/password", a.ChangePassword)
		r.Post("/auth/mfa/enable", a.EnableMFA)

		r.Get("/coppa/profile", a.ChildProfile)
		r.Get("/coppa/limits", a.SessionLimits)
		r.Post("/coppa/usage", a.RecordUsage)
		r.Get("/coppa/data-collection/{type}", a.DataCollection)
		r.Post("/coppa/children/{userID}/consent", a.RequestConsent)
		r.Put("/coppa/children/{userID}/settings", a.UpdateSettings)
	})
	return r
}
