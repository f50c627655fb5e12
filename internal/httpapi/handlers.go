package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"

	"covera.io/internal/auth"
	"covera.io/internal/obs"
)

const serviceName = "covera-api"

// ReadyProbe checks the dependencies the API needs to serve traffic.
type ReadyProbe struct {
	DB    *sql.DB
	Redis redis.UniversalClient
}

// Check pings every configured dependency.
func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return err
		}
	}
	if rp.Redis != nil {
		if err := rp.Redis.Ping(ctx).Err(); err != nil {
			return err
		}
	}
	return nil
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// API is the HTTP surface of the auth core.
type API struct {
	mux        *http.ServeMux
	auth       *auth.Service
	readyProbe readinessChecker
	version    string
	validate   *validator.Validate

	loginPerSecond float64
	loginBurst     int
	allowedOrigins []string
	maxBodyBytes   int64
}

// Option configures API.
type Option func(*API)

// WithLoginRateLimit throttles the login route per client IP. Zero disables it.
func WithLoginRateLimit(perSecond float64, burst int) Option {
	return func(a *API) {
		a.loginPerSecond = perSecond
		a.loginBurst = burst
	}
}

// WithAllowedOrigins sets the CORS allow list.
func WithAllowedOrigins(origins []string) Option {
	return func(a *API) { a.allowedOrigins = origins }
}

// WithMaxBodyBytes caps every request body.
func WithMaxBodyBytes(n int64) Option {
	return func(a *API) { a.maxBodyBytes = n }
}

// New wires the routes. svc must not be nil.
func New(svc *auth.Service, rp readinessChecker, version string, opts ...Option) *API {
	if rp == nil {
		rp = ReadyProbe{}
	}
	a := &API{
		mux:          http.NewServeMux(),
		auth:         svc,
		readyProbe:   rp,
		version:      version,
		validate:     newValidator(),
		maxBodyBytes: maxJSONBody,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.routes()
	return a
}

func (a *API) routes() {
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	var login http.Handler = http.HandlerFunc(a.login)
	if a.loginPerSecond > 0 {
		login = RateLimit(login, a.loginBurst, a.loginPerSecond)
	}
	a.mux.Handle("/v1/auth/login", login)
	a.mux.HandleFunc("/v1/auth/logout", a.logout)
	a.mux.HandleFunc("/v1/auth/me", a.me)
	a.mux.HandleFunc("/v1/auth/refresh", a.refresh)

	a.mux.HandleFunc("/v1/modules", a.modules)
	a.mux.Handle("/v1/modules/{module}/capabilities",
		RequireModule(a.auth, PathModule("module"))(http.HandlerFunc(a.capabilities)))

	manageAccess := []func(http.Handler) http.Handler{
		RequireModule(a.auth, FixedModule(auth.ModuleAdmin)),
		RequirePermission(a.auth, auth.ScopeWeb, auth.PermManageModuleAccess, AllowSystemAdmin()),
	}
	a.mux.Handle("/v1/admin/users/{id}/modules", chain(http.HandlerFunc(a.userModules), manageAccess...))
	a.mux.Handle("/v1/admin/users/{id}/modules/{module}", chain(http.HandlerFunc(a.revokeModule), manageAccess...))
	a.mux.Handle("/v1/admin/users/{id}/status", chain(http.HandlerFunc(a.userStatus),
		RequireModule(a.auth, FixedModule(auth.ModuleAdmin)),
		RequirePermission(a.auth, auth.ScopeWeb, auth.PermManageUsers, AllowSystemAdmin()),
	))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = withAuth(a.auth, a.mux)
	h = obs.Instrument(h)
	h = MaxBodyBytes(h, a.maxBodyBytes)
	h = CORS(h, a.allowedOrigins)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	return RequestID(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.readyProbe.Check(ctx); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"version": a.version,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"modules": auth.AllModules(),
	})
}
