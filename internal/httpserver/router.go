package httpserver

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"chargehub/internal/auth"
	"chargehub/internal/httpserver/middleware"
	"chargehub/internal/metrics"
	"chargehub/internal/models"
)

// Routes groups the handlers the router mounts. Nil entries are skipped so
// tests can mount a subset.
type Routes struct {
	Health  http.HandlerFunc
	Metrics http.Handler

	Signup http.HandlerFunc
	Login  http.HandlerFunc

	ListStations        http.HandlerFunc
	GetStation          http.HandlerFunc
	CreateStation       http.HandlerFunc
	UpdateStationStatus http.HandlerFunc
	UpdateTariff        http.HandlerFunc
	FreePorts           http.HandlerFunc
	UpdatePortStatus    http.HandlerFunc

	StartSession   http.HandlerFunc
	StopSession    http.HandlerFunc
	ActiveSession  http.HandlerFunc
	SessionHistory http.HandlerFunc
	GetSession     http.HandlerFunc
	ListSessions   http.HandlerFunc

	ListErrors        http.HandlerFunc
	UpdateErrorStatus http.HandlerFunc
	Stats             http.HandlerFunc
	StatsStream       http.HandlerFunc

	GetProfile    http.HandlerFunc
	UpdateProfile http.HandlerFunc

	ListUsers      http.HandlerFunc
	UpdateUserRole http.HandlerFunc
	BlockUser      http.HandlerFunc
	DeleteUser     http.HandlerFunc
}

// RouterDeps carries the cross-cutting pieces every route shares.
type RouterDeps struct {
	Provider auth.Provider
	Limiter  *rate.Limiter
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

// NewRouter registers endpoints. Every route is rate limited and observed;
// routes past the auth boundary verify the bearer token and the caller's
// role grants.
func NewRouter(routes Routes, deps RouterDeps) http.Handler {
	mux := http.NewServeMux()

	mount := func(pattern string, h http.Handler, wrap ...func(http.Handler) http.Handler) {
		chain := []func(http.Handler) http.Handler{
			middleware.RateLimit(deps.Limiter),
			middleware.Observe(deps.Logger, deps.Metrics, routeLabel(pattern)),
		}
		chain = append(chain, wrap...)
		mux.Handle(pattern, middleware.Chain(h, chain...))
	}
	handle := func(pattern string, h http.HandlerFunc, wrap ...func(http.Handler) http.Handler) {
		if h == nil {
			return
		}
		mount(pattern, h, wrap...)
	}

	authed := middleware.Authenticate(deps.Provider)
	perm := func(p auth.Permission) func(http.Handler) http.Handler {
		return middleware.RequirePermission(p)
	}

	handle("GET /health", routes.Health)
	if routes.Metrics != nil {
		mount("GET /metrics", routes.Metrics)
	}

	handle("POST /api/auth/signup", routes.Signup)
	handle("POST /api/auth/login", routes.Login)

	handle("GET /api/stations", routes.ListStations, authed, perm(auth.PermStationsRead))
	handle("GET /api/stations/{id}", routes.GetStation, authed, perm(auth.PermStationsRead))
	handle("POST /api/stations", routes.CreateStation, authed, perm(auth.PermStationsCreate))
	handle("PATCH /api/stations/{id}/status", routes.UpdateStationStatus, authed, perm(auth.PermStationsSetMode))
	handle("PATCH /api/stations/{id}/tariff", routes.UpdateTariff, authed, perm(auth.PermStationsUpdateTariff))
	handle("GET /api/stations/{id}/free-ports", routes.FreePorts, authed, perm(auth.PermStationsRead))
	handle("PATCH /api/stations/{id}/ports/{portId}/status", routes.UpdatePortStatus, authed, perm(auth.PermStationsSetMode))

	handle("POST /api/sessions/start", routes.StartSession, authed, perm(auth.PermSessionsCreate))
	// Stop is open to any authenticated caller; the manager enforces
	// ownership unless the role carries the force-stop grant.
	handle("POST /api/sessions/{id}/stop", routes.StopSession, authed)
	handle("GET /api/sessions/active", routes.ActiveSession, authed)
	handle("GET /api/sessions/history", routes.SessionHistory, authed)
	handle("GET /api/sessions/{id}", routes.GetSession, authed)
	handle("GET /api/sessions", routes.ListSessions, authed,
		middleware.RequireRole(models.RoleTechSupport, models.RoleAdmin))

	handle("GET /api/errors", routes.ListErrors, authed, perm(auth.PermErrorsRead))
	handle("PATCH /api/errors/{id}/status", routes.UpdateErrorStatus, authed, perm(auth.PermErrorsUpdate))
	handle("GET /api/stats", routes.Stats, authed, perm(auth.PermStatsRead))
	handle("GET /api/stats/stream", routes.StatsStream, authed, perm(auth.PermStatsRead))

	handle("GET /api/profile", routes.GetProfile, authed, perm(auth.PermProfileRead))
	handle("PATCH /api/profile", routes.UpdateProfile, authed, perm(auth.PermProfileUpdate))

	handle("GET /api/admin/users", routes.ListUsers, authed, perm(auth.PermUsersManage))
	handle("PATCH /api/admin/users/{id}/role", routes.UpdateUserRole, authed, perm(auth.PermUsersManage))
	handle("PATCH /api/admin/users/{id}/block", routes.BlockUser, authed, perm(auth.PermUsersManage))
	handle("DELETE /api/admin/users/{id}", routes.DeleteUser, authed, perm(auth.PermUsersManage))

	return mux
}

// routeLabel strips the method so metrics keep a bounded cardinality label
// like "/api/stations/{id}".
func routeLabel(pattern string) string {
	if i := strings.IndexByte(pattern, ' '); i >= 0 {
		return pattern[i+1:]
	}
	return pattern
}
