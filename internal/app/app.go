// Package app wires the chargehub dependency graph.
package app

import (
	"context"
	"database/sql"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"chargehub/internal/auth"
	"chargehub/internal/config"
	"chargehub/internal/db"
	"chargehub/internal/errorlog"
	"chargehub/internal/gateway"
	"chargehub/internal/httpserver"
	"chargehub/internal/httpserver/handlers"
	"chargehub/internal/metrics"
	"chargehub/internal/redisconn"
	"chargehub/internal/registry"
	"chargehub/internal/session"
	"chargehub/internal/simulator"
	"chargehub/internal/stats"
	"chargehub/internal/users"
)

// App owns the long-lived resources of the service.
type App struct {
	server      *httpserver.Server
	simulator   *simulator.Simulator
	db          *sql.DB
	redisClient *redis.Client
	logger      *zap.Logger
}

// New constructs the application graph. With an empty database DSN the
// service runs entirely on in-memory stores, which is how the tests and
// local development run it.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{logger: logger}

	var store gateway.Store
	if cfg.Database.DSN != "" {
		sqlDB, err := db.NewPostgres(cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		a.db = sqlDB
		pg := gateway.NewPostgres(sqlDB)
		if err := pg.Migrate(ctx); err != nil {
			a.Close()
			return nil, err
		}
		store = pg
	} else {
		logger.Warn("no database dsn configured, using in-memory store")
		store = gateway.NewMemory()
	}

	var locks session.ExclusivityStore
	if cfg.Redis.Addr != "" {
		client, err := redisconn.New(cfg.Redis.Addr, cfg.Redis.Password)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.redisClient = client
		locks = session.NewRedisExclusivity(client)
	} else {
		logger.Warn("no redis addr configured, using in-memory exclusivity store")
		locks = session.NewMemoryExclusivity()
	}

	m := metrics.New()
	errlog := errorlog.NewService(store, logger)
	reg := registry.New(store, logger)
	sessions := session.NewManager(store, reg, locks, errlog, logger)
	statsSvc := stats.NewService(reg, sessions)
	userSvc := users.NewService(store, auth.NewBcryptHasher(0), logger)
	tokens := auth.NewJWT(cfg.Auth.Secret, cfg.Auth.TokenTTL)

	if cfg.Simulator.Enabled {
		a.simulator = simulator.New(sessions, reg, errlog, m, logger,
			cfg.Simulator.Interval, cfg.Simulator.TickSeconds, cfg.Simulator.TicksPerRun)
	}

	routes := httpserver.Routes{
		Health:  handlers.NewHealthHandler("chargehub"),
		Metrics: m.Handler(),

		Signup: handlers.NewSignupHandler(userSvc),
		Login:  handlers.NewLoginHandler(userSvc, tokens),

		ListStations:        handlers.NewListStationsHandler(reg),
		GetStation:          handlers.NewGetStationHandler(reg),
		CreateStation:       handlers.NewCreateStationHandler(reg),
		UpdateStationStatus: handlers.NewUpdateStationStatusHandler(reg),
		UpdateTariff:        handlers.NewUpdateTariffHandler(reg),
		FreePorts:           handlers.NewFreePortsHandler(reg),
		UpdatePortStatus:    handlers.NewUpdatePortStatusHandler(reg),

		StartSession:   handlers.NewStartSessionHandler(sessions),
		StopSession:    handlers.NewStopSessionHandler(sessions),
		ActiveSession:  handlers.NewActiveSessionHandler(sessions),
		SessionHistory: handlers.NewSessionHistoryHandler(sessions),
		GetSession:     handlers.NewGetSessionHandler(sessions),
		ListSessions:   handlers.NewListSessionsHandler(sessions),

		ListErrors:        handlers.NewListErrorLogsHandler(errlog),
		UpdateErrorStatus: handlers.NewUpdateErrorStatusHandler(errlog),
		Stats:             handlers.NewStatsHandler(statsSvc),
		StatsStream:       handlers.NewStatsStreamHandler(statsSvc, cfg.Simulator.Interval, logger),

		GetProfile:    handlers.NewGetProfileHandler(userSvc),
		UpdateProfile: handlers.NewUpdateProfileHandler(userSvc),

		ListUsers:      handlers.NewListUsersHandler(userSvc),
		UpdateUserRole: handlers.NewUpdateUserRoleHandler(userSvc),
		BlockUser:      handlers.NewBlockUserHandler(userSvc),
		DeleteUser:     handlers.NewDeleteUserHandler(userSvc),
	}

	router := httpserver.NewRouter(routes, httpserver.RouterDeps{
		Provider: tokens,
		Limiter:  rate.NewLimiter(rate.Limit(cfg.RateLimit.RPS), cfg.RateLimit.Burst),
		Metrics:  m,
		Logger:   logger,
	})
	a.server = httpserver.NewServer(cfg.HTTPAddress(), router, logger)

	return a, nil
}

// Run starts the HTTP server and, when enabled, the charging simulator.
// It blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if a.simulator != nil {
		go a.simulator.Run(ctx)
	}
	return a.server.Run(ctx)
}

// Close releases resources.
func (a *App) Close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close db", zap.Error(err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
}
