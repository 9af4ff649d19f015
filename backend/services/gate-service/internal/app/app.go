package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"parkgate/backend/libs/db"
	libredis "parkgate/backend/libs/redis"
	"parkgate/backend/services/gate-service/internal/auth"
	"parkgate/backend/services/gate-service/internal/clients"
	"parkgate/backend/services/gate-service/internal/clock"
	"parkgate/backend/services/gate-service/internal/config"
	"parkgate/backend/services/gate-service/internal/fee"
	httpserver "parkgate/backend/services/gate-service/internal/http"
	"parkgate/backend/services/gate-service/internal/http/handlers"
	"parkgate/backend/services/gate-service/internal/http/middleware"
	"parkgate/backend/services/gate-service/internal/metrics"
	redisstore "parkgate/backend/services/gate-service/internal/redis"
	"parkgate/backend/services/gate-service/internal/repository"
	"parkgate/backend/services/gate-service/internal/scanner"
	"parkgate/backend/services/gate-service/internal/service"
	"parkgate/backend/services/gate-service/internal/worker"
)

const startupTimeout = 15 * time.Second

// App wires gate-service dependencies.
type App struct {
	server      *httpserver.Server
	expiry      *worker.ExpiryWorker
	gates       *scanner.Manager
	db          *sql.DB
	redisClient *redis.Client
	logger      *zap.Logger
}

// New constructs the application graph.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	a := &App{logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	httpClient := clients.NewDefaultHTTPClient(cfg.BackendTimeout())
	var tokens clients.TokenSource
	if cfg.HasCredentials() {
		authClient := clients.NewAuthClient(cfg.Backend.URL, httpClient, cfg.Backend.Credentials, logger)
		tokens = auth.NewTokenSource(authClient, cfg.Backend.TokenLeeway, logger)
	} else {
		logger.Warn("no backend credentials configured, calling the parking API anonymously")
	}
	backend := clients.NewParkingClient(cfg.Backend.URL, httpClient, tokens, cfg.Backend.Retry, logger)

	var ledger service.PaymentLedger
	if cfg.Database.DSN != "" {
		sqlDB, err := db.NewPostgresDB(ctx, cfg.Database.DSN, db.PoolOptions{MaxOpenConns: cfg.Database.MaxOpenConns})
		if err != nil {
			return nil, fmt.Errorf("connect payment ledger: %w", err)
		}
		a.db = sqlDB
		repo := repository.NewPaymentRepository(sqlDB)
		if err := repo.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("prepare payment ledger: %w", err)
		}
		ledger = repo
	} else {
		logger.Warn("no database configured, payments are kept in memory")
		ledger = repository.NewMemoryLedger()
	}

	var bookings service.BookingCache
	if cfg.Redis.Addr != "" {
		redisClient, err := libredis.NewRedisClient(ctx, libredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, fmt.Errorf("connect booking cache: %w", err)
		}
		a.redisClient = redisClient
		bookings = redisstore.NewBookingStore(redisClient, cfg.BookingTTL())
	} else {
		logger.Warn("no redis configured, booking recovery is disabled")
	}

	calc, err := fee.NewCalculator(cfg.Tariff)
	if err != nil {
		return nil, fmt.Errorf("tariff: %w", err)
	}
	m := metrics.New()

	coord, err := service.NewCoordinator(service.Deps{
		Backend:         backend,
		Ledger:          ledger,
		Bookings:        bookings,
		Calculator:      calc,
		Clock:           clock.NewSystem(),
		Metrics:         m,
		ReservationHold: cfg.Lifecycle.ReservationHold,
	}, logger)
	if err != nil {
		return nil, err
	}
	a.expiry = worker.NewExpiryWorker(coord, cfg.Lifecycle.ExpiryInterval, logger)

	a.gates = scanner.NewManager(0)
	feed := scanner.NewServer(
		a.gates,
		handlers.NewScanProcessor(coord, logger),
		scanner.NewDeviceKeys(cfg.Scanner.DeviceKeyHash),
		scanner.FeedOptions{Debounce: cfg.Scanner.Debounce, WriteTimeout: cfg.Scanner.WriteTimeout},
		m,
		logger,
	)

	router := httpserver.NewRouter(httpserver.RouterDeps{
		BookingHandlers: handlers.NewBookingHandlers(coord, logger),
		GateHandlers:    handlers.NewGateHandlers(coord, logger),
		SessionHandlers: handlers.NewSessionHandlers(coord, logger),
		ZoneHandlers:    handlers.NewZoneHandlers(coord, logger),
		HealthHandler:   handlers.NewHealthHandler(),
		MetricsHandler:  m.Handler(),
		ScannerHandler:  feed.HandleWS,
	}, middleware.AuthMiddleware(cfg.JWT.Secret))

	a.server = httpserver.NewServer(
		cfg.HTTPAddress(),
		router,
		logger,
		middleware.RecoveryMiddleware(logger),
		middleware.LoggingMiddleware(logger),
	)
	a.server.OnShutdown(a.gates.CloseAll)

	ok = true
	return a, nil
}

// Run serves HTTP and the scanner feeds and sweeps expired reservations until ctx ends.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.expiry.Start(ctx)
	defer a.expiry.Stop()

	gatesDone := make(chan struct{})
	go func() {
		defer close(gatesDone)
		a.gates.Start(ctx)
	}()

	err := a.server.Run(ctx)
	cancel()
	<-gatesDone
	return err
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
