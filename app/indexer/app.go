package indexer

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	gamedb "github.com/tycoon-works/tycoonx/pkg/db/game"
	"github.com/tycoon-works/tycoonx/pkg/indexer"
	"github.com/tycoon-works/tycoonx/pkg/logging"
	"github.com/tycoon-works/tycoonx/pkg/notify"
	"github.com/tycoon-works/tycoonx/pkg/projection"
	"github.com/tycoon-works/tycoonx/pkg/referral"
	"github.com/tycoon-works/tycoonx/pkg/rpc"
	"github.com/tycoon-works/tycoonx/pkg/scheduler"
	"github.com/tycoon-works/tycoonx/pkg/utils"
	"go.uber.org/zap"
)

type App struct {
	DB      *gamedb.DB
	Redis   *notify.Client
	Indexer *indexer.Indexer
	Applier *projection.Applier
	Logger  *zap.Logger
	Server  *http.Server
}

// Initialize initializes the application.
func Initialize(ctx context.Context) *App {
	logger, err := logging.New()
	if err != nil {
		// nothing else to do here, we'll just log to stderr'
		panic(err)
	}

	db, err := gamedb.New(ctx, logger, "indexer")
	if err != nil {
		logger.Fatal("Unable to connect to database", zap.Error(err))
	}

	programID := utils.Env("PROGRAM_ID", "")
	if programID == "" {
		logger.Fatal("PROGRAM_ID environment variable is required")
	}

	endpoints := strings.Split(utils.Env("RPC_ENDPOINTS", "http://localhost:8899"), ",")
	rpcClient := rpc.NewHTTPWithOpts(rpc.Opts{
		Endpoints:       endpoints,
		RPS:             utils.EnvInt("RPC_RPS", 50),
		Burst:           utils.EnvInt("RPC_BURST", 100),
		BreakerFailures: 5,
		BreakerCooldown: 15 * time.Second,
	})

	engine := referral.NewEngine(db, logger)
	applier := projection.NewApplier(db, engine, logger)

	// Seeded schedule entries need the same hashed offsets the scheduler
	// uses, without this service running a dispatch loop of its own.
	window := utils.EnvDuration("SCHEDULE_WINDOW", 24*time.Hour)
	applier.NextOffset = func(address string, from time.Time) time.Time {
		return scheduler.NextOffset(address, from, window)
	}

	var redisClient *notify.Client
	if utils.Env("REDIS_ENABLED", "false") == "true" {
		redisClient, err = notify.NewClient(ctx, logger)
		if err != nil {
			logger.Warn("Failed to initialize Redis client - notifications disabled", zap.Error(err))
			redisClient = nil
		} else {
			applier.Notifier = notify.NewPublisher(redisClient, programID, logger)
		}
	}

	cfg := indexer.DefaultConfig(programID)
	cfg.ConfirmationDepth = uint64(utils.EnvInt64("CONFIRMATION_DEPTH", int64(cfg.ConfirmationDepth)))
	cfg.StartSlot = uint64(utils.EnvInt64("START_SLOT", 0))
	cfg.PollInterval = utils.EnvDuration("POLL_INTERVAL", cfg.PollInterval)

	app := &App{
		DB:      db,
		Redis:   redisClient,
		Indexer: indexer.New(cfg, rpcClient, db, applier, logger),
		Applier: applier,
		Logger:  logger,
	}
	app.setupServer()
	return app
}

// Rebuild replays the full event store into a fresh projection, then
// tears the app down. Meant to run as a one-shot maintenance mode while
// the regular indexer loop is stopped.
func (a *App) Rebuild(ctx context.Context) error {
	// No notifications during replay; subscribers already saw these
	// events the first time around.
	a.Applier.Notifier = nil

	err := a.Applier.Rebuild(ctx)

	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	_ = a.DB.Close()
	return err
}

func (a *App) setupServer() {
	// use <ip>:<port> to bind to a specific interface or :<port> to bind to all interfaces
	addr := utils.Env("ADDR", ":3002")

	r := mux.NewRouter()
	r.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(200) })).Methods("GET")
	r.Handle("/readyz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if a.Indexer.Healthy() {
			w.WriteHeader(200)
		} else {
			w.WriteHeader(503)
		}
	})).Methods("GET")

	a.Server = &http.Server{Addr: addr, Handler: r}
}

// Start runs the poll loop and blocks until the context is canceled or
// the indexer hits a fatal error.
func (a *App) Start(ctx context.Context) {
	go func() {
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Fatal("Health server failed", zap.Error(err))
		}
	}()

	if err := a.Indexer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error("Indexer stopped", zap.Error(err))
	}

	_ = a.Server.Shutdown(context.Background())
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	_ = a.DB.Close()
	a.Logger.Info("Indexer service stopped")
}
