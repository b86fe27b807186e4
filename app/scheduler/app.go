package scheduler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/tycoon-works/tycoonx/pkg/chain"
	gamedb "github.com/tycoon-works/tycoonx/pkg/db/game"
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
	DB        *gamedb.DB
	Redis     *notify.Client
	Scheduler *scheduler.Scheduler
	Logger    *zap.Logger
	Server    *http.Server
}

// Initialize initializes the application.
func Initialize(ctx context.Context) *App {
	logger, err := logging.New()
	if err != nil {
		// nothing else to do here, we'll just log to stderr'
		panic(err)
	}

	db, err := gamedb.New(ctx, logger, "scheduler")
	if err != nil {
		logger.Fatal("Unable to connect to database", zap.Error(err))
	}

	programID := utils.Env("PROGRAM_ID", "")
	if programID == "" {
		logger.Fatal("PROGRAM_ID environment variable is required")
	}

	table, err := chain.LoadBalanceTable(utils.Env("BALANCE_TABLE_PATH", ""))
	if err != nil {
		logger.Fatal("Unable to load balance table", zap.Error(err))
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

	cfg := scheduler.DefaultConfig()
	cfg.Window = utils.EnvDuration("SCHEDULE_WINDOW", cfg.Window)
	cfg.CronSpec = utils.Env("SCHEDULE_CRON", cfg.CronSpec)
	cfg.BatchSize = utils.EnvInt("SCHEDULE_BATCH_SIZE", cfg.BatchSize)
	cfg.LeaseTTL = utils.EnvDuration("SCHEDULE_LEASE_TTL", cfg.LeaseTTL)
	cfg.RetryCeiling = uint32(utils.EnvInt("SCHEDULE_RETRY_CEILING", int(cfg.RetryCeiling)))
	cfg.WorkerCount = utils.EnvInt("SCHEDULE_WORKERS", cfg.WorkerCount)

	// Seeded first entries and chained next-cycle entries must land on
	// the same hashed offsets.
	applier.NextOffset = func(address string, from time.Time) time.Time {
		return scheduler.NextOffset(address, from, cfg.Window)
	}

	app := &App{
		DB:        db,
		Redis:     redisClient,
		Scheduler: scheduler.New(db, applier, rpcClient, table, logger, cfg),
		Logger:    logger,
	}
	app.setupServer()
	return app
}

func (a *App) setupServer() {
	// use <ip>:<port> to bind to a specific interface or :<port> to bind to all interfaces
	addr := utils.Env("ADDR", ":3003")

	r := mux.NewRouter()
	r.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(200) })).Methods("GET")

	a.Server = &http.Server{Addr: addr, Handler: r}
}

// Start runs the dispatch loop and blocks until the context is canceled.
func (a *App) Start(ctx context.Context) {
	go func() {
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Fatal("Health server failed", zap.Error(err))
		}
	}()

	if err := a.Scheduler.Start(ctx); err != nil {
		a.Logger.Fatal("Unable to start scheduler", zap.Error(err))
	}

	<-ctx.Done()
	a.Scheduler.Stop()
	_ = a.Server.Shutdown(context.Background())
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	_ = a.DB.Close()
	a.Logger.Info("Scheduler service stopped")
}
