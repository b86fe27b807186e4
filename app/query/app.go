package query

import (
	"context"
	"errors"
	"net/http"

	"github.com/tycoon-works/tycoonx/app/query/types"
	gamedb "github.com/tycoon-works/tycoonx/pkg/db/game"
	"github.com/tycoon-works/tycoonx/pkg/logging"
	"github.com/tycoon-works/tycoonx/pkg/notify"
	"github.com/tycoon-works/tycoonx/pkg/utils"
	"go.uber.org/zap"
)

// Initialize initializes the application.
func Initialize(ctx context.Context) *types.App {
	logger, err := logging.New()
	if err != nil {
		// nothing else to do here, we'll just log to stderr'
		panic(err)
	}

	db, err := gamedb.New(ctx, logger, "query")
	if err != nil {
		logger.Fatal("Unable to connect to database", zap.Error(err))
	}

	// Redis is optional here: without it the /ws endpoint degrades to 503
	// and every REST route keeps working.
	var redisClient *notify.Client
	if utils.Env("REDIS_ENABLED", "false") == "true" {
		redisClient, err = notify.NewClient(ctx, logger)
		if err != nil {
			logger.Warn("Failed to initialize Redis client - WebSocket real-time events will be disabled",
				zap.Error(err))
			redisClient = nil
		}
	} else {
		logger.Info("Redis disabled - WebSocket real-time events will not be available")
	}

	return &types.App{
		DB:        db,
		Redis:     redisClient,
		ProgramID: utils.Env("PROGRAM_ID", "tycoon"),
		Logger:    logger,
	}
}

// Start runs the HTTP server and blocks until the context is canceled.
func Start(ctx context.Context, app *types.App) {
	go func() {
		if err := app.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.Logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	_ = app.Server.Shutdown(context.Background())
	app.DB.Close()
	if app.Redis != nil {
		_ = app.Redis.Close()
	}
	app.Logger.Info("Query service stopped")
}
