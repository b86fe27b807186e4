package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/tycoon-works/tycoonx/app/indexer"
)

func main() {
	// Local runs keep their config in .env; deployments set real env vars.
	_ = godotenv.Load()

	rebuild := flag.Bool("rebuild", false, "replay the event store into a fresh projection, then exit")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	defer cancel()

	app := indexer.Initialize(ctx)

	if *rebuild {
		if err := app.Rebuild(ctx); err != nil {
			app.Logger.Fatal("Projection rebuild failed", zap.Error(err))
		}
		return
	}

	app.Start(ctx)
}
