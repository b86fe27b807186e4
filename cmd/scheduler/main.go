package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/tycoon-works/tycoonx/app/scheduler"
)

func main() {
	// Local runs keep their config in .env; deployments set real env vars.
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	defer cancel()

	app := scheduler.Initialize(ctx)

	app.Start(ctx)
}
