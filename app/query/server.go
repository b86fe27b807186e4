package query

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/tycoon-works/tycoonx/app/query/controller"
	"github.com/tycoon-works/tycoonx/app/query/types"
	"github.com/tycoon-works/tycoonx/pkg/utils"
)

// NewServer wires the router into app.Server.
func NewServer(app *types.App) error {
	ctler := controller.NewController(app)
	router, err := ctler.NewRouter()
	if err != nil {
		return err
	}

	// use <ip>:<port> to bind to a specific interface or :<port> to bind to all interfaces
	addr := utils.Env("ADDR", ":3001")

	app.Server = &http.Server{Addr: addr, Handler: controller.WithCORS(router)}
	app.Logger.Info("Starting server", zap.String("addr", addr))

	return nil
}
