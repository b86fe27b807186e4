package types

import (
	"net/http"

	gamedb "github.com/tycoon-works/tycoonx/pkg/db/game"
	"github.com/tycoon-works/tycoonx/pkg/notify"
	"go.uber.org/zap"
)

// App holds the query service's shared dependencies.
type App struct {
	DB        *gamedb.DB
	Redis     *notify.Client
	ProgramID string

	Logger *zap.Logger
	Server *http.Server
}
