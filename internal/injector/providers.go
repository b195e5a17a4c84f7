package injector

import (
	"github.com/zeusync/railgrind/internal/config"
	"github.com/zeusync/railgrind/internal/core/observability/log"
	"github.com/zeusync/railgrind/internal/server"
)

// App is everything cmd/server needs to run.
type App struct {
	Server *server.Server
	Logger *log.Logger
}

func NewApp(srv *server.Server, logger *log.Logger) *App {
	return &App{Server: srv, Logger: logger}
}

// ProvideLogger builds the logger at the configured level.
func ProvideLogger(cfg config.Config) *log.Logger {
	return log.New(cfg.Level())
}
