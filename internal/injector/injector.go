//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package injector

import (
	"github.com/google/wire"

	"github.com/zeusync/railgrind/internal/config"
	"github.com/zeusync/railgrind/internal/core/events/bus"
	"github.com/zeusync/railgrind/internal/core/heartbeat"
	"github.com/zeusync/railgrind/internal/core/observability/log"
	"github.com/zeusync/railgrind/internal/server"
)

// CoreSet provides the frame clock, the event bus and a level-aware logger.
var CoreSet = wire.NewSet(
	ProvideLogger,
	wire.Bind(new(log.Log), new(*log.Logger)),
	bus.New,
	heartbeat.New,
)

// InitializeApp assembles the server and its logger for cfg.
func InitializeApp(cfg config.Config) (*App, error) {
	wire.Build(CoreSet, server.NewServer, NewApp)
	return nil, nil
}
