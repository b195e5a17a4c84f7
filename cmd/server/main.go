package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/zeusync/railgrind/internal/config"
	"github.com/zeusync/railgrind/internal/core/observability/log"
	"github.com/zeusync/railgrind/internal/injector"
)

func main() {
	configPath := flag.String("config", "configs/server.yaml", "path to the server config (yaml or json)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	missing := errors.Is(err, fs.ErrNotExist)
	if missing {
		cfg, err = config.DefaultConfig(), nil
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error loading config:", err)
		os.Exit(1)
	}

	app, err := injector.InitializeApp(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error creating server:", err)
		os.Exit(1)
	}
	logger := app.Logger
	defer func() { _ = logger.Sync() }()
	if missing {
		logger.Warn("Config file not found, using defaults", log.String("path", *configPath))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err = app.Server.Run(ctx); err != nil {
		logger.Error("Server stopped with error", log.Error(err))
		os.Exit(1)
	}
}
