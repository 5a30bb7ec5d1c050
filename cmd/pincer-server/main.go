// Package main provides the standalone pincer server entry point.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/pincersec/pincer/internal/config"
	"github.com/pincersec/pincer/internal/logging"
	"github.com/pincersec/pincer/internal/orchestrator"
	"github.com/pincersec/pincer/internal/server"
)

var (
	port       = flag.Int("port", 0, "Server port (0 = config value)")
	hostname   = flag.String("hostname", "", "Hostname to listen on")
	configPath = flag.String("config", "", "Path to config file")
	logLevel   = flag.String("log-level", "", "Log level (debug|info|warn|error)")
	version    = flag.Bool("version", false, "Print version and exit")
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("pincer-server %s (%s)\n", Version, BuildTime)
		os.Exit(0)
	}

	godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = logging.ParseLevel(cfg.Log.Level)
	logCfg.Pretty = cfg.Log.Pretty
	logging.Init(logCfg)

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		logging.Fatal().Err(err).Msg("failed to create data directories")
	}

	state, err := orchestrator.New(cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to initialize orchestrator")
	}
	defer state.Teardown()

	watchCtx, cancelWatch := context.WithCancel(context.Background())
	defer cancelWatch()
	if err := state.Sandboxes.Catalog().Watch(watchCtx); err != nil {
		logging.Warn().Err(err).Msg("catalog watch unavailable")
	}

	srvCfg := server.DefaultConfig()
	srvCfg.Port = cfg.Server.Port
	srvCfg.Hostname = cfg.Server.Hostname
	srvCfg.EnableCORS = cfg.Server.EnableCORS
	if *port != 0 {
		srvCfg.Port = *port
	}
	if *hostname != "" {
		srvCfg.Hostname = *hostname
	}

	srv := server.New(srvCfg, state)

	go func() {
		logging.Info().
			Str("version", Version).
			Str("hostname", srvCfg.Hostname).
			Int("port", srvCfg.Port).
			Msg("pincer server listening")
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logging.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("server shutdown error")
	}
}
