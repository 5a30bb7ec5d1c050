package commands

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pincersec/pincer/internal/config"
	"github.com/pincersec/pincer/internal/logging"
	"github.com/pincersec/pincer/internal/orchestrator"
	"github.com/pincersec/pincer/internal/server"
)

var (
	servePort     int
	serveHostname string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the pincer control API server",
	Long: `Start pincer as a headless server exposing the HTTP control API.

Agents talk to this API to request tool runs; operators answer
permission prompts through it and watch progress over the event
stream.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on")
	serveCmd.Flags().StringVar(&serveHostname, "hostname", "", "Hostname to listen on")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return err
	}

	state, err := orchestrator.New(cfg)
	if err != nil {
		return err
	}
	defer state.Teardown()

	// Watch the catalog so tool edits land without a restart.
	watchCtx, cancelWatch := context.WithCancel(context.Background())
	defer cancelWatch()
	if err := state.Sandboxes.Catalog().Watch(watchCtx); err != nil {
		logging.Warn().Err(err).Msg("catalog watch unavailable")
	}

	srvCfg := server.DefaultConfig()
	srvCfg.Port = cfg.Server.Port
	srvCfg.Hostname = cfg.Server.Hostname
	srvCfg.EnableCORS = cfg.Server.EnableCORS
	if cmd.Flags().Changed("port") {
		srvCfg.Port = servePort
	}
	if cmd.Flags().Changed("hostname") {
		srvCfg.Hostname = serveHostname
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

	return nil
}
