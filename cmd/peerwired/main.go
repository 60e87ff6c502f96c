package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/peerwire/internal/admin"
	"github.com/danmuck/peerwire/internal/config"
	"github.com/danmuck/peerwire/internal/conn"
	"github.com/danmuck/peerwire/internal/observability"
	"github.com/danmuck/peerwire/internal/payload"
)

func main() {
	configPath := flag.String("config", "", "path to peerwired.toml (defaults apply when omitted)")
	flag.Parse()

	cfg := config.DefaultDaemonConfig()
	if *configPath != "" {
		loaded, err := config.LoadDaemonConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "peerwired: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	logger := observability.InitLogger(cfg.Name, cfg.LogLevel)
	observability.RegisterMetrics()

	if err := os.MkdirAll(cfg.DownloadDir, 0o755); err != nil {
		logger.Fatal().Err(err).Str("dir", cfg.DownloadDir).Msg("download dir unavailable")
	}

	registry := payload.NewDefaultRegistry(cfg.DownloadDir)
	managerCfg := conn.DefaultConfig()
	managerCfg.IdleTimeout = cfg.IdleTimeout()
	if cfg.WriteBurst > 0 {
		managerCfg.WriteBurst = cfg.WriteBurst
	}

	servers := conn.NewServerSet(registry, logger, managerCfg)
	server, err := servers.GetOrCreate(cfg.ListenHost, cfg.ListenPort)
	if err != nil {
		logger.Fatal().Err(err).Msg("exchange listener failed")
	}

	adminSrv := admin.NewServer(cfg.Name, cfg.AdminAddr, server, cfg.CorsOrigins, logger)
	adminSrv.Start()

	logger.Info().
		Str("listen", fmt.Sprintf("%s:%d", cfg.ListenHost, cfg.ListenPort)).
		Str("admin", cfg.AdminAddr).
		Str("download_dir", cfg.DownloadDir).
		Msg("peerwired up")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	adminSrv.Shutdown(ctx)
	servers.CloseAll()
}
