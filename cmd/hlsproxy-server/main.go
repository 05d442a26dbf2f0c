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

	"github.com/aminofox/hlsproxy/pkg/api"
	"github.com/aminofox/hlsproxy/pkg/config"
	"github.com/aminofox/hlsproxy/pkg/logger"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	configFile := flag.String("config", "", "Path to config file (optional; env vars always apply)")
	devMode := flag.Bool("dev", false, "Enable development mode (debug logging)")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("hlsproxy-server %s (commit: %s, built: %s)\n", version, commit, date)
		return
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	level := logger.ParseLevel(cfg.Logging.Level)
	if *devMode {
		level = logger.DebugLevel
	}
	log := logger.NewDefaultLogger(level, cfg.Logging.Format)

	server, err := api.NewServer(cfg, log)
	if err != nil {
		log.Error("failed to build server", logger.Err(err))
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:         server.Addr(),
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info("starting hlsproxy server", logger.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", logger.Err(err))
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Info("shutdown signal received, starting graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", logger.Err(err))
		os.Exit(1)
	}

	log.Info("hlsproxy server stopped")
}
