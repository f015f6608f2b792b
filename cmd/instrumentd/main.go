package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nereid-labs/instrumentd/internal/cankit"
	"github.com/nereid-labs/instrumentd/internal/dispatch"
	"github.com/nereid-labs/instrumentd/internal/frontend"
	"github.com/nereid-labs/instrumentd/internal/metrics"
)

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("instrumentd %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(1)
	}
	l := setupLogger(cfg.verbose)
	l.Info("build_info", "version", version, "commit", commit, "date", date)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dispatch.SetVersion(versionMajor, versionMinor, versionBuild)
	disp := dispatch.New(ctx, cfg.dropDelay, cankit.Factory(ctx, l), l)

	srv := frontend.New(frontend.Options{
		ListenAddr:    fmt.Sprintf(":%d", cfg.port),
		HTTPAddr:      fmt.Sprintf(":%d", cfg.httpPort),
		BroadcastReqs: cfg.broadcast,
		DropDelay:     cfg.dropDelay,
	}, disp, l)

	srvErrCh := make(chan error, 1)
	go func() { srvErrCh <- srv.Serve(ctx) }()

	go func() {
		if !cfg.mdnsEnable {
			return
		}
		cleanupMDNS, err := startMDNS(ctx, cfg, cfg.port)
		if err != nil {
			l.Warn("mdns_start_failed", "error", err)
			return
		}
		l.Info("mdns_started", "service", mdnsServiceType, "port", cfg.port)
		go func() { <-ctx.Done(); cleanupMDNS() }()
	}()

	metrics.SetReadinessFunc(func() bool { return ctx.Err() == nil })
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		metricsSrv := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = metricsSrv.Shutdown(context.Background()) }()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sigCh:
		l.Info("shutdown_signal", "signal", s.String())
	case <-disp.Done():
		l.Info("shutdown_requested")
	case err := <-srvErrCh:
		if err != nil && err != context.Canceled {
			l.Error("frontend_serve_error", "error", err)
		}
	}
	cancel()
	disp.DropAll()
	slog.Default().Info("shutdown_complete")
}
