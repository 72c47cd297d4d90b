// Copyright 2026 The PeerChat Authors
// SPDX-License-Identifier: Apache-2.0

// Peerchat-server is the relay for a closed peerchat network. It
// serves the invite and login API, signs broadcast messages, and
// forwards WebRTC signaling between connected peers.
package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/peerchat-foundation/peerchat/api"
	"github.com/peerchat-foundation/peerchat/lib/clock"
	"github.com/peerchat-foundation/peerchat/lib/config"
	"github.com/peerchat-foundation/peerchat/lib/invite"
	"github.com/peerchat-foundation/peerchat/lib/session"
	"github.com/peerchat-foundation/peerchat/lib/signature"
	"github.com/peerchat-foundation/peerchat/lib/version"
	"github.com/peerchat-foundation/peerchat/relay"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var showVersion bool

	flag.StringVar(&configPath, "config", "", "path to config file (optional; defaults and PEERCHAT_* env apply)")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("peerchat-server %s\n", version.Info())
		return nil
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.OwnerToken == "" {
		return fmt.Errorf("owner_token is required (config file or PEERCHAT_OWNER_TOKEN)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	public, private, generated, err := signature.LoadOrGenerateKeypair(cfg.StateDir)
	if err != nil {
		return fmt.Errorf("failed to load signing keypair: %w", err)
	}
	logger.Info("relay identity ready",
		"public_key", base64.StdEncoding.EncodeToString(public),
		"generated", generated,
		"state_dir", cfg.StateDir,
	)

	registerer := prometheus.NewRegistry()
	registerer.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	relayMetrics := relay.NewMetrics(registerer)
	apiMetrics := api.NewMetrics(registerer)

	registry := relay.NewRegistry(relay.RegistryConfig{
		Logger:     logger,
		PrivateKey: private,
		Metrics:    relayMetrics,
	})
	authenticator := session.New(session.Config{
		PublicKey:  public,
		PrivateKey: private,
		Announcer:  registry,
		Clock:      clock.Real(),
		Logger:     logger,
	})
	go authenticator.RunJanitor(ctx)

	apiService := api.New(api.Config{
		OwnerToken:      cfg.OwnerToken,
		Issuer:          invite.NewIssuer(private, clock.Real()),
		ServerPublicKey: public,
		Authenticator:   authenticator,
		Registry:        registry,
		Logger:          logger,
		Metrics:         apiMetrics,
	})
	realtime := relay.NewHandler(relay.HandlerConfig{
		Registry: registry,
		Verifier: authenticator,
		Logger:   logger,
		Metrics:  relayMetrics,
	})

	if cfg.MetricsAddress != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.HandlerFor(registerer, promhttp.HandlerOpts{}))
		metricsMux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		metricsServer := api.NewHTTPServer(api.HTTPServerConfig{
			Address: cfg.MetricsAddress,
			Handler: metricsMux,
			Logger:  logger.With("server", "metrics"),
		})
		go func() {
			if err := metricsServer.Serve(ctx); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	server := api.NewHTTPServer(api.HTTPServerConfig{
		Address: cfg.ListenAddress,
		Handler: apiService.Routes(realtime),
		Logger:  logger.With("server", "api"),
	})

	logger.Info("starting peerchat-server",
		"version", version.Info(),
		"listen_address", cfg.ListenAddress,
		"metrics_address", cfg.MetricsAddress,
	)
	return server.Serve(ctx)
}
