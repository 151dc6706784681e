// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Anvilgate runs a single-player Ethereum challenge environment. It
// provisions a local anvil node with the challenge contracts deployed,
// then exposes only a filtered subset of the node's JSON-RPC surface to
// the player, over HTTP and WebSocket, together with a status page that
// hands out the player's credentials and the flag once solved.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/anvilgate/environment"
	"github.com/bureau-foundation/anvilgate/lib/anvil"
	"github.com/bureau-foundation/anvilgate/lib/envrecord"
	"github.com/bureau-foundation/anvilgate/lib/forge"
	"github.com/bureau-foundation/anvilgate/lib/oracle"
	"github.com/bureau-foundation/anvilgate/lib/process"
	"github.com/bureau-foundation/anvilgate/lib/version"
	"github.com/bureau-foundation/anvilgate/proxy"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath         string
		listenAddress      string
		logLevel           string
		provisionAtStartup bool
		showVersion        bool
	)

	flags := pflag.NewFlagSet("anvilgate", pflag.ContinueOnError)
	flags.StringVar(&configPath, "config", "", "path to a YAML config file (defaults apply when omitted)")
	flags.StringVar(&listenAddress, "listen", "", "public listen address (overrides listen_address)")
	flags.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, or error (overrides log.level)")
	flags.BoolVar(&provisionAtStartup, "provision-at-startup", false, "provision the environment immediately instead of on the first status request")
	flags.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if showVersion {
		fmt.Printf("anvilgate %s\n", version.Full())
		return nil
	}

	config, err := proxy.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.ApplyEnvironment(os.LookupEnv); err != nil {
		return fmt.Errorf("invalid environment: %w", err)
	}
	if listenAddress != "" {
		config.ListenAddress = listenAddress
	}
	if logLevel != "" {
		config.Log.Level = logLevel
	}
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, closeLog := newLogger(config.Log)
	defer closeLog()
	slog.SetDefault(logger)

	logger.Info("starting anvilgate",
		"version", version.Info(),
		"challenge", config.Challenge,
	)
	logger.Info("loaded configuration",
		"listen_address", config.Listen(),
		"rpc_url", config.RPCURL(),
		"node_address", config.AnvilLauncherConfig().Address(),
		"forking", config.Anvil.ForkURL != "",
		"project_directory", config.ProjectDirectory,
		"record_path", config.RecordPath,
	)

	metrics := proxy.NewMetrics()

	anvilConfig := config.AnvilLauncherConfig()
	anvilConfig.Logger = logger.With("component", "anvil")
	launcher, err := anvil.NewLauncher(anvilConfig)
	if err != nil {
		return fmt.Errorf("failed to create node launcher: %w", err)
	}

	manager, err := environment.NewManager(environment.Config{
		Launcher: environment.AnvilLauncher(launcher),
		Deployer: forge.NewDeployer(forge.Config{
			Binary: config.Forge.Binary,
			Script: config.Forge.Script,
			Logger: logger.With("component", "forge"),
		}),
		Store:            &envrecord.Store{Path: config.RecordPath},
		ProjectDirectory: config.ProjectDirectory,
		RPCURL:           config.RPCURL(),
		StartupTimeout:   config.StartupTimeout,
		DeployTimeout:    config.DeployTimeout,
		Observer:         metrics,
		Logger:           logger.With("component", "environment"),
	})
	if err != nil {
		return fmt.Errorf("failed to create environment manager: %w", err)
	}
	defer manager.Close()

	nodeAddress := anvilConfig.Address()
	completion, err := oracle.Dial(context.Background(), "http://"+nodeAddress, logger.With("component", "oracle"))
	if err != nil {
		return fmt.Errorf("failed to create completion oracle: %w", err)
	}
	defer completion.Close()

	backend, err := proxy.NewHTTPBackend(proxy.HTTPBackendConfig{
		URL:     "http://" + nodeAddress,
		Timeout: config.BackendTimeout,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create backend: %w", err)
	}
	rpcProxy, err := proxy.NewRPCProxy(proxy.RPCProxyConfig{
		Backend: backend,
		Metrics: metrics,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create rpc proxy: %w", err)
	}
	relay, err := proxy.NewRelay(proxy.RelayConfig{
		BackendURL: "ws://" + nodeAddress,
		Metrics:    metrics,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create websocket relay: %w", err)
	}

	server, err := proxy.NewServer(proxy.ServerConfig{
		ListenAddress:  config.Listen(),
		MetricsAddress: config.MetricsAddress,
		RPC:            rpcProxy,
		Relay:          relay,
		Status: proxy.NewStatusHandler(proxy.StatusConfig{
			Environment: manager,
			Oracle:      completion,
			Challenge:   config.Challenge,
			Flag:        config.Flag,
			Logger:      logger,
		}),
		Metrics: metrics,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if err := server.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	if provisionAtStartup {
		logger.Info("provisioning at startup", "state", manager.Trigger())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	logger.Info("received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}
