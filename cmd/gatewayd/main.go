// gatewayd keeps pooled WebSocket connections to a fleet of agent gateways,
// polls their status and serves a local diagnostics API.
//
// Usage:
//
//	gatewayd [flags]
//	gatewayd init     Write a default configuration file
//	gatewayd check    Validate the configuration file
//
// Flags:
//
//	-config string
//	    Path to configuration file (default "~/.gatewayd/config.toml")
//	-listen string
//	    Diagnostics API address (overrides config)
//	-sam string
//	    SAM bridge address (overrides config)
//	-v
//	    Enable verbose logging
//	-version
//	    Print version and exit
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/arana198/mission-control-sub011/lib/core"
	"github.com/arana198/mission-control-sub011/lib/web"
	"github.com/arana198/mission-control-sub011/version"
)

func main() {
	os.Exit(run())
}

func run() int {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	defaultConfigPath := filepath.Join(homeDir, ".gatewayd", "config.toml")

	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	listenAddr := flag.String("listen", "", "Diagnostics API address (overrides config)")
	samAddr := flag.String("sam", "", "SAM bridge address (overrides config)")
	verbose := flag.Bool("v", false, "Enable verbose logging")
	showVersion := flag.Bool("version", false, "Print version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "gatewayd - pooled connections to agent gateways\n\n")
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  gatewayd [flags]          Start the daemon\n")
		fmt.Fprintf(os.Stderr, "  gatewayd init             Write a default configuration file\n")
		fmt.Fprintf(os.Stderr, "  gatewayd check            Validate the configuration file\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("gatewayd version %s\n", version.Full())
		return 0
	}

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	args := flag.Args()
	if len(args) > 0 {
		switch args[0] {
		case "init":
			return handleInit(*configPath)
		case "check":
			return handleCheck(*configPath)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
			flag.Usage()
			return 2
		}
	}

	cfg, err := core.LoadConfig(*configPath)
	if err != nil {
		logger.Error("failed to load config", "path", *configPath, "error", err)
		return 1
	}
	if *listenAddr != "" {
		cfg.Web.Listen = *listenAddr
	}
	if *samAddr != "" {
		cfg.I2P.SAMAddress = *samAddr
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		return 1
	}

	return serve(cfg, logger)
}

func serve(cfg *core.Config, logger *slog.Logger) int {
	daemon, err := core.NewDaemon(cfg, logger)
	if err != nil {
		logger.Error("failed to create daemon", "error", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	if err := daemon.Start(ctx); err != nil {
		logger.Error("failed to start daemon", "error", err)
		return 1
	}

	var server *web.Server
	if cfg.Web.Enabled {
		server = web.New(web.Config{
			ListenAddr:  cfg.Web.Listen,
			CallRate:    cfg.Web.RateLimit,
			CallBurst:   cfg.Web.RateBurst,
			CallTimeout: cfg.Poller.CallTimeout.Std(),
			Logger:      logger,
		}, daemon)
		if err := server.Start(); err != nil {
			logger.Error("failed to start web server", "error", err)
			cancel()
			<-daemon.Done()
			return 1
		}
	}

	logger.Info("gatewayd started",
		"name", cfg.Daemon.Name,
		"version", version.Version,
		"gateways", len(cfg.Gateways),
	)

	select {
	case sig := <-sigChan:
		logger.Info("received signal, shutting down", "signal", sig)
	case <-daemon.Done():
		logger.Info("daemon stopped unexpectedly")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Daemon.ShutdownTimeout.Std())
	defer shutdownCancel()

	code := 0
	if server != nil {
		if err := server.Stop(shutdownCtx); err != nil {
			logger.Error("web shutdown error", "error", err)
			code = 1
		}
	}
	if daemon.State() == core.StateRunning {
		if err := daemon.Stop(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
			code = 1
		}
	}

	logger.Info("gatewayd stopped")
	return code
}

// handleInit writes the default configuration unless a file already exists.
func handleInit(path string) int {
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(os.Stderr, "Config already exists: %s\n", path)
		return 1
	} else if !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if err := core.SaveConfig(core.DefaultConfig(), path); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Printf("Wrote %s\n", path)
	return 0
}

// handleCheck loads and validates the configuration and lists its gateways.
func handleCheck(path string) int {
	cfg, err := core.LoadConfig(path)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Printf("Config OK: %s\n", path)
	fmt.Printf("%-20s %-8s %s\n", "GATEWAY", "AUTH", "URL")
	for _, gw := range cfg.Gateways {
		auth := "none"
		if gw.Token != "" {
			auth = "token"
		}
		fmt.Printf("%-20s %-8s %s\n", gw.ID, auth, gw.URL)
	}
	return 0
}
