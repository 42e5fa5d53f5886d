// Command agent runs the probe agent.
//
// # Usage
//
//	agent --config agent_config.json
//
// # Configuration
//
// Configuration can be provided via:
// - Command-line flags
// - Environment variables (PROBENET_*)
// - Config file (--config, JSON; defaults are written when missing)
//
// # Examples
//
// Run with flags:
//
//	agent --server http://probe.example.com:8000 \
//	      --agent-id sh-edge-01 \
//	      --area shanghai
//
// Run with environment variables:
//
//	PROBENET_SERVER_URL=http://probe.example.com:8000 \
//	PROBENET_AGENT_ID=sh-edge-01 \
//	agent
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/probenet-io/probenet/agent"
	"github.com/probenet-io/probenet/agent/internal/config"
	"github.com/probenet-io/probenet/agent/internal/logging"
)

func main() {
	var (
		configFile = flag.String("config", "agent_config.json", "Path to config file")
		server     = flag.String("server", "", "Control plane URL")
		token      = flag.String("token", "", "Agent API token")
		agentID    = flag.String("agent-id", "", "Agent identifier")
		area       = flag.String("area", "", "Agent area")
		debug      = flag.Bool("debug", false, "Enable debug logging")
		version    = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	if *version {
		fmt.Printf("probenet-agent %s\n", agent.Version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	cfg.ApplyEnvOverrides()

	if *server != "" {
		cfg.ServerURL = *server
	}
	if *token != "" {
		cfg.APIToken = *token
		cfg.AuthRequired = true
	}
	if *agentID != "" {
		cfg.AgentID = *agentID
	}
	if *area != "" {
		cfg.AgentArea = *area
	}
	if *debug {
		cfg.Logging.LogMode = "DEBUG"
	}

	logger, logCloser := logging.New(logging.Options{
		Mode:     cfg.Logging.LogMode,
		Path:     cfg.Logging.LogPath,
		Name:     cfg.Logging.LogName,
		Rotation: cfg.Logging.LogRotation,
	})
	defer logCloser.Close()

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	a, err := agent.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create agent", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	if err := a.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("agent exited with error", "error", err)
		os.Exit(1)
	}

	logger.Info("agent shutdown complete")
}
