// ABOUTME: Entry point for the tunnelgate agent.
// ABOUTME: Dials out to the broker and proxies tunneled requests to origins.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/tunnelgate/internal/config"
	"github.com/2389/tunnelgate/internal/logging"
	"github.com/2389/tunnelgate/internal/tunnel"
)

// Version is set by goreleaser at build time.
var version = "dev"

// configPath returns the agent config file path.
// Priority: TUNNELGATE_CONFIG env var > ./tunnelgate.yaml (if present).
func configPath() string {
	if envPath := os.Getenv("TUNNELGATE_CONFIG"); envPath != "" {
		return envPath
	}
	if _, err := os.Stat("tunnelgate.yaml"); err == nil {
		return "tunnelgate.yaml"
	}
	return ""
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: tunnelgate-agent <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  run      Connect to the broker and serve requests")
		fmt.Println("  init     Write a starter config file")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "run":
		err = runAgent(ctx)
	case "init":
		err = runInit()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runAgent(ctx context.Context) error {
	path := configPath()

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.New(cfg.Logging)

	gray := color.New(color.FgHiBlack)
	green := color.New(color.FgGreen)
	gray.Printf("tunnelgate-agent %s\n", version)
	green.Print("  ▶ ")
	fmt.Printf("Broker:  %s\n", cfg.Client.Server.Addr())
	green.Print("  ▶ ")
	fmt.Printf("Target:  %s\n", cfg.Client.Proxy.DefaultTarget)
	fmt.Println()

	logger.Info("starting tunnelgate agent",
		"config", path,
		"broker_addr", cfg.Client.Server.Addr(),
		"default_target", cfg.Client.Proxy.DefaultTarget,
		"rewrite_rules", len(cfg.Client.Proxy.RewriteRules),
	)

	client, err := tunnel.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating tunnel client: %w", err)
	}

	return client.Run(ctx)
}

const starterConfig = `# tunnelgate agent configuration
# Generated by tunnelgate-agent init

client:
  server:
    host: "localhost"
    port: 3001
    # ssl:
    #   enabled: true
    #   ca: "ca.crt"
    #   rejectUnauthorized: true
  proxy:
    defaultTarget: "http://example.com"
    # rewriteRules:
    #   - pattern: "^http://example.com/old"
    #     replacement: "http://example.com/new"

reconnection:
  delay: 5000

logging:
  level: "info"
  format: "text"
`

func runInit() error {
	path := os.Getenv("TUNNELGATE_CONFIG")
	if path == "" {
		path = "tunnelgate.yaml"
	}

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists, not overwriting", path)
	}

	if err := os.WriteFile(path, []byte(starterConfig), 0o644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Printf("Config written to %s\n", path)
	fmt.Println("\nTo connect to the broker:")
	fmt.Println("  tunnelgate-agent run")
	return nil
}
