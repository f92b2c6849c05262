// ABOUTME: Entry point for the tunnelgate broker.
// ABOUTME: Serves the public HTTP listener and the agent tunnel listener.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/tunnelgate/internal/broker"
	"github.com/2389/tunnelgate/internal/config"
	"github.com/2389/tunnelgate/internal/logging"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _                          _            _
| |_ _   _ _ __  _ __   ___| | __ _  ___| |_ ___
| __| | | | '_ \| '_ \ / _ \ |/ _' |/ _ \ __/ _ \
| |_| |_| | | | | | | |  __/ | (_| |  __/ ||  __/
 \__|\__,_|_| |_|_| |_|\___|_|\__, |\___|\__\___|
                              |___/
`

// configPath returns the broker config file path.
// Priority: TUNNELGATE_CONFIG env var > ./tunnelgate.yaml (if present).
// With neither, the built-in defaults apply.
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
		fmt.Println("Usage: tunnelgate <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve    Start the broker")
		fmt.Println("  init     Write a starter config file")
		fmt.Println("  health   Check broker liveness")
		fmt.Println("  agents   List connected agents")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	case "agents":
		err = runAgents(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	path := configPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.New(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	if path == "" {
		fmt.Println("Config:  (defaults)")
	} else {
		fmt.Printf("Config:  %s\n", path)
	}
	green.Print("    ▶ ")
	fmt.Printf("HTTP:    %s\n", cfg.Server.HTTP.Addr())
	green.Print("    ▶ ")
	fmt.Printf("Tunnel:  %s\n", cfg.Server.Socket.Addr())
	fmt.Println()

	logger.Info("starting tunnelgate broker",
		"config", path,
		"http_addr", cfg.Server.HTTP.Addr(),
		"tunnel_addr", cfg.Server.Socket.Addr(),
	)

	return broker.New(cfg, logger).Run(ctx)
}

const starterConfig = `# tunnelgate broker configuration
# Generated by tunnelgate init

server:
  http:
    host: "0.0.0.0"
    port: 3000
  socket:
    host: "0.0.0.0"
    port: 3001

# request_timeout: 30000
# max_frame_bytes: 16777216

logging:
  level: "info"
  format: "text"

metrics:
  enabled: false
  path: "/metrics"
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
	fmt.Println("\nTo start the broker:")
	fmt.Println("  tunnelgate serve")
	return nil
}

// httpBase returns the broker's HTTP endpoint as seen from this machine.
func httpBase(cfg *config.Config) string {
	host := cfg.Server.HTTP.Host
	if host == "0.0.0.0" || host == "" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d", host, cfg.Server.HTTP.Port)
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, httpBase(cfg)+"/health", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func runAgents(ctx context.Context) error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, httpBase(cfg)+"/health/ready", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("agents check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	// Pretty-print when the body is JSON, pass through otherwise.
	var pretty map[string]any
	if err := json.Unmarshal(body, &pretty); err == nil {
		out, _ := json.MarshalIndent(pretty, "", "  ")
		fmt.Println(string(out))
		return nil
	}
	fmt.Println(string(body))
	return nil
}
