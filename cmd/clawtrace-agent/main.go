// Package main is the entrypoint for the ClawTrace agent.
package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/alexgutscher26/ClawTrace-sub001/internal/agent"
	"github.com/alexgutscher26/ClawTrace-sub001/internal/config"
	"github.com/alexgutscher26/ClawTrace-sub001/internal/httpclient"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "clawtrace-agent",
		Short: "ClawTrace telemetry agent",
		Long: `ClawTrace Agent reports health and metrics to a ClawTrace server.

Run 'clawtrace-agent register' to connect to a server, then
'clawtrace-agent run' to start heartbeating.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newRegisterCmd(),
		newStatusCmd(),
		newRunCmd(),
	)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("ClawTrace Agent %s\n", Version)
			fmt.Printf("  Commit:     %s\n", Commit)
			fmt.Printf("  Built:      %s\n", BuildDate)
			fmt.Printf("  Go version: %s\n", runtime.Version())
			fmt.Printf("  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

func newRegisterCmd() *cobra.Command {
	var (
		serverURL string
		agentID   string
		secret    string
	)

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register this agent with a ClawTrace server",
		Long: `Register this agent with a ClawTrace server.

The agent ID and secret are printed when the agent is provisioned on the
server with 'clawtracectl agent add'.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRegister(serverURL, agentID, secret)
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "", "ClawTrace server URL (required)")
	cmd.Flags().StringVar(&agentID, "agent-id", "", "Agent ID issued by the server (required)")
	cmd.Flags().StringVar(&secret, "secret", "", "Agent secret issued by the server (required)")
	_ = cmd.MarkFlagRequired("server")
	_ = cmd.MarkFlagRequired("agent-id")
	_ = cmd.MarkFlagRequired("secret")

	return cmd
}

func runRegister(serverURL, agentID, secret string) error {
	parsed, err := url.Parse(serverURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("server URL must use http or https scheme")
	}

	if _, err := uuid.Parse(agentID); err != nil {
		return fmt.Errorf("invalid agent ID: %w", err)
	}

	cfg, err := config.LoadDefault()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	cfg.ServerURL = strings.TrimSuffix(serverURL, "/")
	cfg.AgentID = agentID
	cfg.AgentSecret = secret

	if err := cfg.SaveDefault(); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	path, _ := config.DefaultConfigPath()
	fmt.Printf("Agent registered. Configuration saved to %s\n", path)
	fmt.Println("Run 'clawtrace-agent run' to start heartbeating.")
	return nil
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show agent configuration and spool state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadDefault()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			if !cfg.IsConfigured() {
				fmt.Println("Agent is not registered. Run 'clawtrace-agent register' first.")
				return nil
			}

			fmt.Printf("Server:   %s\n", cfg.ServerURL)
			fmt.Printf("Agent ID: %s\n", cfg.AgentID)

			spoolPath := cfg.SpoolPath
			if spoolPath == "" {
				spoolPath, err = config.DefaultSpoolPath()
				if err != nil {
					return err
				}
			}

			spool, err := agent.NewSpool(spoolPath, zerolog.Nop())
			if err != nil {
				return fmt.Errorf("open spool: %w", err)
			}
			defer spool.Close()

			pending, err := spool.Len(cmd.Context())
			if err != nil {
				return fmt.Errorf("count spool: %w", err)
			}
			fmt.Printf("Spooled heartbeats: %d\n", pending)
			return nil
		},
	}
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the heartbeat loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent()
		},
	}
}

func runAgent() error {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().
		Timestamp().
		Str("version", Version).
		Logger()

	cfg, err := config.LoadDefault()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("agent not registered: %w", err)
	}

	agentID, err := uuid.Parse(cfg.AgentID)
	if err != nil {
		return fmt.Errorf("invalid agent ID in config: %w", err)
	}

	spoolPath := cfg.SpoolPath
	if spoolPath == "" {
		spoolPath, err = config.DefaultSpoolPath()
		if err != nil {
			return err
		}
	}
	spool, err := agent.NewSpool(spoolPath, logger)
	if err != nil {
		return fmt.Errorf("open spool: %w", err)
	}
	defer spool.Close()

	client := agent.NewClient(cfg.ServerURL, agentID, cfg.AgentSecret)
	if cfg.GetProxyConfig().HasProxy() {
		httpClient, err := httpclient.NewWithConfig(cfg, 30*time.Second)
		if err != nil {
			return fmt.Errorf("configure proxy: %w", err)
		}
		client.SetHTTPClient(httpClient)
		logger.Info().Msg("proxy configured")
	}
	runner := agent.NewRunner(client, agent.NewCollector(), spool, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runner.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info().Msg("agent stopped")
	return nil
}
