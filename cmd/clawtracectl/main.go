// Package main provides clawtracectl, the server-side provisioning CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/alexgutscher26/ClawTrace-sub001/internal/crypto"
	"github.com/alexgutscher26/ClawTrace-sub001/internal/db"
	"github.com/alexgutscher26/ClawTrace-sub001/internal/models"
	"github.com/alexgutscher26/ClawTrace-sub001/internal/policy"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "clawtracectl",
		Short:        "ClawTrace server administration",
		Long:         "clawtracectl provisions fleets and agents directly against the ClawTrace database.",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newFleetCmd(),
		newAgentCmd(),
	)

	return rootCmd
}

func newFleetCmd() *cobra.Command {
	fleetCmd := &cobra.Command{
		Use:   "fleet",
		Short: "Manage fleets",
	}

	var tier string
	addCmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Create a fleet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd.Context(), func(ctx context.Context, database *db.DB) error {
				name := args[0]

				existing, err := database.GetFleetByName(ctx, name)
				if err != nil {
					return err
				}
				if existing != nil {
					return fmt.Errorf("fleet %q already exists", name)
				}

				fleet := models.NewFleet(name)
				fleet.Tier = models.NormalizeTier(tier)
				if err := database.CreateFleet(ctx, fleet); err != nil {
					return err
				}

				fmt.Printf("Fleet created.\n")
				fmt.Printf("  ID:   %s\n", fleet.ID)
				fmt.Printf("  Name: %s\n", fleet.Name)
				fmt.Printf("  Tier: %s\n", fleet.Tier)
				return nil
			})
		},
	}
	addCmd.Flags().StringVar(&tier, "tier", "free", "Billing tier (free, pro, enterprise)")

	fleetCmd.AddCommand(addCmd)
	return fleetCmd
}

func newAgentCmd() *cobra.Command {
	agentCmd := &cobra.Command{
		Use:   "agent",
		Short: "Manage agents",
	}

	var (
		fleetName  string
		profile    string
		gatewayURL string
	)
	addCmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Provision an agent in a fleet",
		Long: `Provision an agent in a fleet.

The agent secret is printed exactly once; only its encrypted form is stored.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !policy.IsBuiltin(profile) {
				fmt.Fprintf(os.Stderr, "Warning: %q is not a built-in profile; it must exist as a custom policy.\n", profile)
			}

			return withDB(cmd.Context(), func(ctx context.Context, database *db.DB) error {
				fleet, err := database.GetFleetByName(ctx, fleetName)
				if err != nil {
					return err
				}
				if fleet == nil {
					return fmt.Errorf("fleet %q not found", fleetName)
				}

				keyManager, err := keyManagerFromEnv()
				if err != nil {
					return err
				}

				secret, err := keyManager.GenerateAgentSecret()
				if err != nil {
					return fmt.Errorf("generate agent secret: %w", err)
				}
				encrypted, err := keyManager.EncryptString(secret)
				if err != nil {
					return fmt.Errorf("encrypt agent secret: %w", err)
				}

				agent := models.NewAgent(fleet.ID, args[0], encrypted)
				agent.PolicyProfile = profile
				agent.GatewayURL = gatewayURL
				if err := database.CreateAgent(ctx, agent); err != nil {
					return err
				}

				fmt.Printf("Agent provisioned.\n")
				fmt.Printf("  ID:     %s\n", agent.ID)
				fmt.Printf("  Fleet:  %s (%s)\n", fleet.Name, fleet.Tier)
				fmt.Printf("  Secret: %s\n", secret)
				fmt.Println("\nStore the secret now; it cannot be recovered later.")
				fmt.Printf("\nOn the agent host:\n  clawtrace-agent register --server <url> --agent-id %s --secret %s\n", agent.ID, secret)
				return nil
			})
		},
	}
	addCmd.Flags().StringVar(&fleetName, "fleet", "", "Fleet name (required)")
	addCmd.Flags().StringVar(&profile, "policy", "dev", "Policy profile name")
	addCmd.Flags().StringVar(&gatewayURL, "gateway-url", "", "WebSocket gateway URL advertised to the agent")
	_ = addCmd.MarkFlagRequired("fleet")

	agentCmd.AddCommand(addCmd)
	return agentCmd
}

func withDB(ctx context.Context, fn func(context.Context, *db.DB) error) error {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.WarnLevel)

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cfg := db.DefaultConfig(databaseURL)
	cfg.MaxConns = 2
	cfg.MinConns = 1

	database, err := db.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close()

	return fn(ctx, database)
}

func keyManagerFromEnv() (*crypto.KeyManager, error) {
	masterKeyHex := os.Getenv("MASTER_KEY")
	if masterKeyHex == "" {
		return nil, fmt.Errorf("MASTER_KEY is required")
	}
	masterKey, err := crypto.MasterKeyFromHex(masterKeyHex)
	if err != nil {
		return nil, fmt.Errorf("decode MASTER_KEY: %w", err)
	}
	return crypto.NewKeyManager(masterKey)
}
