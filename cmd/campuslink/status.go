package main

import (
	"context"
	"fmt"
	"time"

	campuslink "github.com/campuslink/campuslink-go"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and session status",
	Long:  "Display the current configuration, the stored session, and whether the realtime endpoint is reachable.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		fmt.Println("Configuration:")
		if cfg.Default.BaseURL != "" {
			fmt.Printf("  Base URL: %s\n", cfg.Default.BaseURL)
		} else {
			fmt.Printf("  Base URL: %s (default)\n", campuslink.DefaultBaseURL)
		}

		fmt.Println()
		fmt.Println("Session:")
		if cfg.Auth.AccessToken == "" {
			fmt.Println("  (not logged in)")
			return nil
		}
		fmt.Printf("  Token:   %s\n", maskToken(cfg.Auth.AccessToken))
		if cfg.Auth.Name != "" {
			fmt.Printf("  Name:    %s\n", cfg.Auth.Name)
			fmt.Printf("  User ID: %d\n", cfg.Auth.UserID)
		}

		// Probe the realtime endpoint.
		fmt.Println()
		fmt.Println("Realtime:")
		rt := getRealtimeClient()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := rt.Connect(ctx); err != nil {
			fmt.Printf("  unreachable: %v\n", err)
			return nil
		}
		fmt.Printf("  connected (state %s)\n", rt.State())
		online := rt.OnlineUsers()
		if len(online) > 0 {
			fmt.Printf("  %d user(s) online\n", len(online))
		}
		return rt.Disconnect()
	},
}
