package main

import (
	"fmt"
	"os"

	campuslink "github.com/campuslink/campuslink-go"
)

// getClient creates a REST client authenticated with the stored session.
func getClient() *campuslink.Client {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Auth.AccessToken == "" {
		fmt.Fprintln(os.Stderr, "Not logged in. Run 'campuslink login <email>' first.")
		os.Exit(1)
	}

	var opts []campuslink.ClientOption
	if cfg.Default.BaseURL != "" {
		opts = append(opts, campuslink.WithBaseURL(cfg.Default.BaseURL))
	}
	return campuslink.NewClient(cfg.Auth.AccessToken, opts...)
}

// getRealtimeClient creates a realtime client from the stored session.
func getRealtimeClient() *campuslink.RealtimeClient {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Auth.AccessToken == "" {
		fmt.Fprintln(os.Stderr, "Not logged in. Run 'campuslink login <email>' first.")
		os.Exit(1)
	}

	baseURL := cfg.Default.BaseURL
	if baseURL == "" {
		baseURL = campuslink.DefaultBaseURL
	}
	return campuslink.NewRealtimeClient(campuslink.RealtimeConfig{
		BaseURL: baseURL,
		Token:   cfg.Auth.AccessToken,
	})
}

// maskToken shows the first 8 and last 4 characters of a token.
func maskToken(token string) string {
	if len(token) <= 12 {
		return "****"
	}
	return token[:8] + "..." + token[len(token)-4:]
}
