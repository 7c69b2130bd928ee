package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init <access-token>",
	Short: "Store an access token in ~/.campuslink/config.toml",
	Long:  "Initialize the CampusLink CLI by storing an existing access token in the local configuration file.\nMost users should prefer 'campuslink login <email>' instead.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token := args[0]

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		cfg.Auth.AccessToken = token
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		path, _ := configPath()
		fmt.Printf("Access token saved to %s\n", path)
		return nil
	},
}
