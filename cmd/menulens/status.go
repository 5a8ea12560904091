package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/menulens/internal/config"
	"github.com/kalambet/menulens/internal/poller"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check whether the analysis server and its vision model are reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		session := poller.NewSession(cfg.Client)
		healthy, lastSuccess, err := session.Health(cmd.Context())
		if err != nil {
			return fmt.Errorf("server unreachable at %s: %w", cfg.Client.BaseURL, err)
		}

		if healthy {
			printSuccess("server healthy")
		} else {
			printWarning("server reports the vision model as unhealthy")
		}
		if lastSuccess != nil {
			printStatus("last upstream success", "%s (%s ago)",
				lastSuccess.Format(time.RFC3339), time.Since(*lastSuccess).Round(time.Second))
		} else {
			printStatus("last upstream success", "never")
		}
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Ask the server to drop its upstream connections",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		session := poller.NewSession(cfg.Client)
		if !session.Reset(cmd.Context()) {
			return fmt.Errorf("reset request to %s failed", cfg.Client.BaseURL)
		}
		printSuccess("upstream connections reset")
		return nil
	},
}
