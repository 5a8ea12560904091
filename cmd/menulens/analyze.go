package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kalambet/menulens/internal/config"
	"github.com/kalambet/menulens/internal/menu"
	"github.com/kalambet/menulens/internal/poller"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <image-file>",
	Short: "Analyze a menu photo and watch dish illustrations complete",
	Long: `Analyze a menu photo and watch dish illustrations complete.

The extracted items are printed as soon as the server answers; image
generation continues in the background and each update is printed as it
arrives. Ctrl-C stops watching without failing the server-side job.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading image: %w", err)
		}
		encoded := base64.StdEncoding.EncodeToString(data)
		if int64(len(encoded)) > cfg.Server.MaxImageBytes {
			return fmt.Errorf("image too large: %d encoded bytes (max %d)", len(encoded), cfg.Server.MaxImageBytes)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		session := poller.NewSession(cfg.Client)
		defer session.Cancel()

		printStep("analyzing %s (this may take a minute on a cold model)...", args[0])
		res, err := session.Analyze(ctx, encoded)
		if err != nil {
			// Ctrl-C during submission is a clean stop, not a failure.
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		if len(res.Items) == 0 {
			printWarning("no menu items found in the image")
			return nil
		}

		printSuccess("found %d menu items", len(res.Items))
		printItems(res.Items)

		for items := range res.Updates {
			printItems(items)
		}
		return nil
	},
}

func printItems(items []menu.Item) {
	ready := 0
	for _, it := range items {
		if it.ImageStatus == menu.StatusSuccess {
			ready++
		}
	}

	for i, it := range items {
		label := fmt.Sprintf("%d. %s", i+1, it.Title)
		detail := it.Description
		if it.Calories > 0 {
			detail = fmt.Sprintf("%s (~%d kcal)", detail, it.Calories)
		}
		printStatus(label, "%s [%s]", detail, it.ImageStatus)
	}
	printStep("images ready: %d/%d", ready, len(items))
}
