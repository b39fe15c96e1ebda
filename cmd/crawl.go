package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Runs a single crawl cycle and exits",
		Long: `Fetches every registered source once, stores the extracted
snapshots, and exits. Useful for cron-style scheduling and for seeding
a fresh database.`,
		RunE: runCrawlCommand,
	}
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	application, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("initialize application services: %w", err)
	}
	defer application.Close()

	if err := application.Orchestrator.TriggerNow(cmd.Context()); err != nil {
		return fmt.Errorf("start crawl cycle: %w", err)
	}
	application.Orchestrator.Wait()

	status := application.Orchestrator.Status()
	if status.Last != nil {
		application.Logger.Info("crawl cycle finished",
			zap.Int("succeeded", status.Last.Succeeded),
			zap.Int("failed", status.Last.Failed),
		)
	}
	return nil
}
