package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Runs one full catalog sync",
		Long: `Fetches the link sheet, resolves and extracts every new link, rechecks the
stalest existing products and writes the catalog snapshot. The run summary is
printed to stdout as JSON.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			summary, err := appInstance.Sync(cmd.Context())
			if err != nil {
				appInstance.Logger().Error("catalog sync failed", zap.String("run_id", summary.RunID), zap.Error(err))
				return fmt.Errorf("sync: %w", err)
			}
			return nil
		},
	}
}
