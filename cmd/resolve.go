package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <url>",
		Short: "Resolves one link to a product id",
		Long: `Runs the resolver tiers against a single link and prints the product id,
the tier that found it and the canonical product URL. Nothing is written.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			res, err := appInstance.Resolve(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("resolve %s: %w", args[0], err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
}
