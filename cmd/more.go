package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var moreCount int

var moreCmd = &cobra.Command{
	Use:   "more <session-id>",
	Short: "Collect the next slice of records for a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		records, exhausted, err := env.orch.LoadMore(ctx, args[0], moreCount)
		if err != nil {
			return eris.Wrap(err, "load more")
		}

		zap.L().Info("slice collected",
			zap.String("session", args[0]),
			zap.Int("records", len(records)),
			zap.Bool("exhausted", exhausted),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"records":   records,
			"exhausted": exhausted,
		})
	},
}

func init() {
	moreCmd.Flags().IntVar(&moreCount, "count", 20, "number of identifiers to collect")
	rootCmd.AddCommand(moreCmd)
}
