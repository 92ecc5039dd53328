package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-pipeline/internal/model"
)

var (
	discoverKeywords []string
	discoverIndustry string
	discoverLocation string
	discoverSeeds    []string
	discoverMax      int
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Start a session: discover and resolve candidate organizations",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		sess, err := env.orch.Start(ctx, model.Criteria{
			Keywords: discoverKeywords,
			Industry: discoverIndustry,
			Location: discoverLocation,
			SeedURLs: discoverSeeds,
			MaxLeads: discoverMax,
		})
		if err != nil {
			return eris.Wrap(err, "start session")
		}

		zap.L().Info("session started",
			zap.String("session", sess.ID),
			zap.Int("resolved", len(sess.Identifiers)),
			zap.Int("unresolved", len(sess.Unresolved)),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sess)
	},
}

func init() {
	discoverCmd.Flags().StringSliceVar(&discoverKeywords, "keyword", nil, "keyword to suggest against the directory (repeatable)")
	discoverCmd.Flags().StringVar(&discoverIndustry, "industry", "", "industry filter")
	discoverCmd.Flags().StringVar(&discoverLocation, "location", "", "location filter")
	discoverCmd.Flags().StringSliceVar(&discoverSeeds, "seed", nil, "seed list source: file path, http(s) or ftp URL (repeatable)")
	discoverCmd.Flags().IntVar(&discoverMax, "max-leads", 0, "cap on discovered candidates (0 = no cap)")
	rootCmd.AddCommand(discoverCmd)
}
