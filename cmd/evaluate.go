package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-pipeline/internal/evaluator"
	"github.com/sells-group/prospect-pipeline/internal/model"
)

var (
	evaluateCount  int
	evaluateRubric string
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate <session-id>",
	Short: "Collect the next slice and stream fit scores for it",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		rubricPath := evaluateRubric
		if rubricPath == "" {
			rubricPath = cfg.Evaluator.RubricPath
		}
		rubric, err := evaluator.LoadRubric(rubricPath)
		if err != nil {
			return eris.Wrap(err, "load rubric")
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		records, exhausted, err := env.orch.LoadMore(ctx, args[0], evaluateCount)
		if err != nil {
			return eris.Wrap(err, "load slice")
		}

		events, err := env.orch.EvaluateSlice(ctx, args[0], records, rubric)
		if err != nil {
			return eris.Wrap(err, "evaluate slice")
		}

		// One JSON line per event so downstream tooling can follow along.
		enc := json.NewEncoder(os.Stdout)
		for ev := range events {
			if err := enc.Encode(ev); err != nil {
				return eris.Wrap(err, "encode event")
			}
			if ev.Type == model.EventCompleted {
				zap.L().Info("evaluation complete",
					zap.String("session", args[0]),
					zap.Int("scored", ev.Scored),
					zap.Int("skipped", ev.Skipped),
					zap.Bool("exhausted", exhausted),
				)
			}
		}
		return nil
	},
	Args: cobra.ExactArgs(1),
}

func init() {
	evaluateCmd.Flags().IntVar(&evaluateCount, "count", 20, "number of identifiers to collect and score")
	evaluateCmd.Flags().StringVar(&evaluateRubric, "rubric", "", "rubric YAML path (default from config)")
	rootCmd.AddCommand(evaluateCmd)
}
