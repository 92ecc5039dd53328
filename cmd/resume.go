package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <session-id>",
	Short: "Resume a session where it left off",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		sess, err := env.orch.Resume(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "resume session")
		}

		zap.L().Info("session resumed",
			zap.String("session", sess.ID),
			zap.String("stage", string(sess.Stage)),
			zap.Int("remaining", sess.Remaining()),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sess)
	},
}

func init() {
	rootCmd.AddCommand(resumeCmd)
}
