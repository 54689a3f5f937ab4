package main

import (
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/oliviagallego/TesaHealth/internal/consensus"
)

var closeCmd = &cobra.Command{
	Use:   "close <case-id>",
	Short: "Force-close a case under the strict supermajority policy",
	Long:  "Runs the operator close: requires quorum and a supermajority winner, refuses on ties, and moves the case to its terminal closed state.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("close"); err != nil {
			return err
		}

		ctx := cmd.Context()
		env, err := buildStack(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		cons, err := env.engine.Close(ctx, args[0])
		if err != nil {
			if errors.Is(err, consensus.ErrTie) {
				zap.L().Error("close refused: tied vote requires more reviews", zap.String("case_id", args[0]))
			}
			return err
		}

		zap.L().Info("case closed",
			zap.String("case_id", cons.CaseID),
			zap.String("final_answer", string(cons.FinalAnswer)),
			zap.String("final_diagnosis", cons.FinalDiagnosis),
			zap.String("final_urgency", string(cons.FinalUrgency)),
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(closeCmd)
}
