package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/oliviagallego/TesaHealth/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "tesa",
	Short: "Case lifecycle and diagnostic consensus engine",
	Long:  "Routes patient symptom intake through an automated diagnostic interview, generates one reviewable artifact per case, and converges independent clinician reviews into a single consensus verdict.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
