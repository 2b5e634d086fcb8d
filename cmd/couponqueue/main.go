package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/BranchIntl/couponqueue/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	configPath string
	cfg        *config.Config
	rootCmd    = &cobra.Command{
		Use:   "couponqueue",
		Short: "couponqueue - resumable background batch processor for bulk coupon runs",
		Long: `couponqueue drains bulk coupon runs in budget-bounded invocations.
Each invocation processes as many queued work items as the time and memory
budget allows, persists its progress and re-arms itself until the run
completes.`,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "couponqueue.toml", "config file path")
}

func setup(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load(".env")

	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return err
	}

	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
