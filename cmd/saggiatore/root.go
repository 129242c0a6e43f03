package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var (
	envFile string
	dataDir string
)

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "saggiatore",
		Short: "Saggiatore - benchmark AI agents on immigration consultations",
		Long: `Saggiatore benchmarks AI agents acting as immigration legal assistants.

It runs simulated client conversations against multiple models, scores the
transcripts through an external evaluation service, and ranks the models on
a weighted leaderboard.`,
		Version:      version,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Env file with API credentials")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "data", "Directory with personas, tools, and scenarios")
	debugLogging := cmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	cmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if *debugLogging {
			// slog.SetLogLoggerLevel is unavailable before Go 1.22; install a
			// debug-level default handler instead.
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
		}
	}

	cmd.AddCommand(newRunCommand())
	cmd.AddCommand(newListModelsCommand())
	cmd.AddCommand(newListScenariosCommand())
	cmd.AddCommand(newListPersonasCommand())

	return cmd
}

func execute() error {
	rootCmd := newRootCommand()
	return rootCmd.Execute()
}
