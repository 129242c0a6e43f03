package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/saggiatore-ai/saggiatore/internal/catalog"
	"github.com/saggiatore-ai/saggiatore/internal/config"
	"github.com/saggiatore-ai/saggiatore/internal/models"
	"github.com/saggiatore-ai/saggiatore/internal/provider"
)

func newListModelsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list-models",
		Short: "List known models and whether their credentials are configured",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.Load(envFile)
			if err != nil {
				return err
			}

			router := provider.NewRouter(nil, settings)
			available := map[string]bool{}
			for _, m := range router.Available() {
				available[m.ModelID] = true
			}

			out := cmd.OutOrStdout()
			for _, m := range provider.FallbackModels() {
				status := "missing " + m.EnvKey
				if available[m.ModelID] {
					status = "ready"
				}
				fmt.Fprintf(out, "%-28s %-22s %-12s %s\n", m.ModelID, m.DisplayName, m.Provider, status)
			}
			return nil
		},
	}
}

func newListScenariosCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list-scenarios",
		Short: "List scenarios in the data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := catalog.Load(dataDir)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for i, sc := range cat.Scenarios {
				fmt.Fprintf(out, "%3d  %-45s %-22s %-8s %d turns\n",
					i, sc.Title, models.CategoryDisplay[sc.Category], sc.Complexity, sc.MaxTurns)
			}
			return nil
		},
	}
}

func newListPersonasCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list-personas",
		Short: "List personas in the data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := catalog.Load(dataDir)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for i, p := range cat.Personas {
				fmt.Fprintf(out, "%3d  %-24s %-16s %-14s %s\n",
					i, p.Name, p.Nationality, p.CurrentStatus, p.VisaType)
			}
			return nil
		},
	}
}
