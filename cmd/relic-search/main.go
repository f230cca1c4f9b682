package main

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/sha1n/relic-search/internal/app"
	"github.com/sha1n/relic-search/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	// Version is injected at build time
	Version = "dev"
	// Build is injected at build time
	Build = "unknown"
	// ProgramName is injected at build time
	ProgramName = "relic-search"
)

func main() {
	runMain(os.Args, os.Exit)
}

func runMain(args []string, exit func(int)) {
	if err := Execute(Version, Build, ProgramName, args[1:]); err != nil {
		exit(1)
	}
}

// Execute is the entry point for the CLI, extracted for testing
func Execute(version, build, programName string, args []string) error {
	rootCmd := &cobra.Command{
		Use:     programName,
		Short:   "relic-search MCP Server",
		Long:    "Full-text search over the department catalogue, served over MCP",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithFlags(cmd.Context(), cmd.Flags(), version)
		},
	}

	rootCmd.SetVersionTemplate(`{{.Version}}
`)

	app.RegisterFlags(rootCmd.Flags())
	app.RegisterSearchFlags(rootCmd.PersistentFlags())
	rootCmd.AddCommand(newImportCmd(), newReindexCmd())
	rootCmd.SetArgs(args)

	return rootCmd.ExecuteContext(context.Background())
}

func runWithFlags(ctx context.Context, flags *pflag.FlagSet, version string) error {
	return app.RunWithDeps(ctx, app.DefaultRunParams(), flags, version)
}

// loadSearchSettings resolves and validates the settings used by the
// maintenance commands.
func loadSearchSettings(flags *pflag.FlagSet) (*config.SearchSettings, error) {
	settings, err := config.LoadSettingsWithFlags(flags)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	if err := config.ValidateSearchSettings(&settings.Search); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	app.ConfigureLogging()
	return &settings.Search, nil
}

func newImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import entities from a YAML fixture file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("file")
			settings, err := loadSearchSettings(cmd.Flags())
			if err != nil {
				return err
			}
			n, err := app.ImportFixtures(cmd.Context(), settings, path)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "imported %d entities\n", n)
			return nil
		},
	}
	cmd.Flags().StringP("file", "f", "", "YAML fixture file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newReindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex [entity...]",
		Short: "Rebuild indexes from the entity store",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSearchSettings(cmd.Flags())
			if err != nil {
				return err
			}
			counts, err := app.Reindex(cmd.Context(), settings, args...)
			if err != nil {
				return err
			}

			names := make([]string, 0, len(counts))
			for name := range counts {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: %d documents\n", name, counts[name])
			}
			return nil
		},
	}
}
