// Package cmd defines the CLI commands of the subsidy-radar executable.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/kizashi/subsidy-radar/internal/app"
	"github.com/kizashi/subsidy-radar/internal/config"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// appFactory builds the application services from a config file path. It is
// a parameter so tests can inject an in-memory App.
type appFactory func(ctx context.Context, cfgPath string) (*app.App, error)

func buildApp(ctx context.Context, cfgPath string) (*app.App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	return app.Build(ctx, cfg)
}

// newRootCmd creates the root command with every subcommand attached. The
// returned func closes the App built by whichever subcommand ran, including
// when it failed.
func newRootCmd(factory appFactory) (*cobra.Command, func()) {
	var (
		cfgFile  string
		instance *app.App
	)
	cmd := &cobra.Command{
		Use:   "subsidy-radar",
		Short: "Municipal subsidy collection, scoring and digest pipeline.",
		Long: `subsidy-radar polls prefectural subsidy listings, extracts and classifies
announcements, ranks municipalities per prefecture and serves the results to
the sales dashboard. Each subcommand is one batch job guarded by a run lock.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := factory(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			instance = appInstance
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); environment variables use the KIZASHI_ prefix")

	cmd.AddCommand(
		newMigrateCmd(),
		newSeedCmd(),
		newCollectSourcesCmd(),
		newCollectDetailsCmd(),
		newClassifyCmd(),
		newComputeScoresCmd(),
		newComputePriorityCmd(),
		newFullRunCmd(),
		newSendDigestCmd(),
		newServeCmd(),
	)
	closeApp := func() {
		if instance != nil {
			instance.Close()
			instance = nil
		}
	}
	return cmd, closeApp
}

// Execute runs the CLI and returns the first command error.
func Execute(ctx context.Context) error {
	root, closeApp := newRootCmd(buildApp)
	defer closeApp()
	return root.ExecuteContext(ctx)
}

func resolveApp(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// printJSON writes a job summary to the command output.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}
