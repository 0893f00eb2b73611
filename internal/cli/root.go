// Package cli implements the invctl operator commands. Each command builds
// the application from the environment, runs one service operation and
// prints a short colored summary.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tbourn/device-intake/internal/config"
	"github.com/tbourn/device-intake/internal/sysutil"
	"github.com/tbourn/device-intake/internal/wire"
)

// buildApp is replaced in tests.
var buildApp = func() (*wire.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	sysutil.SetLogLevel(cfg.LogLevel)
	return wire.Build(cfg)
}

// withApp builds the application, runs fn and closes the database.
func withApp(fn func(app *wire.App) error) error {
	app, err := buildApp()
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(app)
}

// RootCmd returns invctl with every subcommand attached.
func RootCmd(version string) *cobra.Command {
	var envFile string
	var asJSON bool

	root := &cobra.Command{
		Use:     "invctl",
		Short:   "Operate the device intake queue and inventory archive",
		Version: version,
		Long: `invctl enqueues inspection exports, drains the intake queue,
archives and restores devices, and reports queue and inventory health.

Configuration comes from the environment (and an optional .env file).`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if asJSON {
				color.NoColor = true
			}
			return config.LoadDotEnv(envFile)
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	root.PersistentFlags().BoolVar(&asJSON, "json", false, "print raw JSON results")

	root.AddCommand(EnqueueCmd())
	root.AddCommand(DrainCmd())
	root.AddCommand(StatsCmd())
	root.AddCommand(RetryCmd())
	root.AddCommand(PruneCmd())
	root.AddCommand(ArchiveCmd())
	root.AddCommand(BulkArchiveCmd())
	root.AddCommand(RestoreCmd())
	root.AddCommand(NuclearCmd())
	root.AddCommand(EntriesCmd())
	return root
}

var (
	okMark   = color.New(color.FgGreen).SprintFunc()
	warnMark = color.New(color.FgYellow).SprintFunc()
	errMark  = color.New(color.FgRed).SprintFunc()
	dim      = color.New(color.Faint).SprintFunc()
)

// jsonRequested reports whether --json was passed anywhere up the tree.
func jsonRequested(cmd *cobra.Command) bool {
	v, err := cmd.Flags().GetBool("json")
	return err == nil && v
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}
