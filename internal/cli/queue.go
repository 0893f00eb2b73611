package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tbourn/device-intake/internal/intake"
	"github.com/tbourn/device-intake/internal/services"
	"github.com/tbourn/device-intake/internal/wire"
)

// EnqueueCmd returns the enqueue command.
func EnqueueCmd() *cobra.Command {
	var drain bool

	cmd := &cobra.Command{
		Use:   "enqueue FILE...",
		Short: "Enqueue raw records from CSV, XLSX or JSON files",
		Long: `Read each file and enqueue its records as pending queue rows.

CSV and XLSX files use the first row as the header. JSON files must hold an
array of objects. Records without a device identifier are reported and
skipped; the rest of the file is still enqueued.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(app *wire.App) error {
				out := cmd.OutOrStdout()
				for _, path := range args {
					raws, err := readRecords(path)
					if err != nil {
						return err
					}
					res, err := app.Queue.Enqueue(cmd.Context(), raws)
					if err != nil {
						return fmt.Errorf("%s: %w", path, err)
					}
					if jsonRequested(cmd) {
						if err := printJSON(out, res); err != nil {
							return err
						}
						continue
					}
					fmt.Fprintf(out, "%s %s: %s accepted", okMark("✓"), filepath.Base(path), plural(res.Accepted, "record"))
					if n := len(res.Rejected); n > 0 {
						fmt.Fprintf(out, ", %s", warnMark(plural(n, "rejection")))
					}
					fmt.Fprintln(out)
					for _, r := range res.Rejected {
						fmt.Fprintf(out, "    %s %s\n", dim(fmt.Sprintf("record %d:", r.Index+1)), r.Reason)
					}
				}
				if drain {
					return runDrain(cmd, app, 0)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&drain, "drain", false, "drain the queue after enqueueing")
	return cmd
}

// readRecords decodes path by extension.
func readRecords(path string) ([]map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".json") {
		return decodeJSONRecords(f)
	}
	format, err := intake.FormatFromName(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	rows, err := intake.ReadSheet(f, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return intake.Records(rows), nil
}

func decodeJSONRecords(r io.Reader) ([]map[string]any, error) {
	var raws []map[string]any
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(&raws); err != nil {
		return nil, fmt.Errorf("decode JSON records: %w", err)
	}
	return raws, nil
}

// DrainCmd returns the drain command.
func DrainCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Claim pending queue rows and run them through the pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 0 {
				return fmt.Errorf("--limit must be >= 0")
			}
			return withApp(func(app *wire.App) error {
				return runDrain(cmd, app, limit)
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "rows to claim (0 = DRAIN_LIMIT)")
	return cmd
}

func runDrain(cmd *cobra.Command, app *wire.App, limit int) error {
	res, err := app.Queue.Drain(cmd.Context(), limit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if jsonRequested(cmd) {
		return printJSON(out, res)
	}
	mark := okMark("✓")
	if res.Failed > 0 {
		mark = warnMark("!")
	}
	fmt.Fprintf(out, "%s drained: claimed %d, completed %d, failed %d", mark, res.Claimed, res.Completed, res.Failed)
	if res.Requeued > 0 || res.Released > 0 {
		fmt.Fprintf(out, " %s", dim(fmt.Sprintf("(requeued %d, released %d)", res.Requeued, res.Released)))
	}
	fmt.Fprintln(out)
	return nil
}

// StatsCmd returns the stats command.
func StatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show queue, archive and inventory counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(app *wire.App) error {
				h, err := app.Stats.Health(cmd.Context())
				out := cmd.OutOrStdout()
				if h != nil && jsonRequested(cmd) {
					if perr := printJSON(out, h); perr != nil {
						return perr
					}
					return err
				}
				if err != nil {
					if h != nil {
						fmt.Fprintf(out, "%s database %s\n", errMark("✗"), h.DB)
					}
					return err
				}
				printHealth(out, h)
				return nil
			})
		},
	}
}

func printHealth(out io.Writer, h *services.Health) {
	fmt.Fprintf(out, "Database: %s\n\n", okMark(h.DB))
	fmt.Fprintln(out, "Queue:")
	fmt.Fprintf(out, "  pending     %d\n", h.Queue.Pending)
	fmt.Fprintf(out, "  processing  %d\n", h.Queue.Processing)
	fmt.Fprintf(out, "  completed   %d\n", h.Queue.Completed)
	failed := fmt.Sprint(h.Queue.Failed)
	if h.Queue.Failed > 0 {
		failed = errMark(failed)
	}
	fmt.Fprintf(out, "  failed      %s\n", failed)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Inventory:")
	fmt.Fprintf(out, "  products    %d\n", h.Products)
	fmt.Fprintf(out, "  counts      %d\n", h.InventoryRows)
	fmt.Fprintf(out, "  locations   %d\n", h.Locations)
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Archive: %d entries (%d consumed)\n", h.Archive.Total, h.Archive.Consumed)
}

// RetryCmd returns the retry command.
func RetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry [QUEUE_ID...]",
		Short: "Reset failed queue rows to pending (all when no ids are given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(app *wire.App) error {
				n, err := app.Queue.RetryFailed(cmd.Context(), args)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s reset %s\n", okMark("✓"), plural(int(n), "failed row"))
				return nil
			})
		},
	}
}

// PruneCmd returns the prune command.
func PruneCmd() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete completed and failed queue rows past the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(app *wire.App) error {
				n, err := app.Queue.PruneTerminal(cmd.Context(), olderThan)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s pruned %s older than %s\n", okMark("✓"), plural(int(n), "row"), olderThan)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "age of terminal rows to delete")
	return cmd
}
