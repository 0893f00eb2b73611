package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tbourn/device-intake/internal/repo"
	"github.com/tbourn/device-intake/internal/services"
	"github.com/tbourn/device-intake/internal/wire"
)

// ArchiveCmd returns the archive command.
func ArchiveCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "archive DEVICE_ID",
		Short: "Archive a device and all of its records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(app *wire.App) error {
				sum, err := app.Archive.Archive(cmd.Context(), args[0], reason)
				if err != nil {
					return err
				}
				return printArchiveSummary(cmd, sum)
			})
		},
	}
	cmd.Flags().StringVarP(&reason, "reason", "r", "", "why the device leaves inventory (required)")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

// BulkArchiveCmd returns the bulk-archive command.
func BulkArchiveCmd() *cobra.Command {
	var reason, file string

	cmd := &cobra.Command{
		Use:   "bulk-archive [DEVICE_ID...]",
		Short: "Archive many devices, reporting per-device failures",
		Long: `Archive every listed device. Ids come from the arguments and, with
--file, from a text file holding one id per line ("-" reads stdin).
A device that fails is reported and does not stop the others.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := append([]string(nil), args...)
			if file != "" {
				more, err := readIDs(cmd.InOrStdin(), file)
				if err != nil {
					return err
				}
				ids = append(ids, more...)
			}
			if len(ids) == 0 {
				return fmt.Errorf("no device ids given")
			}
			return withApp(func(app *wire.App) error {
				sum, err := app.Archive.BulkArchive(cmd.Context(), ids, reason)
				if sum != nil {
					if perr := printArchiveSummary(cmd, sum); perr != nil {
						return perr
					}
				}
				return err
			})
		},
	}
	cmd.Flags().StringVarP(&reason, "reason", "r", "", "why the devices leave inventory (required)")
	cmd.Flags().StringVarP(&file, "file", "f", "", "file with one device id per line")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

// readIDs reads one id per line, skipping blanks and # comments.
func readIDs(stdin io.Reader, path string) ([]string, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	var ids []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, line)
	}
	return ids, sc.Err()
}

// NuclearCmd returns the nuclear-delete command.
func NuclearCmd() *cobra.Command {
	var confirm, reason string

	cmd := &cobra.Command{
		Use:   "nuclear-delete",
		Short: "Archive every product in the system",
		Long: fmt.Sprintf(`Archive every product and its records. This empties live inventory.

--confirm must be exactly %q.`, services.NuclearConfirmation),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(app *wire.App) error {
				sum, err := app.Archive.NuclearDelete(cmd.Context(), confirm, reason)
				if sum != nil {
					if perr := printArchiveSummary(cmd, sum); perr != nil {
						return perr
					}
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&confirm, "confirm", "", "confirmation phrase")
	cmd.Flags().StringVarP(&reason, "reason", "r", "", "why inventory is being cleared (required)")
	_ = cmd.MarkFlagRequired("confirm")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

// RestoreCmd returns the restore command.
func RestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore DEVICE_ID",
		Short: "Restore the most recent archive of a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(app *wire.App) error {
				sum, err := app.Archive.Restore(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if jsonRequested(cmd) {
					return printJSON(out, sum)
				}
				fmt.Fprintf(out, "%s restored %s from batch %s\n", okMark("✓"), sum.DeviceID, dim(sum.BatchID))
				printTables(out, sum.Tables)
				if sum.Superseded > 0 {
					fmt.Fprintf(out, "  %s\n", dim(fmt.Sprintf("%d older entries marked consumed", sum.Superseded)))
				}
				return nil
			})
		},
	}
}

// EntriesCmd returns the archive entries listing command.
func EntriesCmd() *cobra.Command {
	var (
		device, table string
		page, size    int
		pendingOnly   bool
	)

	cmd := &cobra.Command{
		Use:   "entries",
		Short: "List archive entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := repo.ArchiveFilter{DeviceID: device, Table: table}
			if pendingOnly {
				no := false
				f.Consumed = &no
			}
			return withApp(func(app *wire.App) error {
				items, total, err := app.Archive.ListEntries(cmd.Context(), f, page, size)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if jsonRequested(cmd) {
					return printJSON(out, items)
				}
				for _, e := range items {
					state := okMark("restorable")
					if e.ConsumedAt != nil {
						state = dim("consumed")
					}
					fmt.Fprintf(out, "%s  %-18s %-18s %s  %s\n",
						e.ArchivedAt.Format("2006-01-02 15:04"), e.DeviceID, e.OriginalTable, state, dim(e.Reason))
				}
				fmt.Fprintf(out, "%s\n", dim(fmt.Sprintf("%d of %d entries", len(items), total)))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&device, "device", "", "filter by device id")
	cmd.Flags().StringVar(&table, "table", "", "filter by source table")
	cmd.Flags().BoolVar(&pendingOnly, "restorable", false, "only entries not yet restored")
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&size, "page-size", 50, "entries per page")
	return cmd
}

func printArchiveSummary(cmd *cobra.Command, sum *services.ArchiveSummary) error {
	out := cmd.OutOrStdout()
	if jsonRequested(cmd) {
		return printJSON(out, sum)
	}
	fmt.Fprintf(out, "%s archived %s %s\n", okMark("✓"), plural(len(sum.Archived), "device"), dim("("+sum.Reason+")"))
	printTables(out, sum.Tables)
	for _, f := range sum.Failed {
		fmt.Fprintf(out, "  %s %s: %s\n", errMark("✗"), f.DeviceID, f.Reason)
	}
	return nil
}

func printTables(out io.Writer, tables map[string]int) {
	names := make([]string, 0, len(tables))
	for t := range tables {
		names = append(names, t)
	}
	sort.Strings(names)
	for _, t := range names {
		fmt.Fprintf(out, "    %-18s %d\n", t, tables[t])
	}
}
