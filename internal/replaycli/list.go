package replaycli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BaSui01/durableflow/archive"
)

type listOptions struct {
	*RootOptions
	Service string
	Limit   int
}

// listRow is the JSON/text projection of an archive.Record for the
// list command: identity and journal size, not the full entry log.
type listRow struct {
	InvocationID string `json:"invocation_id"`
	ServiceName  string `json:"service_name"`
	HandlerName  string `json:"handler_name"`
	Key          string `json:"key,omitempty"`
	Entries      int    `json:"entries"`
	ArchivedAt   string `json:"archived_at"`
}

func newListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &listOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List archived invocations",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.Service, "service", "", "filter by service name")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum rows to return (0 = unlimited)")
	return cmd
}

func runList(cmd *cobra.Command, opts *listOptions) error {
	arc, err := opts.openArchive()
	if err != nil {
		return err
	}
	defer arc.Close()

	records, err := arc.List(cmd.Context(), archive.ListOptions{ServiceName: opts.Service, Limit: opts.Limit})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list archive", err)
	}

	rows := make([]listRow, 0, len(records))
	for _, rec := range records {
		rows = append(rows, listRow{
			InvocationID: rec.InvocationID,
			ServiceName:  rec.ServiceName,
			HandlerName:  rec.HandlerName,
			Key:          rec.Key,
			Entries:      len(rec.Entries),
			ArchivedAt:   rec.ArchivedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}

	f := &Formatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if opts.Format == "json" {
		return f.Success(rows)
	}

	if len(rows) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no archived invocations")
		return nil
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%-36s %-16s %-16s %8s  %s\n", "INVOCATION", "SERVICE", "HANDLER", "ENTRIES", "ARCHIVED")
	for _, row := range rows {
		fmt.Fprintf(w, "%-36s %-16s %-16s %8d  %s\n", row.InvocationID, row.ServiceName, row.HandlerName, row.Entries, row.ArchivedAt)
	}
	return nil
}
