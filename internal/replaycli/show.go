package replaycli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BaSui01/durableflow/archive"
	"github.com/BaSui01/durableflow/journal"
)

type showOptions struct {
	*RootOptions
	InvocationID string
}

type entryRow struct {
	Index  uint32 `json:"index"`
	Kind   string `json:"kind"`
	Result string `json:"result"`
}

type showResult struct {
	InvocationID string     `json:"invocation_id"`
	ServiceName  string     `json:"service_name"`
	HandlerName  string     `json:"handler_name"`
	Key          string     `json:"key,omitempty"`
	ArchivedAt   string     `json:"archived_at"`
	Entries      []entryRow `json:"entries"`
}

func newShowCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &showOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "show",
		Short:         "Show one archived invocation's journal",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.InvocationID, "id", "", "invocation id (required)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func runShow(cmd *cobra.Command, opts *showOptions) error {
	arc, err := opts.openArchive()
	if err != nil {
		return err
	}
	defer arc.Close()

	rec, err := arc.Get(cmd.Context(), opts.InvocationID)
	if err != nil {
		var notFound *archive.ErrNotFound
		if errors.As(err, &notFound) {
			return NewExitError(ExitFailure, err.Error())
		}
		return WrapExitError(ExitCommandError, "failed to read archive", err)
	}

	result := showResult{
		InvocationID: rec.InvocationID,
		ServiceName:  rec.ServiceName,
		HandlerName:  rec.HandlerName,
		Key:          rec.Key,
		ArchivedAt:   rec.ArchivedAt.Format("2006-01-02T15:04:05Z07:00"),
		Entries:      make([]entryRow, 0, len(rec.Entries)),
	}
	for _, e := range rec.Entries {
		result.Entries = append(result.Entries, entryRow{
			Index:  e.Index,
			Kind:   e.Kind.String(),
			Result: resultSummary(e.Result),
		})
	}

	f := &Formatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if opts.Format == "json" {
		return f.Success(result)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "invocation   %s\n", result.InvocationID)
	fmt.Fprintf(w, "service      %s\n", result.ServiceName)
	fmt.Fprintf(w, "handler      %s\n", result.HandlerName)
	if result.Key != "" {
		fmt.Fprintf(w, "key          %s\n", result.Key)
	}
	fmt.Fprintf(w, "archived at  %s\n", result.ArchivedAt)
	fmt.Fprintf(w, "entries      %d\n\n", len(result.Entries))
	for _, e := range result.Entries {
		fmt.Fprintf(w, "  [%03d] %-20s %s\n", e.Index, e.Kind, e.Result)
	}
	return nil
}

func resultSummary(r journal.Result) string {
	switch r.State {
	case journal.ResultNotReady:
		return "not-ready"
	case journal.ResultEmpty:
		return "empty"
	case journal.ResultValue:
		return fmt.Sprintf("value (%d bytes)", len(r.Value))
	case journal.ResultFailure:
		return fmt.Sprintf("failure code=%d %q", r.FailureCode, r.FailureMessage)
	default:
		return "unknown"
	}
}
