package replaycli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BaSui01/durableflow/archive"
	"github.com/BaSui01/durableflow/journal"
)

type replayOptions struct {
	*RootOptions
	InvocationID string
}

type replayResult struct {
	InvocationID string     `json:"invocation_id"`
	Entries      []entryRow `json:"entries"`
	Valid        bool       `json:"valid"`
	Problems     []string   `json:"problems,omitempty"`
}

func newReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &replayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-feed an archived journal through a fresh Journal and report ordering problems",
		Long: `replay loads an archived invocation's entries, feeds them into a
fresh journal.Journal as a replay prefix in archived order, and
reports whether the sequence is internally consistent: strictly
increasing indices and no entry appearing out of its recorded order.

It does not re-run the original handler, since replaydebug has no
access to arbitrary user code, so it cannot detect nondeterminism in
the handler itself, only structural corruption of the archived journal.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.InvocationID, "id", "", "invocation id (required)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func runReplay(cmd *cobra.Command, opts *replayOptions) error {
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

	result := replayEntries(rec)

	f := &Formatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if opts.Format == "json" {
		if err := f.Success(result); err != nil {
			return err
		}
		if !result.Valid {
			return NewExitError(ExitFailure, "journal replay found structural problems")
		}
		return nil
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "invocation %s: %d entries\n\n", result.InvocationID, len(result.Entries))
	for _, e := range result.Entries {
		fmt.Fprintf(w, "  [%03d] %-20s %s\n", e.Index, e.Kind, e.Result)
	}
	fmt.Fprintln(w)
	if result.Valid {
		fmt.Fprintln(w, "journal replays cleanly")
		return nil
	}
	fmt.Fprintln(w, "journal replay found problems:")
	for _, p := range result.Problems {
		fmt.Fprintf(w, "  - %s\n", p)
	}
	return NewExitError(ExitFailure, "journal replay found structural problems")
}

// replayEntries feeds rec.Entries through a fresh journal.Journal as
// a replay prefix, the same path the invocation core uses for a real
// replay, and collects whatever AppendReplay/bookkeeping catches.
func replayEntries(rec archive.Record) replayResult {
	j := journal.New(true, zap.NewNop())

	result := replayResult{InvocationID: rec.InvocationID, Valid: true}
	var lastIndex int64 = -1
	for _, e := range rec.Entries {
		if int64(e.Index) <= lastIndex {
			result.Valid = false
			result.Problems = append(result.Problems, fmt.Sprintf("entry at index %d is not strictly after previous index %d", e.Index, lastIndex))
		}
		lastIndex = int64(e.Index)
		j.AppendReplay(e)
		if stored, ok := j.Entry(e.Index); !ok || stored.Kind != e.Kind {
			result.Valid = false
			result.Problems = append(result.Problems, fmt.Sprintf("entry at index %d was not retrievable after being appended to the replay prefix", e.Index))
		}
		result.Entries = append(result.Entries, entryRow{
			Index:  e.Index,
			Kind:   e.Kind.String(),
			Result: resultSummary(e.Result),
		})
	}

	if remaining := j.ReplayRemaining(); remaining != len(rec.Entries) {
		result.Valid = false
		result.Problems = append(result.Problems, fmt.Sprintf("journal accepted %d of %d replay entries", len(rec.Entries)-remaining, len(rec.Entries)))
	}

	return result
}
