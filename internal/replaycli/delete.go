package replaycli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BaSui01/durableflow/archive"
)

type deleteOptions struct {
	*RootOptions
	InvocationID string
}

func newDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &deleteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "delete",
		Short:         "Delete one archived invocation",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelete(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.InvocationID, "id", "", "invocation id (required)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func runDelete(cmd *cobra.Command, opts *deleteOptions) error {
	arc, err := opts.openArchive()
	if err != nil {
		return err
	}
	defer arc.Close()

	if err := arc.Delete(cmd.Context(), opts.InvocationID); err != nil {
		var notFound *archive.ErrNotFound
		if errors.As(err, &notFound) {
			return NewExitError(ExitFailure, err.Error())
		}
		return WrapExitError(ExitCommandError, "failed to delete archive record", err)
	}

	f := &Formatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return f.Success(fmt.Sprintf("deleted %s", opts.InvocationID))
}
