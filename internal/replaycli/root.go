package replaycli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BaSui01/durableflow/archive"
	"github.com/BaSui01/durableflow/internal/archiveopen"
	"github.com/BaSui01/durableflow/internal/durableconfig"
)

// RootOptions holds the flags every subcommand needs to open an
// archive backend and pick an output format.
type RootOptions struct {
	Backend  string
	DSN      string
	Database string
	Format   string
}

var validFormats = []string{"text", "json"}

// NewRootCommand builds the replaydebug command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "replaydebug",
		Short: "Inspect and replay archived invocation journals",
		Long: `replaydebug reads invocation journals out of an archive.Archive
backend (memory, postgres, mysql, sqlite, redis, or mongo) and lets an
operator list, show, replay, or delete them without holding the
original invocation's transport connection open.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Backend, "backend", "memory", "archive backend (memory|postgres|mysql|sqlite|redis|mongo)")
	cmd.PersistentFlags().StringVar(&opts.DSN, "dsn", "", "backend connection string (unused for memory)")
	cmd.PersistentFlags().StringVar(&opts.Database, "database", "", "database name (mongo only)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json)")

	cmd.AddCommand(newListCommand(opts))
	cmd.AddCommand(newShowCommand(opts))
	cmd.AddCommand(newReplayCommand(opts))
	cmd.AddCommand(newDeleteCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range validFormats {
		if f == format {
			return true
		}
	}
	return false
}

func (o *RootOptions) openArchive() (archive.Archive, error) {
	cfg := durableconfig.ArchiveConfig{Backend: o.Backend, DSN: o.DSN, Database: o.Database}
	arc, err := archiveopen.Open(cfg, zap.NewNop())
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open archive backend", err)
	}
	return arc, nil
}
