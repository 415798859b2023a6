// Command replaydebug is an operator tool for inspecting invocation
// journals written to an archive.Archive backend: list what was
// archived, show one journal in full, feed an archived journal back
// through a fresh journal.Journal to check it is structurally sound,
// or delete a record.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/BaSui01/durableflow/internal/replaycli"
)

func main() {
	ctx := context.Background()
	cmd := replaycli.NewRootCommand()
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(replaycli.GetExitCode(err))
	}
}
