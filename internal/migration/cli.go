package migration

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
)

// CLI drives the invocation_archive schema migrator from the
// `durableserver migrate` subcommand — the schema holding the records
// of completed invocations and their journals, not a general-purpose
// database tool.
type CLI struct {
	migrator Migrator
	output   io.Writer
}

// NewCLI creates a new CLI instance
func NewCLI(migrator Migrator) *CLI {
	return &CLI{
		migrator: migrator,
		output:   os.Stdout,
	}
}

// SetOutput sets the output writer for CLI messages
func (c *CLI) SetOutput(w io.Writer) {
	c.output = w
}

func (c *CLI) archiveLabel() string {
	return fmt.Sprintf("invocation_archive (%s)", c.migrator.DatabaseType())
}

// RunUp applies every pending migration to the invocation archive.
func (c *CLI) RunUp(ctx context.Context) error {
	fmt.Fprintf(c.output, "Applying pending migrations to %s...\n", c.archiveLabel())

	if err := c.migrator.Up(ctx); err != nil {
		return fmt.Errorf("invocation archive migration failed: %w", err)
	}

	info, err := c.migrator.Info(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.output, "Archive schema up to date. Current version: %d\n", info.CurrentVersion)
	return nil
}

// RunDown rolls back the most recently applied archive migration.
func (c *CLI) RunDown(ctx context.Context) error {
	fmt.Fprintf(c.output, "Rolling back last migration on %s...\n", c.archiveLabel())

	if err := c.migrator.Down(ctx); err != nil {
		return fmt.Errorf("archive rollback failed: %w", err)
	}

	info, err := c.migrator.Info(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.output, "Rollback complete. Current version: %d\n", info.CurrentVersion)
	return nil
}

// RunDownAll tears the invocation archive schema back down to empty —
// every archived record is dropped with it, so this is a destructive
// operation for local development, not a live durableserver deployment.
func (c *CLI) RunDownAll(ctx context.Context) error {
	fmt.Fprintf(c.output, "Rolling back all migrations on %s...\n", c.archiveLabel())

	if err := c.migrator.DownAll(ctx); err != nil {
		return fmt.Errorf("archive rollback failed: %w", err)
	}

	fmt.Fprintln(c.output, "Invocation archive schema fully rolled back.")
	return nil
}

// RunSteps applies or rolls back n archive migrations.
func (c *CLI) RunSteps(ctx context.Context, n int) error {
	if n > 0 {
		fmt.Fprintf(c.output, "Applying %d migration(s) to %s...\n", n, c.archiveLabel())
	} else {
		fmt.Fprintf(c.output, "Rolling back %d migration(s) on %s...\n", -n, c.archiveLabel())
	}

	if err := c.migrator.Steps(ctx, n); err != nil {
		return fmt.Errorf("archive migration steps failed: %w", err)
	}

	info, err := c.migrator.Info(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.output, "Complete. Current version: %d\n", info.CurrentVersion)
	return nil
}

// RunGoto migrates the archive to a specific schema version.
func (c *CLI) RunGoto(ctx context.Context, version uint) error {
	fmt.Fprintf(c.output, "Migrating %s to version %d...\n", c.archiveLabel(), version)

	if err := c.migrator.Goto(ctx, version); err != nil {
		return fmt.Errorf("archive migration failed: %w", err)
	}

	fmt.Fprintf(c.output, "Migration complete. Current version: %d\n", version)
	return nil
}

// RunForce marks the archive's schema_migrations row at version
// without running any migration body — for clearing a dirty state
// left by a migration that failed partway through applying.
func (c *CLI) RunForce(ctx context.Context, version int) error {
	fmt.Fprintf(c.output, "Forcing %s to version %d...\n", c.archiveLabel(), version)

	if err := c.migrator.Force(ctx, version); err != nil {
		return fmt.Errorf("force failed: %w", err)
	}

	fmt.Fprintf(c.output, "Version forced to %d\n", version)
	return nil
}

// RunVersion reports the archive's current schema version.
func (c *CLI) RunVersion(ctx context.Context) error {
	version, dirty, err := c.migrator.Version(ctx)
	if err != nil {
		return fmt.Errorf("failed to get version: %w", err)
	}

	if version == 0 {
		fmt.Fprintf(c.output, "No migrations applied to %s yet.\n", c.archiveLabel())
		return nil
	}

	fmt.Fprintf(c.output, "%s current version: %d", c.archiveLabel(), version)
	if dirty {
		fmt.Fprint(c.output, " (dirty — a prior migration did not complete; see 'migrate force')")
	}
	fmt.Fprintln(c.output)

	return nil
}

// RunStatus lists every known migration against the invocation
// archive and whether it has been applied.
func (c *CLI) RunStatus(ctx context.Context) error {
	statuses, err := c.migrator.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}

	if len(statuses) == 0 {
		fmt.Fprintf(c.output, "No migrations found for %s.\n", c.archiveLabel())
		return nil
	}

	fmt.Fprintf(c.output, "%s\n\n", c.archiveLabel())

	w := tabwriter.NewWriter(c.output, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tNAME\tSTATUS")
	fmt.Fprintln(w, "-------\t----\t------")

	for _, s := range statuses {
		status := "Pending"
		if s.Applied {
			status = "Applied"
		}
		if s.Dirty {
			status = "Dirty"
		}
		fmt.Fprintf(w, "%06d\t%s\t%s\n", s.Version, s.Name, status)
	}

	w.Flush()

	info, err := c.migrator.Info(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintln(c.output)
	fmt.Fprintf(c.output, "Total: %d, Applied: %d, Pending: %d\n",
		info.TotalMigrations, info.AppliedMigrations, info.PendingMigrations)

	return nil
}

// RunInfo shows detailed invocation archive migration state.
func (c *CLI) RunInfo(ctx context.Context) error {
	info, err := c.migrator.Info(ctx)
	if err != nil {
		return fmt.Errorf("failed to get info: %w", err)
	}

	fmt.Fprintf(c.output, "%s:\n", c.archiveLabel())
	fmt.Fprintf(c.output, "  Current Version:    %d\n", info.CurrentVersion)
	fmt.Fprintf(c.output, "  Dirty:              %v\n", info.Dirty)
	fmt.Fprintf(c.output, "  Total Migrations:   %d\n", info.TotalMigrations)
	fmt.Fprintf(c.output, "  Applied Migrations: %d\n", info.AppliedMigrations)
	fmt.Fprintf(c.output, "  Pending Migrations: %d\n", info.PendingMigrations)

	return nil
}
