// Package cli implements the remrinctl commands.
package cli

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/bdobrica/Remrin/common/environment"
	"github.com/bdobrica/Remrin/internal/remrin/app"
	"github.com/bdobrica/Remrin/internal/remrin/personas"
	"github.com/bdobrica/Remrin/internal/remrin/store"
)

type options struct {
	dbPath  string
	verbose bool
	// app overrides the collaborators chat would build from the environment.
	app app.Options
}

// NewRootCmd returns the top-level remrinctl command.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&options{})
}

func newRootCmd(opts *options) *cobra.Command {
	root := &cobra.Command{
		Use:          "remrinctl",
		Short:        "Operate a Remrin database",
		Long:         "Imports and validates personas, inspects lockets and runs turns in-process against a Remrin SQLite database.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.dbPath, "db", "d", "", "Database path (default: $REMRIN_DB_PATH or "+app.DefaultDatabasePath+")")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log to stderr")

	root.AddCommand(
		newPersonaCmd(opts),
		newLocketCmd(opts),
		newChatCmd(opts),
		newHistoryCmd(opts),
		newTiersCmd(),
		newVersionCmd(),
	)
	return root
}

func (o *options) databasePath() string {
	if o.dbPath != "" {
		return o.dbPath
	}
	return environment.StringOr("REMRIN_DB_PATH", app.DefaultDatabasePath)
}

func (o *options) logger() *slog.Logger {
	if o.app.Logger != nil {
		return o.app.Logger
	}
	if !o.verbose {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// openRepository opens the database and returns an uncached persona
// repository on it. The caller closes the store.
func (o *options) openRepository() (*store.Store, *personas.Repository, error) {
	db, err := store.New(o.databasePath())
	if err != nil {
		return nil, nil, err
	}
	return db, personas.NewRepository(db.DB(), nil, o.logger()), nil
}
