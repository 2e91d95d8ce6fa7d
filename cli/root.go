package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sessiongraph/sessiongraph/db"
	"github.com/sessiongraph/sessiongraph/log"
	"github.com/sessiongraph/sessiongraph/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Database string
	Format   string // "json" | "text"
	Verbose  bool
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the sessiongraph CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "sessiongraph",
		Short: "Inspect and manage agent session event trees",
		Long:  "Append-only event ledger for agent sessions: branches, forks, and provider-ready message reconstruction.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if opts.Verbose {
				log.SetLevel("debug")
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "database path (default: $SESSIONGRAPH_DATA_DIR)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	// Add subcommands
	cmd.AddCommand(NewSessionsCommand(opts))
	cmd.AddCommand(NewEventsCommand(opts))
	cmd.AddCommand(NewTreeCommand(opts))
	cmd.AddCommand(NewMessagesCommand(opts))
	cmd.AddCommand(NewForkCommand(opts))
	cmd.AddCommand(NewSearchCommand(opts))

	return cmd
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	err := NewRootCommand().Execute()
	db.Close()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// openStore opens the database chosen by --db, falling back to the
// process-wide connection at the configured default path.
func openStore(opts *RootOptions) (*store.Store, error) {
	if opts.Database != "" {
		return store.Open(opts.Database)
	}
	return store.New(db.GetDB()), nil
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
