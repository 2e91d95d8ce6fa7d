package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sessiongraph/sessiongraph/store"
)

// SessionsOptions holds flags for the sessions command.
type SessionsOptions struct {
	*RootOptions
	Workspace string
	Archived  bool
	Limit     int
}

// NewSessionsCommand creates the sessions command.
func NewSessionsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SessionsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List sessions by most recent activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessions(opts)
		},
	}

	cmd.Flags().StringVar(&opts.Workspace, "workspace", "", "filter by workspace path")
	cmd.Flags().BoolVar(&opts.Archived, "archived", false, "include archived sessions")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of sessions")

	return cmd
}

func runSessions(opts *SessionsOptions) error {
	s, err := openStore(opts.RootOptions)
	if err != nil {
		return err
	}
	defer s.Close()

	sessions, err := s.ListSessions(store.ListSessionsOptions{
		WorkspacePath:   opts.Workspace,
		IncludeArchived: opts.Archived,
		Limit:           opts.Limit,
	})
	if err != nil {
		return err
	}

	if opts.Format == "json" {
		out, err := json.MarshalIndent(sessions, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	for _, sess := range sessions {
		title := "(untitled)"
		if sess.Title != nil {
			title = *sess.Title
		}
		marker := ""
		if sess.ArchivedAt != nil {
			marker = " [archived]"
		}
		if sess.ForkFromEventID != nil {
			marker += " [fork]"
		}
		fmt.Printf("%s  %-40s  %s  %d events, %d messages%s\n",
			sess.ID, title,
			time.UnixMilli(sess.LastActivityAt).Format("2006-01-02 15:04"),
			sess.EventCount, sess.MessageCount, marker)
	}
	return nil
}
