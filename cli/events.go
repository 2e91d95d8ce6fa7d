package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// EventsOptions holds flags for the events command.
type EventsOptions struct {
	*RootOptions
	Since int64
}

// NewEventsCommand creates the events command.
func NewEventsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EventsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "events <session-id>",
		Short: "Print a session's event chain from root to head",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvents(opts, args[0])
		},
	}

	cmd.Flags().Int64Var(&opts.Since, "since", 0, "only events after this sequence number")

	return cmd
}

func runEvents(opts *EventsOptions, sessionID string) error {
	s, err := openStore(opts.RootOptions)
	if err != nil {
		return err
	}
	defer s.Close()

	events, err := s.GetEventsSince(sessionID, opts.Since)
	if err != nil {
		return err
	}

	if opts.Format == "json" {
		out, err := json.MarshalIndent(events, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	for _, e := range events {
		borrowed := ""
		if e.SessionID != sessionID {
			borrowed = " (inherited)"
		}
		fmt.Printf("#%-5d %s  %-20s %s%s\n",
			e.Sequence,
			time.UnixMilli(e.Timestamp).Format("15:04:05"),
			e.Type, e.ID, borrowed)
	}
	return nil
}
