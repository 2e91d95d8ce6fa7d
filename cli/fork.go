package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sessiongraph/sessiongraph/store"
)

// ForkOptions holds flags for the fork command.
type ForkOptions struct {
	*RootOptions
	FromEvent string
	Title     string
	Model     string
}

// NewForkCommand creates the fork command.
func NewForkCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ForkOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "fork <session-id>",
		Short: "Fork a session, sharing its history up to the fork point",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFork(opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.FromEvent, "from-event", "", "fork point (default: session head)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title for the new session")
	cmd.Flags().StringVar(&opts.Model, "model", "", "model for the new session (default: source model)")

	return cmd
}

func runFork(opts *ForkOptions, sessionID string) error {
	s, err := openStore(opts.RootOptions)
	if err != nil {
		return err
	}
	defer s.Close()

	forkOpts := store.ForkOptions{Model: opts.Model}
	if opts.FromEvent != "" {
		forkOpts.FromEventID = &opts.FromEvent
	}
	if opts.Title != "" {
		forkOpts.Title = &opts.Title
	}

	result, err := s.Fork(sessionID, forkOpts)
	if err != nil {
		return err
	}

	if opts.Format == "json" {
		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	fmt.Printf("forked %s at %s -> %s\n",
		result.ForkedFromSessionID, result.ForkedFromEventID, result.Session.ID)
	return nil
}
