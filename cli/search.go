package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sessiongraph/sessiongraph/store"
)

// SearchOptions holds flags for the search command.
type SearchOptions struct {
	*RootOptions
	Session string
	Limit   int
}

// NewSearchCommand creates the search command.
func NewSearchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SearchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Full-text search over message content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Session, "session", "", "restrict to one session")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of results")

	return cmd
}

func runSearch(opts *SearchOptions, query string) error {
	s, err := openStore(opts.RootOptions)
	if err != nil {
		return err
	}
	defer s.Close()

	results, err := s.Search(query, store.SearchOptions{
		SessionID: opts.Session,
		Limit:     opts.Limit,
	})
	if err != nil {
		return err
	}

	if opts.Format == "json" {
		out, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	for _, r := range results {
		fmt.Printf("%s  %s #%d  %s\n", r.Event.SessionID, r.Event.Type, r.Event.Sequence, r.Snippet)
	}
	fmt.Printf("%d results\n", len(results))
	return nil
}
