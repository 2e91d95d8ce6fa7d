package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sessiongraph/sessiongraph/store"
)

// TreeOptions holds flags for the tree command.
type TreeOptions struct {
	*RootOptions
	MaxDepth     int
	MessagesOnly bool
}

// NewTreeCommand creates the tree command.
func NewTreeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TreeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "tree <session-id>",
		Short: "Visualize a session's event tree with all branches and forks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTree(opts, args[0])
		},
	}

	cmd.Flags().IntVar(&opts.MaxDepth, "max-depth", 0, "limit tree depth (0 = unlimited)")
	cmd.Flags().BoolVar(&opts.MessagesOnly, "messages-only", false, "show only message events")

	return cmd
}

func runTree(opts *TreeOptions, sessionID string) error {
	s, err := openStore(opts.RootOptions)
	if err != nil {
		return err
	}
	defer s.Close()

	root, err := s.GetTreeVisualization(sessionID, store.TreeOptions{
		MaxDepth:     opts.MaxDepth,
		MessagesOnly: opts.MessagesOnly,
	})
	if err != nil {
		return err
	}

	if opts.Format == "json" {
		out, err := json.MarshalIndent(root, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	printTree(root, "", true)
	return nil
}

func printTree(node *store.TreeNode, prefix string, isLast bool) {
	connector := "├── "
	childPrefix := prefix + "│   "
	if isLast {
		connector = "└── "
		childPrefix = prefix + "    "
	}
	if prefix == "" {
		connector = ""
		childPrefix = "    "
	}

	marker := " "
	if node.OnChain {
		marker = "*"
	}
	line := fmt.Sprintf("%s%s%s #%d %s", prefix, connector, marker, node.Sequence, node.Type)
	if node.Preview != "" {
		line += "  " + strings.TrimSpace(node.Preview)
	}
	fmt.Println(line)

	for i, child := range node.Children {
		printTree(child, childPrefix, i == len(node.Children)-1)
	}
}
