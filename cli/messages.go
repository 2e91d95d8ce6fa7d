package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sessiongraph/sessiongraph/reconstruct"
)

// MessagesOptions holds flags for the messages command.
type MessagesOptions struct {
	*RootOptions
	AtEvent string
}

// NewMessagesCommand creates the messages command.
func NewMessagesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MessagesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "messages <session-id>",
		Short: "Reconstruct the provider-ready message list for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMessages(opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.AtEvent, "at-event", "", "reconstruct at a specific event instead of the head")

	return cmd
}

func runMessages(opts *MessagesOptions, sessionID string) error {
	s, err := openStore(opts.RootOptions)
	if err != nil {
		return err
	}
	defer s.Close()

	var result *reconstruct.Result
	if opts.AtEvent != "" {
		result, err = s.MessagesAt(opts.AtEvent)
	} else {
		result, err = s.MessagesAtHead(sessionID)
	}
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

	if result.SystemPrompt != "" {
		fmt.Printf("[system] %s\n\n", result.SystemPrompt)
	}
	for _, msg := range result.Messages {
		fmt.Printf("[%s]\n", msg.Role)
		for _, blk := range msg.Blocks {
			switch blk.Type {
			case "text":
				fmt.Println("  " + blk.Text)
			case "tool_use":
				fmt.Printf("  tool_use %s (%s)\n", blk.Name, blk.ID)
			case "tool_result":
				status := "ok"
				if blk.IsError {
					status = "error"
				}
				fmt.Printf("  tool_result for %s [%s]\n", blk.ToolUseID, status)
			}
		}
		fmt.Println()
	}
	fmt.Printf("%d messages, %d turns, %d input / %d output tokens\n",
		len(result.Messages), result.TurnCount,
		result.TokenUsage.InputTokens, result.TokenUsage.OutputTokens)
	return nil
}
