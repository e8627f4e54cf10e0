package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tbourn/go-chat-stream/internal/client"
	"github.com/tbourn/go-chat-stream/internal/domain"
)

func newMessagesCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "messages",
		Short:        "Inspect and prune a conversation (list, delete).",
		SilenceUsage: true,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list <session>",
			Short: "Print the messages of a session in order.",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				msgs, err := g.api().ListMessages(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if len(msgs) == 0 {
					dimColor.Fprintln(cmd.OutOrStdout(), "no messages")
					return nil
				}
				for _, m := range msgs {
					printMessage(cmd.OutOrStdout(), m)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete <session> <message-id>",
			Short: "Delete one message.",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := strconv.ParseInt(args[1], 10, 64)
				if err != nil || id <= 0 {
					return fmt.Errorf("invalid message id %q", args[1])
				}
				if err := g.api().DeleteMessage(cmd.Context(), args[0], id); err != nil {
					return err
				}
				okColor.Fprint(cmd.OutOrStdout(), "deleted ")
				fmt.Fprintf(cmd.OutOrStdout(), "message %d\n", id)
				return nil
			},
		},
	)
	return cmd
}

// printMessage writes one line per message: "[id] role: content".
func printMessage(w io.Writer, m client.Message) {
	dimColor.Fprintf(w, "[%d] ", m.ID)
	c := idColor
	if m.Role == domain.RoleAssistant {
		c = okColor
	}
	c.Fprintf(w, "%s: ", m.Role)
	fmt.Fprintln(w, m.Content)
}
