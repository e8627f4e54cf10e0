package cli

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	idColor    = color.New(color.FgCyan)
	dimColor   = color.New(color.Faint)
	okColor    = color.New(color.FgGreen)
	warnColor  = color.New(color.FgYellow)
	errorColor = color.New(color.FgRed)
)

func newSessionsCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "sessions",
		Aliases:      []string{"session"},
		Short:        "Manage chat sessions (list, new, rename, delete).",
		SilenceUsage: true,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List sessions, newest first.",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				list, err := g.api().ListSessions(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(list) == 0 {
					dimColor.Fprintln(out, "no sessions")
					return nil
				}
				for _, s := range list {
					idColor.Fprintf(out, "%-36s", s.ID)
					fmt.Fprintf(out, "  %s", s.Title)
					dimColor.Fprintf(out, "  %s\n", s.CreatedAt.Local().Format("2006-01-02 15:04"))
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "new [title]",
			Short: "Create a session. Without a title it is called \"New Chat\".",
			RunE: func(cmd *cobra.Command, args []string) error {
				s, err := g.api().CreateSession(cmd.Context(), strings.Join(args, " "))
				if err != nil {
					return err
				}
				okColor.Fprint(cmd.OutOrStdout(), "created ")
				idColor.Fprintf(cmd.OutOrStdout(), "%s", s.ID)
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", s.Title)
				return nil
			},
		},
		&cobra.Command{
			Use:   "rename <session> <title>",
			Short: "Rename a session.",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				st := g.store(cmd)
				if err := st.LoadSessions(cmd.Context()); err != nil {
					return err
				}
				if err := st.RenameSession(cmd.Context(), args[0], strings.Join(args[1:], " ")); err != nil {
					return err
				}
				for _, s := range st.State().Sessions.Get() {
					if s.ID == args[0] {
						okColor.Fprint(cmd.OutOrStdout(), "renamed ")
						fmt.Fprintf(cmd.OutOrStdout(), "%s\n", s.Title)
					}
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete <session>",
			Short: "Delete a session and all its messages.",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := g.api().DeleteSession(cmd.Context(), args[0]); err != nil {
					return err
				}
				okColor.Fprint(cmd.OutOrStdout(), "deleted ")
				fmt.Fprintln(cmd.OutOrStdout(), args[0])
				return nil
			},
		},
	)
	return cmd
}
