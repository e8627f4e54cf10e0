package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/tbourn/go-chat-stream/internal/client"
	"github.com/tbourn/go-chat-stream/internal/domain"
)

func newChatCmd(g *globals) *cobra.Command {
	var message string

	cmd := &cobra.Command{
		Use:   "chat [session]",
		Short: "Chat with the assistant, interactively or once with -m.",
		Long: `Chat with the assistant in a session. Without a session argument the
newest session is used, or a new one is created.

Interactive commands:
  /new       start a new session
  /history   print the conversation so far
  /quit      leave`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st := g.store(cmd)
			if err := st.Init(ctx); err != nil {
				return err
			}

			switch {
			case len(args) == 1:
				if err := st.SelectChat(ctx, args[0]); err != nil {
					return err
				}
			case st.State().SelectedChatID.Get() == "":
				if _, err := st.CreateSession(ctx, ""); err != nil {
					return err
				}
			}

			c := &chat{store: st, out: cmd.OutOrStdout(), render: &replyRenderer{w: cmd.OutOrStdout()}}
			unsubscribe := st.State().Messages.Subscribe(c.render.onMessages)
			defer unsubscribe()

			if message != "" {
				return c.turn(ctx, message)
			}
			return c.loop(ctx, cmd.InOrStdin())
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "Send one message, print the reply and exit")
	return cmd
}

type chat struct {
	store  *client.Store
	out    io.Writer
	render *replyRenderer
}

func (c *chat) loop(ctx context.Context, in io.Reader) error {
	c.banner()
	sc := bufio.NewScanner(in)
	for {
		idColor.Fprint(c.out, "you> ")
		if !sc.Scan() {
			fmt.Fprintln(c.out)
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())

		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/new":
			if _, err := c.store.CreateSession(ctx, ""); err != nil {
				errorColor.Fprintf(c.out, "error: %v\n", err)
				continue
			}
			c.banner()
			continue
		case "/history":
			for _, m := range c.store.State().Messages.Get() {
				printMessage(c.out, m)
			}
			continue
		}

		if err := c.turn(ctx, line); err != nil {
			errorColor.Fprintf(c.out, "error: %v\n", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// turn stores the user's message and streams the reply.
func (c *chat) turn(ctx context.Context, text string) error {
	chatID := c.store.State().SelectedChatID.Get()
	if _, err := c.store.AddMessage(ctx, chatID, domain.RoleUser, text); err != nil {
		return err
	}

	okColor.Fprint(c.out, "assistant> ")
	c.render.begin(c.store.State().Messages.Get())
	state, err := c.store.GetBotResponse(ctx, chatID, text)
	c.render.end()

	switch state {
	case client.StreamCompleted:
		if err != nil {
			warnColor.Fprintf(c.out, "reply shown but not saved: %v\n", err)
		}
		return nil
	case client.StreamCancelled:
		warnColor.Fprintln(c.out, "[cancelled]")
		return nil
	default:
		return err
	}
}

func (c *chat) banner() {
	id := c.store.State().SelectedChatID.Get()
	for _, s := range c.store.State().Sessions.Get() {
		if s.ID == id {
			dimColor.Fprintf(c.out, "session %s  %s\n", s.ID, s.Title)
		}
	}
}

// replyRenderer prints the growth of the streaming placeholder. It follows
// the newest ephemeral assistant message that was not present when the turn
// began and writes only the text added since the last notification.
type replyRenderer struct {
	w io.Writer

	mu     sync.Mutex
	active bool
	skip   map[int64]bool
	id     int64
	shown  string
}

func (r *replyRenderer) begin(existing []client.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = true
	r.skip = make(map[int64]bool)
	for _, m := range existing {
		if m.Ephemeral() {
			r.skip[m.ID] = true
		}
	}
	r.id, r.shown = 0, ""
}

func (r *replyRenderer) end() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = false
	fmt.Fprintln(r.w)
}

func (r *replyRenderer) onMessages(msgs []client.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.Role != domain.RoleAssistant || !m.Ephemeral() || r.skip[m.ID] {
			continue
		}
		if m.ID != r.id {
			r.id, r.shown = m.ID, ""
		}
		if strings.HasPrefix(m.Content, r.shown) {
			fmt.Fprint(r.w, m.Content[len(r.shown):])
		} else {
			// The placeholder was replaced, e.g. by an apology.
			fmt.Fprintln(r.w)
			errorColor.Fprint(r.w, m.Content)
		}
		r.shown = m.Content
		return
	}
}
