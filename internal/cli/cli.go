// Package cli is the chatcli command tree: session and message management
// plus an interactive chat loop that renders streamed replies as they
// arrive.
package cli

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tbourn/go-chat-stream/internal/client"
	"github.com/tbourn/go-chat-stream/internal/sysutil"
)

const (
	defaultServer  = "http://localhost:8080/api/v1"
	defaultRetries = 3
)

// globals holds the persistent flags shared by every subcommand.
type globals struct {
	server  string
	retries int
	debug   bool
}

// NewRootCmd builds the chatcli command tree.
func NewRootCmd() *cobra.Command {
	g := &globals{}

	root := &cobra.Command{
		Use:   "chatcli",
		Short: "Talk to a go-chat-stream server.",
		Long: `Manage chat sessions and talk to the assistant from a terminal.

  chatcli sessions list              list sessions, newest first
  chatcli sessions new [title]       create a session
  chatcli messages list <session>    print a conversation
  chatcli chat [session]             start an interactive chat`,
		SilenceUsage: true,
	}

	server := os.Getenv("CHAT_SERVER")
	if server == "" {
		server = defaultServer
	}
	root.PersistentFlags().StringVar(&g.server, "server", server, "API base URL (env CHAT_SERVER)")
	root.PersistentFlags().IntVar(&g.retries, "retries", defaultRetries, "Retries for requests that are safe to repeat")
	root.PersistentFlags().BoolVar(&g.debug, "debug", false, "Log client diagnostics to stderr")

	root.AddCommand(newSessionsCmd(g), newMessagesCmd(g), newChatCmd(g))
	return root
}

// Execute runs the command tree against os.Args and reports failure through
// the exit code. Cancelling ctx stops a streaming reply.
func Execute(ctx context.Context) {
	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func (g *globals) api() *client.HTTPClient {
	return client.NewHTTPClient(client.ClientOptions{
		BaseURL:      strings.TrimSpace(g.server),
		RetryCount:   g.retries,
		RetryWait:    250 * time.Millisecond,
		RetryMaxWait: 2 * time.Second,
		UserAgent:    "chatcli",
	})
}

// store wires a Store to stderr logging. Commands print their own errors,
// so the store only logs with --debug.
func (g *globals) store(cmd *cobra.Command) *client.Store {
	log, _ := sysutil.NewLogger(sysutil.LogOptions{Pretty: true, Out: cmd.ErrOrStderr()})
	lvl := zerolog.Disabled
	if g.debug {
		lvl = zerolog.DebugLevel
	}
	return client.NewStore(g.api(), client.NewAppState(), log.Level(lvl))
}
