// Command chatcli is a terminal client for the chat server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/tbourn/go-chat-stream/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cli.Execute(ctx)
}
