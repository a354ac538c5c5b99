package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cleared-dev/auszug/internal/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := commands.NewRootCommand().ExecuteContext(ctx)
	if msg := commands.Message(err); msg != "" {
		fmt.Fprintln(os.Stderr, "Error:", msg)
	}
	stop()
	os.Exit(commands.ExitCode(err))
}
