// Package main implements the tallyline binary.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/tallyline/tallyline/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	root := cli.NewRootCommand()
	if err := root.ExecuteContext(ctx); err != nil {
		if errors.Is(err, cli.ErrParityWarning) {
			os.Exit(2)
		}
		root.PrintErrln("Error:", err)
		os.Exit(1)
	}
}
