package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/betterme/betterme/internal/cmd"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd.Version = version
	cmd.Execute(ctx)
}
