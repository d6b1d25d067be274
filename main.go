// The main package for the colorful-state executable.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/lixiansky/Colorful-State/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cmd.Execute(ctx)
}
