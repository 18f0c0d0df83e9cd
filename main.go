// ./main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/xkilldash9x/droidpilot/cmd"
)

// main is the entry point for the droidpilot CLI. The signal-aware context
// lets a Ctrl-C stop the session loop between device actions.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd.ExecuteContext(ctx)
}
