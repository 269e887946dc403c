// ./main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/xkilldash9x/scalpel-vapt/cmd"
	"github.com/xkilldash9x/scalpel-vapt/internal/observability"
)

func main() {
	defer handlePanic()

	// SIGINT/SIGTERM cancel the context; serve shuts down gracefully.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

// handlePanic logs the panic with its stack before exiting.
func handlePanic() {
	if r := recover(); r != nil {
		stack := debug.Stack()
		observability.GetLogger().Error(fmt.Sprintf("panic: %v", r))
		observability.Sync()
		fmt.Fprintf(os.Stderr, "panic: %v\n\n%s\n", r, stack)
		os.Exit(2)
	}
}
