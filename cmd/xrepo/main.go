package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"xrepo/internal/errors"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		for _, fix := range errors.GetSuggestedFixes(errors.CodeOf(err)) {
			if fix.Command != "" {
				fmt.Fprintf(os.Stderr, "  try: %s  (%s)\n", fix.Command, fix.Description)
			}
		}
		os.Exit(1)
	}
}
