package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
)

func main() {
	godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	rootCmd, closeApp := newRootCmd()
	err := rootCmd.ExecuteContext(ctx)
	cancel()
	if closeErr := closeApp(); closeErr != nil {
		fmt.Fprintf(os.Stderr, "failed to close: %s\n", closeErr)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}
