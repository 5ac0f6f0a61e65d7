// Command sadhana tracks daily practices offline first and syncs them with a
// remote tracker.
//
// Usage:
//
//	sadhana today               Show today's items and points
//	sadhana done <item>         Mark an item done today
//	sadhana delete <item>       Remove a completion
//	sadhana log                 Show the journal, newest first
//	sadhana login --token T     Sign in and upload the guest journal
//	sadhana serve               Run the reference tracker server
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/roach88/sadhana/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
