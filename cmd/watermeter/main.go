// Command watermeter records water meter readings and prices monthly bills.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(&app{out: os.Stdout}).ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
