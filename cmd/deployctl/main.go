// Package main provides the deployctl CLI for deploying and upgrading the
// Aspecta points contracts.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/aspecta/points-deployer/internal/deployer"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := ExecuteContext(ctx)
	stop()
	os.Exit(deployer.ExitCode(err))
}
