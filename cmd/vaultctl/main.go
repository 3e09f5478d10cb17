package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/kaytervn/msa-backend/internal/vaultctl"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := vaultctl.NewApp(os.Stdout, os.Stderr).Run(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}
