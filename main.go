package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"hyakume/internal/app"
)

func main() {
	// Ctrl+C と SIGTERM で全デバイスを停止する
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := app.Main(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}
