package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ragsql/ragsql/internal/cli/ragsqlctl"
)

func main() {
	_ = godotenv.Load()

	options := ragsqlctl.OptionsFromEnv(os.LookupEnv, func(msg string) {
		fmt.Fprintln(os.Stderr, msg)
	})
	options.Stdout = os.Stdout
	options.Stderr = os.Stderr

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := ragsqlctl.Run(ctx, os.Args[1:], options)
	stop()
	os.Exit(code)
}
