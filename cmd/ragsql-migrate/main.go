package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"github.com/ragsql/ragsql/internal/config"
	"github.com/ragsql/ragsql/internal/migrations"
	"github.com/ragsql/ragsql/internal/pgdb"
)

const usage = `usage: ragsql-migrate [flags] up|down|status

flags:
  -steps N   scripts to apply (up, 0 = all) or roll back (down, default 1)
  -timeout   overall deadline (default 1m)
  -json      print status as JSON
`

func main() {
	_ = godotenv.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("ragsql-migrate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usage) }
	steps := fs.Int("steps", 0, "")
	timeout := fs.Duration("timeout", time.Minute, "")
	asJSON := fs.Bool("json", false, "")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	command := "up"
	if fs.NArg() > 0 {
		command = fs.Arg(0)
	}
	if command != "up" && command != "down" && command != "status" {
		fmt.Fprintf(stderr, "unknown command %q\n", command)
		fs.Usage()
		return 2
	}

	cfg, err := config.LoadFromEnv("ragsql-migrate")
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}
	if cfg.VectorStore.DSN == "" {
		fmt.Fprintln(stderr, "RAGSQL_VECTOR_DSN is required")
		return 1
	}

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()
	db, err := pgdb.Open(ctx, "vector store", cfg.VectorStore.DBPoolConfig)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer func() { _ = db.Close() }()

	runner := migrations.NewRunner()
	switch command {
	case "up":
		n, err := runner.Up(ctx, db, *steps)
		fmt.Fprintf(stdout, "applied %d migration(s)\n", n)
		return exitCode(stderr, err)
	case "down":
		n, err := runner.Down(ctx, db, *steps)
		fmt.Fprintf(stdout, "rolled back %d migration(s)\n", n)
		return exitCode(stderr, err)
	default:
		statuses, err := runner.Status(ctx, db)
		if err != nil {
			return exitCode(stderr, err)
		}
		return exitCode(stderr, printStatus(stdout, statuses, *asJSON))
	}
}

func printStatus(w io.Writer, statuses []migrations.Status, asJSON bool) error {
	if asJSON {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(statuses)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tNAME\tSTATE\tAPPLIED AT")
	for _, status := range statuses {
		state, at := "pending", "-"
		if status.Applied {
			state = "applied"
			at = status.AppliedAt.UTC().Format(time.RFC3339)
		}
		if status.Modified {
			state = "modified"
		}
		fmt.Fprintf(tw, "%06d\t%s\t%s\t%s\n", status.Version, status.Name, state, at)
	}
	return tw.Flush()
}

func exitCode(stderr io.Writer, err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.DeadlineExceeded):
		fmt.Fprintf(stderr, "migration timed out: %v\n", err)
	default:
		fmt.Fprintln(stderr, err)
	}
	return 1
}
