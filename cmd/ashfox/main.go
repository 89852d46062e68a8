// Command ashfox runs the modeling-tool gateway in one of three modes:
// api (JSON-RPC-over-HTTP dispatch), worker (async job loop), or
// seed-demo (one-time demo data bootstrap). Mirrors the teacher's
// cmd/nightowl/main.go exactly in structure.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ashfox/toolgate/internal/app"
	"github.com/ashfox/toolgate/internal/config"
)

func main() {
	mode := flag.String("mode", "", "run mode: api, worker, or seed-demo (overrides ASHFOX_MODE)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: loading config: %v\n", err)
		os.Exit(1)
	}

	if *mode != "" {
		cfg.Mode = *mode
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.Run(ctx, cfg); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}
