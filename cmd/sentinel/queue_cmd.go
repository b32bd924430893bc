package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"sort"

	"github.com/sentinelmesh/core/pkg/store"
	"github.com/sentinelmesh/core/pkg/submit"
)

func runQueue(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("queue", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dbPath := fs.String("db", "data/queue.db", "queue database path")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	action := fs.Arg(0)
	if action == "" {
		action = "stats"
	}

	ctx := context.Background()
	db, err := store.OpenSQLite(*dbPath)
	if err != nil {
		fmt.Fprintf(stderr, "queue: %v\n", err)
		return 1
	}
	defer func() { _ = db.Close() }()
	queue, err := submit.New(db)
	if err != nil {
		fmt.Fprintf(stderr, "queue: %v\n", err)
		return 1
	}

	switch action {
	case "stats":
		stats, err := queue.Stats(ctx)
		if err != nil {
			fmt.Fprintf(stderr, "queue: %v\n", err)
			return 1
		}
		states := make([]string, 0, len(stats))
		for state := range stats {
			states = append(states, state)
		}
		sort.Strings(states)
		for _, state := range states {
			fmt.Fprintf(stdout, "%-10s %d\n", state, stats[state])
		}
		return 0
	case "retry-failed":
		n, err := queue.RetryFailed(ctx)
		if err != nil {
			fmt.Fprintf(stderr, "queue: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "Requeued %d failed submissions\n", n)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown queue action: %s (want stats or retry-failed)\n", action)
		return 2
	}
}
