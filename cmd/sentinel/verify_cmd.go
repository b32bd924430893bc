package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/sentinelmesh/core/pkg/chain"
	"github.com/sentinelmesh/core/pkg/store"
)

func runVerify(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dbPath := fs.String("db", "data/chain.db", "chain database path")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	db, err := store.OpenSQLite(*dbPath)
	if err != nil {
		fmt.Fprintf(stderr, "verify: %v\n", err)
		return 1
	}
	defer func() { _ = db.Close() }()
	chainStore, err := store.NewSQLiteChainStore(db)
	if err != nil {
		fmt.Fprintf(stderr, "verify: %v\n", err)
		return 1
	}
	entries, err := chainStore.LoadAll(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "verify: %v\n", err)
		return 1
	}
	if len(entries) == 0 {
		fmt.Fprintln(stdout, "Chain is empty")
		return 0
	}

	log := chain.NewLog()
	if err := log.Restore(entries); err != nil {
		fmt.Fprintf(stderr, "Chain verification FAILED: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "Chain OK: %d entries\n", log.Length())
	fmt.Fprintf(stdout, "Head: %s\n", log.Head())
	return 0
}
