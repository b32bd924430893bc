package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/sentinelmesh/core/pkg/chain"
	"github.com/sentinelmesh/core/pkg/contracts"
	"github.com/sentinelmesh/core/pkg/export"
	"github.com/sentinelmesh/core/pkg/store"
)

func runExport(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dbPath := fs.String("db", "data/chain.db", "chain database path")
	hashStr := fs.String("hash", "", "content hash of the video to export")
	ownerStr := fs.String("owner", os.Getenv("OWNER_ADDRESS"), "mesh owner address")
	out := fs.String("out", "", "output file (defaults to <hash>.pack.zip)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	hash, err := contracts.ParseHash(*hashStr)
	if err != nil {
		fmt.Fprintf(stderr, "A valid content hash is required (--hash): %v\n", err)
		return 1
	}
	owner := contracts.Address(*ownerStr)
	if owner.IsZero() {
		fmt.Fprintln(stderr, "An owner address is required (--owner or OWNER_ADDRESS)")
		return 1
	}

	ctx := context.Background()
	c, err := restoredChain(ctx, *dbPath, owner)
	if err != nil {
		fmt.Fprintf(stderr, "export: %v\n", err)
		return 1
	}

	pack, err := export.New(c, nil).GeneratePack(ctx, hash)
	if err != nil {
		fmt.Fprintf(stderr, "export: %v\n", err)
		return 1
	}

	dest := *out
	if dest == "" {
		dest = hash.String() + ".pack.zip"
	}
	if err := os.WriteFile(dest, pack.Bytes, 0o644); err != nil {
		fmt.Fprintf(stderr, "export: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "Evidence pack written to %s\n", dest)
	fmt.Fprintf(stdout, "Checksum: sha256:%s\n", pack.Checksum)
	return 0
}

// restoredChain rebuilds an offline chain from the persisted journal.
func restoredChain(ctx context.Context, dbPath string, owner contracts.Address) (*chain.Chain, error) {
	db, err := store.OpenSQLite(dbPath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()
	chainStore, err := store.NewSQLiteChainStore(db)
	if err != nil {
		return nil, err
	}
	entries, err := chainStore.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("chain database %s is empty", dbPath)
	}
	c := chain.New(owner)
	if err := c.Restore(entries); err != nil {
		return nil, err
	}
	return c, nil
}
