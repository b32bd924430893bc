package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/sentinelmesh/core/pkg/identity"
)

func runKeygen(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	out := fs.String("out", "data/wallet.json", "keystore path to write")
	force := fs.Bool("force", false, "overwrite an existing keystore")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if !*force {
		if _, err := os.Stat(*out); err == nil {
			fmt.Fprintf(stderr, "Keystore already exists at %s (use --force to overwrite)\n", *out)
			return 1
		}
	}

	w, err := identity.Generate()
	if err != nil {
		fmt.Fprintf(stderr, "keygen: %v\n", err)
		return 1
	}
	if err := ensureDir(*out); err != nil {
		fmt.Fprintf(stderr, "keygen: %v\n", err)
		return 1
	}
	if err := w.Save(*out); err != nil {
		fmt.Fprintf(stderr, "keygen: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "Keystore written to %s\n", *out)
	fmt.Fprintf(stdout, "Address: %s\n", w.Address())
	return 0
}
