package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sentinelmesh/core/pkg/auth"
	"github.com/sentinelmesh/core/pkg/contracts"
)

func runToken(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(stderr)
	secret := fs.String("secret", os.Getenv("JWT_SECRET"), "signing secret (defaults to JWT_SECRET)")
	issuer := fs.String("issuer", "sentinelmesh", "token issuer")
	address := fs.String("address", "", "wallet address the token is issued for")
	roles := fs.String("roles", "submitter", "comma-separated roles")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *secret == "" {
		fmt.Fprintln(stderr, "A signing secret is required (--secret or JWT_SECRET)")
		return 1
	}
	addr := contracts.Address(*address)
	if addr.IsZero() {
		fmt.Fprintln(stderr, "An address is required (--address)")
		return 1
	}

	var roleList []string
	for _, r := range strings.Split(*roles, ",") {
		if r = strings.TrimSpace(r); r != "" {
			roleList = append(roleList, r)
		}
	}

	validator := auth.NewValidator([]byte(*secret), *issuer)
	token, err := validator.Issue(addr, roleList, *ttl)
	if err != nil {
		fmt.Fprintf(stderr, "token: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, token)
	return 0
}
