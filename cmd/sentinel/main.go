package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// startServer is a variable to allow mocking in tests.
var startServer = runServer

// Run dispatches subcommands. Exposed for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return startServer(stdout, stderr)
	}

	switch args[1] {
	case "serve", "server":
		return startServer(stdout, stderr)
	case "keygen":
		return runKeygen(args[2:], stdout, stderr)
	case "token":
		return runToken(args[2:], stdout, stderr)
	case "export":
		return runExport(args[2:], stdout, stderr)
	case "verify":
		return runVerify(args[2:], stdout, stderr)
	case "queue":
		return runQueue(args[2:], stdout, stderr)
	case "health":
		return runHealth(stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		if args[1][0] == '-' {
			return startServer(stdout, stderr)
		}
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "sentinel - deepfake detection mesh node")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  sentinel <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "NODE:")
	fmt.Fprintln(w, "  serve     Run the mesh node (default)")
	fmt.Fprintln(w, "  health    Check a running node over HTTP")
	fmt.Fprintln(w, "  keygen    Generate a node wallet keystore")
	fmt.Fprintln(w, "  token     Issue an access token for a wallet")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "CHAIN:")
	fmt.Fprintln(w, "  verify    Verify the persisted chain (--db)")
	fmt.Fprintln(w, "  export    Export an evidence pack (--db, --hash, --out)")
	fmt.Fprintln(w, "  queue     Inspect the submission queue (stats|retry-failed)")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "  help      Show this help")
	fmt.Fprintln(w, "")
}

func runHealth(out, errOut io.Writer) int {
	base := os.Getenv("SENTINEL_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	resp, err := http.Get(base + "/health")
	if err != nil {
		fmt.Fprintf(errOut, "Health check failed: %v\n", err)
		return 1
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(errOut, "Health check failed: status %d\n", resp.StatusCode)
		return 1
	}
	fmt.Fprintln(out, "OK")
	return 0
}
