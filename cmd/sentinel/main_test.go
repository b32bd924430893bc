package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelmesh/core/pkg/chain"
	"github.com/sentinelmesh/core/pkg/contracts"
	"github.com/sentinelmesh/core/pkg/identity"
	"github.com/sentinelmesh/core/pkg/store"
	"github.com/sentinelmesh/core/pkg/videoledger"
)

func TestRunHelp(t *testing.T) {
	var out, errOut bytes.Buffer
	code := Run([]string{"sentinel", "help"}, &out, &errOut)
	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), "serve")
	assert.Contains(t, out.String(), "export")
	assert.Contains(t, out.String(), "verify")
}

func TestRunUnknownCommand(t *testing.T) {
	var out, errOut bytes.Buffer
	code := Run([]string{"sentinel", "bogus"}, &out, &errOut)
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut.String(), "Unknown command: bogus")
}

func TestRunDefaultsToServe(t *testing.T) {
	orig := startServer
	defer func() { startServer = orig }()

	called := 0
	startServer = func(stdout, stderr io.Writer) int {
		called++
		return 0
	}

	var out, errOut bytes.Buffer
	assert.Equal(t, 0, Run([]string{"sentinel"}, &out, &errOut))
	assert.Equal(t, 0, Run([]string{"sentinel", "serve"}, &out, &errOut))
	_ = Run([]string{"sentinel", "--port=9999"}, &out, &errOut)
	assert.Equal(t, 3, called)
}

func TestKeygenWritesKeystore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "wallet.json")

	var out, errOut bytes.Buffer
	code := Run([]string{"sentinel", "keygen", "--out", path}, &out, &errOut)
	require.Equal(t, 0, code, errOut.String())

	w, err := identity.Load(path)
	require.NoError(t, err)
	assert.Contains(t, out.String(), string(w.Address()))

	// Refuses to clobber without --force.
	code = Run([]string{"sentinel", "keygen", "--out", path}, &out, &errOut)
	assert.Equal(t, 1, code)
}

func TestTokenIssueAndValidate(t *testing.T) {
	var out, errOut bytes.Buffer
	code := Run([]string{"sentinel", "token",
		"--secret", "test-secret",
		"--address", "0xmesh-operator",
		"--roles", "admin,submitter",
	}, &out, &errOut)
	require.Equal(t, 0, code, errOut.String())

	token := bytes.TrimSpace(out.Bytes())
	require.NotEmpty(t, token)
}

func TestTokenRequiresSecretAndAddress(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	var out, errOut bytes.Buffer
	assert.Equal(t, 1, Run([]string{"sentinel", "token", "--address", "0xabc"}, &out, &errOut))
	assert.Equal(t, 1, Run([]string{"sentinel", "token", "--secret", "s"}, &out, &errOut))
}

func TestVerifyPersistedChain(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "chain.db")
	seedChainDB(t, dbPath)

	var out, errOut bytes.Buffer
	code := Run([]string{"sentinel", "verify", "--db", dbPath}, &out, &errOut)
	require.Equal(t, 0, code, errOut.String())
	assert.Contains(t, out.String(), "Chain OK: 3 entries")
	assert.Contains(t, out.String(), "Head: ")
}

func TestVerifyEmptyChain(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "chain.db")

	var out, errOut bytes.Buffer
	code := Run([]string{"sentinel", "verify", "--db", dbPath}, &out, &errOut)
	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), "Chain is empty")
}

func TestExportFromPersistedChain(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "chain.db")
	hash := seedChainDB(t, dbPath)
	dest := filepath.Join(dir, "evidence.zip")

	var out, errOut bytes.Buffer
	code := Run([]string{"sentinel", "export",
		"--db", dbPath,
		"--hash", hash.String(),
		"--owner", "0xowner",
		"--out", dest,
	}, &out, &errOut)
	require.Equal(t, 0, code, errOut.String())
	assert.Contains(t, out.String(), "Checksum: sha256:")

	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

// seedChainDB commits an authorization and a detection into a fresh
// SQLite-backed chain and returns the detected content hash.
func seedChainDB(t *testing.T, dbPath string) contracts.Hash {
	t.Helper()

	db, err := store.OpenSQLite(dbPath)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	chainStore, err := store.NewSQLiteChainStore(db)
	require.NoError(t, err)

	c := chain.New("0xowner")
	c.Subscribe(chainStore.Follow(context.Background()))

	require.NoError(t, c.AuthorizeNode("0xowner", "0xnode", "edge-1", contracts.NodeClassEdge))

	hash, err := contracts.ParseHash("1111111111111111111111111111111111111111111111111111111111111111")
	require.NoError(t, err)
	_, err = c.SubmitDetection("0xnode", videoledger.Registration{
		ContentHash:  hash,
		ConfidenceBp: 9200,
		Country:      "US",
	})
	require.NoError(t, err)

	return hash
}
