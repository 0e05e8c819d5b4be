package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeTemp(t, `
mongodb_url: "mongodb://localhost:27017"
database: "icrc_indexer"
tokens:
  - symbol: ckBTC
    canister_id: "mxzaz-hqaaa-aaaar-qaada-cai"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "https://ic0.app", cfg.ICURL)
	require.Equal(t, "info", cfg.Log.Level)
	require.Equal(t, 8080, cfg.APIServer.Port)
	require.Equal(t, uint8(8), *cfg.Tokens[0].Decimals)
}

func TestLoad_RejectsMissingTokens(t *testing.T) {
	path := writeTemp(t, `
mongodb_url: "mongodb://localhost:27017"
database: "icrc_indexer"
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_RejectsInvalidLogLevel(t *testing.T) {
	path := writeTemp(t, `
mongodb_url: "mongodb://localhost:27017"
database: "icrc_indexer"
tokens:
  - symbol: ckBTC
    canister_id: "abc"
log:
  level: "verbose"
`)
	_, err := Load(path)
	require.Error(t, err)
}
