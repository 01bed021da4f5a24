package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandTree(t *testing.T) {
	for _, path := range [][]string{
		{"server"},
		{"db", "migrate"},
		{"db", "down"},
		{"db", "status"},
		{"data-key", "generate"},
		{"configuration", "show"},
		{"configuration", "validate"},
		{"staff", "add"},
		{"staff", "deactivate"},
		{"role", "grant"},
		{"role", "show"},
		{"audit", "verify"},
		{"sweep"},
		{"wait"},
	} {
		cmd, rest, err := rootCmd.Find(path)
		require.NoError(t, err, strings.Join(path, " "))
		assert.Empty(t, rest)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}

func TestServerFlags(t *testing.T) {
	t.Setenv("PORT", "9100")
	t.Setenv("BIND_ADDRESS", "")
	assert.Equal(t, "9100", defaultPort())
	assert.Equal(t, 9100, defaultPortInt())
	assert.Equal(t, "0.0.0.0", defaultBindAddress())

	t.Setenv("PORT", "not-a-port")
	assert.Equal(t, 8000, defaultPortInt())

	for _, name := range []string{"port", "bind-address", "no-migrate"} {
		assert.NotNil(t, serverCmd.Flags().Lookup(name), name)
	}
}

func TestListMigrationFiles(t *testing.T) {
	t.Setenv("TORVUS_MIGRATIONS_PATH", "../../db/migrations")
	files, err := listMigrationFiles()
	require.NoError(t, err)
	require.NotEmpty(t, files)
	for _, f := range files {
		assert.True(t, strings.HasSuffix(f, ".up.sql"), f)
	}
}
