package db

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(Migrations, "migrations")
	require.NoError(t, err)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Errorf("unexpected file %s", name)
		}
	}
	require.NotEmpty(t, ups)
	assert.Equal(t, ups, downs)
}

func TestAuditTableIsAppendOnly(t *testing.T) {
	data, err := fs.ReadFile(Migrations, "migrations/20261001090400_create_audit_events.up.sql")
	require.NoError(t, err)
	sql := string(data)
	assert.Contains(t, sql, "record_hash")
	assert.Contains(t, sql, "BEFORE UPDATE OR DELETE ON audit_events")
}

func TestElevationStatusesMatchModel(t *testing.T) {
	data, err := fs.ReadFile(Migrations, "migrations/20261001090100_create_elevation_requests.up.sql")
	require.NoError(t, err)
	sql := string(data)
	for _, status := range []string{"pending", "approved", "rejected", "executed", "revoked", "expired"} {
		assert.Contains(t, sql, "'"+status+"'")
	}
}
