package migrations

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationFilesArePaired(t *testing.T) {
	entries, err := fs.ReadDir(migrationFiles, "files")
	require.NoError(t, err)
	require.NotEmpty(t, entries)

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
	assert.Equal(t, ups, downs)
}

func TestCustodyTableIsAppendOnly(t *testing.T) {
	data, err := fs.ReadFile(migrationFiles, "files/000002_artifacts.up.sql")
	require.NoError(t, err)

	sql := string(data)
	assert.Contains(t, sql, "UNIQUE (artifact_id, previous_hash)")
	assert.Contains(t, sql, "BEFORE UPDATE OR DELETE ON custody_events")
	assert.Contains(t, sql, "CHECK (is_approved = is_immutable)")
}
