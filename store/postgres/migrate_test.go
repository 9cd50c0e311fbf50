package postgres

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMigrations_Embedded(t *testing.T) {
	got, err := loadMigrations(migrationFiles, "migrations")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "init", got[0].name)
	assert.Equal(t, "jurisdiction", got[1].name)
	assert.Contains(t, got[1].sql, "CREATE TABLE IF NOT EXISTS jurisdiction")
}

func TestLoadMigrations_OrdersByVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"m/0002_second.sql": {Data: []byte("SELECT 2")},
		"m/0001_first.sql":  {Data: []byte("SELECT 1")},
		"m/README.md":       {Data: []byte("not a migration")},
	}

	got, err := loadMigrations(fsys, "m")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].version)
	assert.Equal(t, "SELECT 1", got[0].sql)
	assert.Equal(t, 2, got[1].version)
}

func TestLoadMigrations_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		files fstest.MapFS
	}{
		{"no name", fstest.MapFS{"m/0001.sql": {}}},
		{"non-numeric version", fstest.MapFS{"m/abcd_init.sql": {}}},
		{"zero version", fstest.MapFS{"m/0000_init.sql": {}}},
		{"hole", fstest.MapFS{"m/0001_a.sql": {}, "m/0003_c.sql": {}}},
		{"duplicate", fstest.MapFS{"m/0001_a.sql": {}, "m/0001_b.sql": {}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadMigrations(tt.files, "m")
			assert.Error(t, err)
		})
	}
}
