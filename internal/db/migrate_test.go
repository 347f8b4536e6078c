package db

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMigrationsSortsAndSkips(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/010_later.sql":  {Data: []byte("SELECT 10;")},
		"migrations/002_second.sql": {Data: []byte("SELECT 2;")},
		"migrations/readme.sql":     {Data: []byte("-- no prefix")},
		"migrations/abc_bad.sql":    {Data: []byte("-- not numeric")},
	}

	got, err := loadMigrations(fsys)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 2, got[0].Version)
	assert.Equal(t, "002_second.sql", got[0].Name)
	assert.Equal(t, 10, got[1].Version)
	assert.Equal(t, "SELECT 10;", got[1].SQL)
}

func TestLoadMigrationsRejectsDuplicates(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/001_a.sql": {Data: []byte("SELECT 1;")},
		"migrations/1_b.sql":   {Data: []byte("SELECT 1;")},
	}

	_, err := loadMigrations(fsys)
	assert.Error(t, err)
}

func TestEmbeddedSchemaHasExclusionConstraint(t *testing.T) {
	got, err := LoadMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, 1, got[0].Version)
	assert.Contains(t, got[0].SQL, "EXCLUDE USING gist")
	assert.Contains(t, got[0].SQL, "'[)'")
}
