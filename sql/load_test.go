package sql

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func assertFunctionsExist(t *testing.T, db *sql.DB, functions []string) {
	t.Helper()
	for _, funcName := range functions {
		var exists bool
		err := db.QueryRow("SELECT EXISTS(SELECT 1 FROM pg_proc WHERE proname = $1);", funcName).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "Function %s should exist", funcName)
	}
}

func TestLoadMetadataSql(t *testing.T) {
	db := initDB(t)
	defer db.Close()

	t.Run("Load metadata SQL functions", func(t *testing.T) {
		err := LoadMetadataSql(db.Instance, false)
		assert.NoError(t, err)
		assertFunctionsExist(t, db.Instance, MetadataFunctions)
	})

	t.Run("Load metadata SQL is idempotent without force", func(t *testing.T) {
		err := LoadMetadataSql(db.Instance, false)
		assert.NoError(t, err)
	})

	t.Run("Load metadata SQL with force reloads", func(t *testing.T) {
		err := LoadMetadataSql(db.Instance, true)
		assert.NoError(t, err)
		assertFunctionsExist(t, db.Instance, MetadataFunctions)
	})
}

func TestLoadPagesSql(t *testing.T) {
	db := initDB(t)
	defer db.Close()

	t.Run("Load pages SQL functions", func(t *testing.T) {
		err := LoadPagesSql(db.Instance, false)
		assert.NoError(t, err)
		assertFunctionsExist(t, db.Instance, PagesFunctions)
	})

	t.Run("Load pages SQL with force reloads", func(t *testing.T) {
		err := LoadPagesSql(db.Instance, true)
		assert.NoError(t, err)
		assertFunctionsExist(t, db.Instance, PagesFunctions)
	})
}

func TestCheckFunctions(t *testing.T) {
	db := initDB(t)
	defer db.Close()

	t.Run("Unknown function is reported missing", func(t *testing.T) {
		exist, err := checkFunctions(db.Instance, []string{"function_that_does_not_exist"})
		assert.NoError(t, err)
		assert.False(t, exist, "Expected missing function to be reported")
	})
}

func TestLoadCacheSqlite(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "cache.sqlite"))
	require.NoError(t, err)
	defer db.Close()

	t.Run("Create cache table", func(t *testing.T) {
		err := LoadCacheSqlite(db)
		assert.NoError(t, err)

		var name string
		err = db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'cache'`).Scan(&name)
		require.NoError(t, err)
		assert.Equal(t, "cache", name, "Expected cache table")
	})

	t.Run("Create cache table is idempotent", func(t *testing.T) {
		assert.NoError(t, LoadCacheSqlite(db))
	})
}
