package sql

import (
	"database/sql"
	_ "embed"
	"fmt"
	"log"
)

//go:embed metadata.sql
var metadataSQL string

//go:embed pages.sql
var pagesSQL string

//go:embed cache_sqlite.sql
var cacheSqliteSQL string

// Function lists for verification
var MetadataFunctions = []string{
	"init_metadata",
	"set_metadata",
	"select_metadata_many",
	"clear_metadata",
}

var PagesFunctions = []string{
	"init_pages",
	"upsert_page",
	"select_existing_pages",
	"select_all_pages",
	"delete_all_pages",
}

// LoadMetadataSql loads the chunk metadata functions into Postgres
func LoadMetadataSql(db *sql.DB, force bool) error {
	return loadFunctions(db, "metadata", metadataSQL, MetadataFunctions, force)
}

// LoadPagesSql loads the page registry functions into Postgres
func LoadPagesSql(db *sql.DB, force bool) error {
	return loadFunctions(db, "pages", pagesSQL, PagesFunctions, force)
}

// LoadCacheSqlite creates the cache table of the SQLite fallback cache.
func LoadCacheSqlite(db *sql.DB) error {
	_, err := db.Exec(cacheSqliteSQL)
	if err != nil {
		return fmt.Errorf("error executing cache SQL: %w", err)
	}
	return nil
}

func loadFunctions(db *sql.DB, name string, script string, functions []string, force bool) error {
	if !force {
		exist, err := checkFunctions(db, functions)
		if err != nil {
			return fmt.Errorf("error checking existing %s functions: %w", name, err)
		}
		if exist {
			return nil
		}
	}

	_, err := db.Exec(script)
	if err != nil {
		return fmt.Errorf("error executing %s SQL: %w", name, err)
	}

	exist, err := checkFunctions(db, functions)
	if err != nil {
		return fmt.Errorf("error checking existing functions: %w", err)
	}
	if !exist {
		return fmt.Errorf("not all required SQL functions were created")
	}

	log.Printf("SQL %s functions loaded successfully", name)
	return nil
}

// checkFunctions verifies that all required functions exist in the database
func checkFunctions(db *sql.DB, sqlFunctions []string) (bool, error) {
	var allExist bool
	for _, f := range sqlFunctions {
		err := db.QueryRow(
			`SELECT EXISTS(SELECT 1 FROM pg_proc WHERE proname = $1);`,
			f,
		).Scan(&allExist)
		if err != nil {
			return false, fmt.Errorf("error checking existence of function %s: %w", f, err)
		}
		if !allExist {
			log.Printf("Function %s does not exist", f)
			break
		}
	}
	return allExist, nil
}
