package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/siherrmann/webgraph/helper"
	loadSql "github.com/siherrmann/webgraph/sql"
	_ "modernc.org/sqlite"
)

// SqliteCacheDBHandler is the embedded fallback cache. Entries never expire.
type SqliteCacheDBHandler struct {
	db   *sql.DB
	path string
}

// NewSqliteCacheDBHandler opens or creates the cache database at path.
func NewSqliteCacheDBHandler(path string) (*SqliteCacheDBHandler, error) {
	if path == "" {
		return nil, helper.NewError("path validation", fmt.Errorf("cache path is empty"))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, helper.NewError("create cache directory", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, helper.NewError("open", err)
	}
	// One writer keeps SQLite from returning SQLITE_BUSY under load.
	db.SetMaxOpenConns(1)

	err = loadSql.LoadCacheSqlite(db)
	if err != nil {
		db.Close()
		return nil, helper.NewError("load cache sql", err)
	}

	return &SqliteCacheDBHandler{db: db, path: path}, nil
}

func (h *SqliteCacheDBHandler) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := h.db.QueryRowContext(ctx, `SELECT value FROM cache WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, helper.NewError("scan", err)
	}
	return value, true, nil
}

// Set ignores ttl.
func (h *SqliteCacheDBHandler) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	_, err := h.db.ExecContext(ctx, `REPLACE INTO cache (key, value) VALUES (?, ?)`, key, value)
	if err != nil {
		return helper.NewError("exec", err)
	}
	return nil
}

func (h *SqliteCacheDBHandler) FlushAll(ctx context.Context) error {
	_, err := h.db.ExecContext(ctx, `DELETE FROM cache`)
	if err != nil {
		return helper.NewError("exec", err)
	}
	return nil
}

func (h *SqliteCacheDBHandler) Close() error {
	return h.db.Close()
}
