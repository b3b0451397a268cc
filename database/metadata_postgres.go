package database

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/siherrmann/webgraph/helper"
	"github.com/siherrmann/webgraph/sql"
)

// MetadataDBHandler stores metadata records in the chunk_metadata table.
type MetadataDBHandler struct {
	db *helper.Database
}

// NewMetadataDBHandler creates a new metadata database handler.
// If force is true, it will reload the SQL functions even if they already exist.
func NewMetadataDBHandler(db *helper.Database, force bool) (*MetadataDBHandler, error) {
	if db == nil || db.Instance == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}

	metadataDbHandler := &MetadataDBHandler{
		db: db,
	}

	err := sql.LoadMetadataSql(metadataDbHandler.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load metadata sql", err)
	}

	err = metadataDbHandler.CreateTable()
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized MetadataDBHandler")

	return metadataDbHandler, nil
}

// CreateTable creates the 'chunk_metadata' table if it does not exist.
func (h *MetadataDBHandler) CreateTable() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_metadata();`)
	if err != nil {
		return helper.NewError("init metadata", err)
	}

	h.db.Logger.Info("Checked/created table chunk_metadata")

	return nil
}

func (h *MetadataDBHandler) Ping(ctx context.Context) error {
	err := h.db.Instance.PingContext(ctx)
	if err != nil {
		return helper.NewError("ping", err)
	}
	return nil
}

// SetMany writes all entries in one transaction.
func (h *MetadataDBHandler) SetMany(ctx context.Context, entries map[string][]byte) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := h.db.Instance.BeginTx(ctx, nil)
	if err != nil {
		return helper.NewError("begin", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `SELECT set_metadata($1, $2)`)
	if err != nil {
		return helper.NewError("prepare", err)
	}
	defer stmt.Close()

	for key, value := range entries {
		_, err = stmt.ExecContext(ctx, key, string(value))
		if err != nil {
			return helper.NewError("exec", err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return helper.NewError("commit", err)
	}
	return nil
}

// GetMany selects all keys in one query.
func (h *MetadataDBHandler) GetMany(ctx context.Context, keys []string) ([][]byte, error) {
	result := make([][]byte, len(keys))
	if len(keys) == 0 {
		return result, nil
	}

	rows, err := h.db.Instance.QueryContext(
		ctx,
		`SELECT * FROM select_metadata_many($1)`,
		pq.Array(keys),
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	found := make(map[string][]byte, len(keys))
	for rows.Next() {
		var key string
		var value []byte
		err := rows.Scan(&key, &value)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}
		found[key] = value
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	for i, key := range keys {
		result[i] = found[key]
	}
	return result, nil
}

func (h *MetadataDBHandler) Clear(ctx context.Context) error {
	_, err := h.db.Instance.ExecContext(ctx, `SELECT clear_metadata()`)
	if err != nil {
		return helper.NewError("exec", err)
	}
	return nil
}
