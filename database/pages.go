package database

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/siherrmann/webgraph/helper"
	"github.com/siherrmann/webgraph/model"
	"github.com/siherrmann/webgraph/sql"
)

// PagesDBHandlerFunctions defines the interface for page registry operations.
type PagesDBHandlerFunctions interface {
	UpsertPage(ctx context.Context, page *model.PageRecord) error
	SelectExistingURLs(ctx context.Context, urls []string) (map[string]bool, error)
	SelectAllPages(ctx context.Context, lastCreatedAt *time.Time, limit int) ([]*model.PageRecord, error)
	DeleteAllPages(ctx context.Context) error
}

// PagesDBHandler records which pages were ingested.
type PagesDBHandler struct {
	db *helper.Database
}

// NewPagesDBHandler creates a new page registry handler.
// If force is true, it will reload the SQL functions even if they already exist.
func NewPagesDBHandler(db *helper.Database, force bool) (*PagesDBHandler, error) {
	if db == nil || db.Instance == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}

	pagesDbHandler := &PagesDBHandler{
		db: db,
	}

	err := sql.LoadPagesSql(pagesDbHandler.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load pages sql", err)
	}

	err = pagesDbHandler.CreateTable()
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized PagesDBHandler")

	return pagesDbHandler, nil
}

// CreateTable creates the 'pages' table in the database.
// If the table already exists, it does not create it again.
func (h *PagesDBHandler) CreateTable() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_pages();`)
	if err != nil {
		return helper.NewError("init pages", err)
	}

	h.db.Logger.Info("Checked/created table pages")

	return nil
}

// UpsertPage inserts the page or adds its chunk count to the existing row.
func (h *PagesDBHandler) UpsertPage(ctx context.Context, page *model.PageRecord) error {
	row := h.db.Instance.QueryRowContext(
		ctx,
		`SELECT * FROM upsert_page($1, $2, $3)`,
		page.URL,
		page.Title,
		page.Chunks,
	)

	err := row.Scan(
		&page.ID,
		&page.URL,
		&page.Title,
		&page.Chunks,
		&page.CreatedAt,
		&page.UpdatedAt,
	)
	if err != nil {
		return helper.NewError("scan", err)
	}

	return nil
}

// SelectExistingURLs returns the subset of urls already in the registry.
func (h *PagesDBHandler) SelectExistingURLs(ctx context.Context, urls []string) (map[string]bool, error) {
	existing := map[string]bool{}
	if len(urls) == 0 {
		return existing, nil
	}

	rows, err := h.db.Instance.QueryContext(
		ctx,
		`SELECT * FROM select_existing_pages($1)`,
		pq.Array(urls),
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	for rows.Next() {
		var url string
		err := rows.Scan(&url)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}
		existing[url] = true
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return existing, nil
}

// SelectAllPages retrieves all pages with pagination
func (h *PagesDBHandler) SelectAllPages(ctx context.Context, lastCreatedAt *time.Time, limit int) ([]*model.PageRecord, error) {
	rows, err := h.db.Instance.QueryContext(
		ctx,
		`SELECT * FROM select_all_pages($1, $2)`,
		lastCreatedAt,
		limit,
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	var pages []*model.PageRecord
	for rows.Next() {
		page := &model.PageRecord{}
		err := rows.Scan(
			&page.ID,
			&page.URL,
			&page.Title,
			&page.Chunks,
			&page.CreatedAt,
			&page.UpdatedAt,
		)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}

		pages = append(pages, page)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return pages, nil
}

func (h *PagesDBHandler) DeleteAllPages(ctx context.Context) error {
	_, err := h.db.Instance.ExecContext(ctx, `SELECT delete_all_pages()`)
	if err != nil {
		return helper.NewError("exec", err)
	}
	return nil
}
