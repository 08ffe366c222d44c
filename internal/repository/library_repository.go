package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/nexamediaserver/server-sub005/internal/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

type LibraryRepository struct {
	db *sql.DB
}

func NewLibraryRepository(db *sql.DB) *LibraryRepository {
	return &LibraryRepository{db: db}
}

const libraryColumns = `id, name, item_type, paths, agent_order, created_at, updated_at`

func scanLibrary(row interface{ Scan(dest ...interface{}) error }) (*models.Library, error) {
	lib := &models.Library{}
	err := row.Scan(&lib.ID, &lib.Name, &lib.Type, &lib.Paths, &lib.AgentOrder, &lib.CreatedAt, &lib.UpdatedAt)
	return lib, err
}

func (r *LibraryRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Library, error) {
	query := `SELECT ` + libraryColumns + ` FROM libraries WHERE id = $1`
	lib, err := scanLibrary(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("library %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get library: %w", err)
	}
	return lib, nil
}

func (r *LibraryRepository) List(ctx context.Context) ([]*models.Library, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+libraryColumns+` FROM libraries ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var libs []*models.Library
	for rows.Next() {
		lib, err := scanLibrary(rows)
		if err != nil {
			return nil, err
		}
		libs = append(libs, lib)
	}
	return libs, rows.Err()
}

// SetAgentOrder stores the per-library agent preference used for merging and
// artwork precedence.
func (r *LibraryRepository) SetAgentOrder(ctx context.Context, id uuid.UUID, order []string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE libraries SET agent_order = $2, updated_at = CURRENT_TIMESTAMP WHERE id = $1`,
		id, stringArray(order))
	if err != nil {
		return fmt.Errorf("set agent order: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("library %s: %w", id, ErrNotFound)
	}
	return nil
}
