package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/at-ishikawa/playtrack/internal/database"
)

// SQLMedium stores documents in a single table keyed by storage key. It
// works with the sqlite, mysql and postgres drivers.
type SQLMedium struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewSQLMedium(db *sqlx.DB) *SQLMedium {
	return &SQLMedium{db: db, now: time.Now}
}

// EnsureSchema creates the documents table if it does not exist.
func (m *SQLMedium) EnsureSchema(ctx context.Context) error {
	valueType := "TEXT"
	if m.db.DriverName() == "mysql" {
		valueType = "MEDIUMTEXT"
	}
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS documents (
	storage_key VARCHAR(191) NOT NULL PRIMARY KEY,
	value %s NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`, valueType)
	if _, err := m.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create documents table: %w", err)
	}
	return nil
}

func (m *SQLMedium) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value string
	query := m.db.Rebind(`SELECT value FROM documents WHERE storage_key = ?`)
	if err := m.db.GetContext(ctx, &value, query, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("select document %s: %w", key, err)
	}
	return []byte(value), true, nil
}

func (m *SQLMedium) Set(ctx context.Context, key string, value []byte) error {
	query := m.db.Rebind(m.upsertQuery())
	return database.RunInTx(ctx, m.db, func(ctx context.Context, tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, query, key, string(value), m.now().UTC()); err != nil {
			return fmt.Errorf("upsert document %s: %w", key, err)
		}
		return nil
	})
}

func (m *SQLMedium) Remove(ctx context.Context, key string) error {
	query := m.db.Rebind(`DELETE FROM documents WHERE storage_key = ?`)
	result, err := m.db.ExecContext(ctx, query, key)
	if err != nil {
		return fmt.Errorf("delete document %s: %w", key, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete document %s: %w", key, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (m *SQLMedium) upsertQuery() string {
	if m.db.DriverName() == "mysql" {
		return `INSERT INTO documents (storage_key, value, updated_at) VALUES (?, ?, ?)
ON DUPLICATE KEY UPDATE value = VALUES(value), updated_at = VALUES(updated_at)`
	}
	return `INSERT INTO documents (storage_key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT (storage_key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
}
