package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS books (
		id          TEXT PRIMARY KEY CHECK (id ~ '^[0-9]{6}$'),
		title       VARCHAR(100) NOT NULL CHECK (title <> ''),
		author      VARCHAR(100) NOT NULL CHECK (author <> ''),
		borrowed    BOOLEAN NOT NULL DEFAULT FALSE,
		borrow_date DATE,
		borrower    TEXT CHECK (borrower ~ '^[0-9]{6}$'),
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT books_lending_state CHECK (
			(borrowed AND borrow_date IS NOT NULL AND borrower IS NOT NULL)
			OR (NOT borrowed AND borrow_date IS NULL AND borrower IS NULL)
		)
	)`,
	`CREATE TABLE IF NOT EXISTS lending_history (
		event_id    TEXT PRIMARY KEY,
		type        TEXT NOT NULL,
		book_id     TEXT NOT NULL,
		borrower    TEXT,
		borrow_date DATE,
		occurred_at TIMESTAMPTZ NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_lending_history_book ON lending_history(book_id, occurred_at)`,
}

// Migrate creates the schema. It is safe to run on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, m := range migrations {
		if _, err := pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}
