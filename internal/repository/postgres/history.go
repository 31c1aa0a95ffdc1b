package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/deKupini/the-library/internal/domain"
)

// 6 parameters per event, PostgreSQL allows 65535 per statement.
const maxEventsPerBatch = 5000

type HistoryRepository struct {
	pool *pgxpool.Pool
}

func NewHistoryRepository(pool *pgxpool.Pool) *HistoryRepository {
	return &HistoryRepository{pool: pool}
}

// Append inserts events in chunks, skipping ids that are already recorded.
func (r *HistoryRepository) Append(ctx context.Context, events []*domain.LendingEvent) error {
	for start := 0; start < len(events); start += maxEventsPerBatch {
		end := start + maxEventsPerBatch
		if end > len(events) {
			end = len(events)
		}
		if err := r.appendChunk(ctx, events[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (r *HistoryRepository) appendChunk(ctx context.Context, events []*domain.LendingEvent) error {
	if len(events) == 0 {
		return nil
	}

	var queryBuilder strings.Builder
	queryBuilder.WriteString(`
		INSERT INTO lending_history (event_id, type, book_id, borrower, borrow_date, occurred_at)
		VALUES `)

	args := make([]any, 0, len(events)*6)
	for i, e := range events {
		if i > 0 {
			queryBuilder.WriteString(", ")
		}
		base := i * 6
		fmt.Fprintf(&queryBuilder, "($%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6)

		args = append(args,
			e.ID,
			string(e.Type),
			e.BookID,
			e.Borrower,
			dateParam(e.BorrowDate),
			e.OccurredAt,
		)
	}
	queryBuilder.WriteString(" ON CONFLICT (event_id) DO NOTHING")

	_, err := r.pool.Exec(ctx, queryBuilder.String(), args...)
	return err
}

func (r *HistoryRepository) ListByBook(ctx context.Context, bookID string) ([]*domain.LendingEvent, error) {
	const query = `
		SELECT event_id, type, book_id, borrower, borrow_date, occurred_at
		FROM lending_history
		WHERE book_id = $1
		ORDER BY occurred_at, recorded_at
	`

	rows, err := r.pool.Query(ctx, query, bookID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.LendingEvent
	for rows.Next() {
		var (
			e          domain.LendingEvent
			typ        string
			borrowDate *time.Time
		)
		if err := rows.Scan(&e.ID, &typ, &e.BookID, &e.Borrower, &borrowDate, &e.OccurredAt); err != nil {
			return nil, err
		}
		e.Type = domain.EventType(typ)
		if borrowDate != nil {
			d := domain.DateOf(*borrowDate)
			e.BorrowDate = &d
		}
		events = append(events, &e)
	}

	return events, rows.Err()
}
