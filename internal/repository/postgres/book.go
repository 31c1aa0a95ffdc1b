package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/deKupini/the-library/internal/domain"
	"github.com/deKupini/the-library/internal/repository"
)

const uniqueViolation = "23505"

const selectBook = `
	SELECT id, title, author, borrowed, borrow_date, borrower
	FROM books
`

type BookRepository struct {
	pool *pgxpool.Pool
}

func NewBookRepository(pool *pgxpool.Pool) *BookRepository {
	return &BookRepository{pool: pool}
}

func (r *BookRepository) Create(ctx context.Context, book *domain.Book) error {
	const query = `
		INSERT INTO books (id, title, author, borrowed, borrow_date, borrower)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.pool.Exec(ctx, query,
		book.ID,
		book.Title,
		book.Author,
		book.Borrowed,
		dateParam(book.BorrowDate),
		book.Borrower,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return domain.ErrAlreadyExists
	}
	return err
}

func (r *BookRepository) GetByID(ctx context.Context, id string) (*domain.Book, error) {
	book, err := scanBook(r.pool.QueryRow(ctx, selectBook+`WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return book, nil
}

func (r *BookRepository) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM books WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

func (r *BookRepository) List(ctx context.Context) ([]*domain.Book, error) {
	rows, err := r.pool.Query(ctx, selectBook+`ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	books := make([]*domain.Book, 0)
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		books = append(books, book)
	}

	return books, rows.Err()
}

// Update locks the row with SELECT ... FOR UPDATE, so a concurrent transition
// on the same id waits and then sees the committed result.
func (r *BookRepository) Update(ctx context.Context, id string, fn repository.MutateFunc) (*domain.Book, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	current, err := scanBook(tx.QueryRow(ctx, selectBook+`WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	updated, err := fn(*current)
	if err != nil {
		return current, err
	}

	const query = `
		UPDATE books
		SET title = $2, author = $3, borrowed = $4, borrow_date = $5, borrower = $6, updated_at = NOW()
		WHERE id = $1
	`
	if _, err := tx.Exec(ctx, query,
		id,
		updated.Title,
		updated.Author,
		updated.Borrowed,
		dateParam(updated.BorrowDate),
		updated.Borrower,
	); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	updated.ID = id
	return &updated, nil
}

func (r *BookRepository) Delete(ctx context.Context, id string, guard repository.GuardFunc) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	current, err := scanBook(tx.QueryRow(ctx, selectBook+`WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return err
	}

	if guard != nil {
		if err := guard(*current); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM books WHERE id = $1`, id); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func scanBook(row pgx.Row) (*domain.Book, error) {
	var (
		book       domain.Book
		borrowDate *time.Time
	)
	err := row.Scan(
		&book.ID,
		&book.Title,
		&book.Author,
		&book.Borrowed,
		&borrowDate,
		&book.Borrower,
	)
	if err != nil {
		return nil, err
	}
	if borrowDate != nil {
		d := domain.DateOf(*borrowDate)
		book.BorrowDate = &d
	}
	return &book, nil
}

func dateParam(d *domain.Date) *time.Time {
	if d == nil {
		return nil
	}
	t := d.Time()
	return &t
}
