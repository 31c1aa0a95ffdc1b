package repository

import (
	"context"

	"github.com/deKupini/the-library/internal/domain"
)

// MutateFunc receives the stored book and returns the value to persist.
// Returning an error aborts the write and is passed back to the caller unchanged.
type MutateFunc func(book domain.Book) (domain.Book, error)

// GuardFunc decides whether a stored book may be removed.
type GuardFunc func(book domain.Book) error

// BookRepository persists books. Update and Delete run their callback and the
// write as one atomic step per book id, so two concurrent transitions on the
// same book are serialised.
type BookRepository interface {
	// Create stores a new book, returning domain.ErrAlreadyExists on a duplicate id.
	Create(ctx context.Context, book *domain.Book) error
	GetByID(ctx context.Context, id string) (*domain.Book, error)
	Exists(ctx context.Context, id string) (bool, error)
	List(ctx context.Context) ([]*domain.Book, error)
	Update(ctx context.Context, id string, fn MutateFunc) (*domain.Book, error)
	Delete(ctx context.Context, id string, guard GuardFunc) error
}

// HistoryRepository stores the lending ledger. Append ignores events whose
// id is already recorded so redelivered messages are harmless.
type HistoryRepository interface {
	Append(ctx context.Context, events []*domain.LendingEvent) error
	ListByBook(ctx context.Context, bookID string) ([]*domain.LendingEvent, error)
}
