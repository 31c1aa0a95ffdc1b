// Package memory provides map-backed repositories for tests and single-process runs.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/deKupini/the-library/internal/domain"
	"github.com/deKupini/the-library/internal/repository"
)

// BookRepository serialises every operation behind one mutex, which gives
// Update and Delete their per-book atomicity.
type BookRepository struct {
	mu    sync.Mutex
	books map[string]domain.Book
}

func NewBookRepository() *BookRepository {
	return &BookRepository{books: make(map[string]domain.Book)}
}

func (r *BookRepository) Create(ctx context.Context, book *domain.Book) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.books[book.ID]; ok {
		return domain.ErrAlreadyExists
	}
	r.books[book.ID] = *book
	return nil
}

func (r *BookRepository) GetByID(ctx context.Context, id string) (*domain.Book, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.books[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &b, nil
}

func (r *BookRepository) Exists(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.books[id]
	return ok, nil
}

func (r *BookRepository) List(ctx context.Context) ([]*domain.Book, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	books := make([]*domain.Book, 0, len(r.books))
	for _, b := range r.books {
		b := b
		books = append(books, &b)
	}
	sort.Slice(books, func(i, j int) bool { return books[i].ID < books[j].ID })
	return books, nil
}

func (r *BookRepository) Update(ctx context.Context, id string, fn repository.MutateFunc) (*domain.Book, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.books[id]
	if !ok {
		return nil, domain.ErrNotFound
	}

	updated, err := fn(current)
	if err != nil {
		return &current, err
	}
	updated.ID = id
	r.books[id] = updated
	return &updated, nil
}

func (r *BookRepository) Delete(ctx context.Context, id string, guard repository.GuardFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.books[id]
	if !ok {
		return domain.ErrNotFound
	}
	if guard != nil {
		if err := guard(current); err != nil {
			return err
		}
	}
	delete(r.books, id)
	return nil
}

// HistoryRepository keeps lending events in arrival order.
type HistoryRepository struct {
	mu     sync.Mutex
	seen   map[string]struct{}
	events []*domain.LendingEvent
}

func NewHistoryRepository() *HistoryRepository {
	return &HistoryRepository{seen: make(map[string]struct{})}
}

func (r *HistoryRepository) Append(ctx context.Context, events []*domain.LendingEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range events {
		if _, ok := r.seen[e.ID]; ok {
			continue
		}
		r.seen[e.ID] = struct{}{}
		r.events = append(r.events, e)
	}
	return nil
}

func (r *HistoryRepository) ListByBook(ctx context.Context, bookID string) ([]*domain.LendingEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*domain.LendingEvent
	for _, e := range r.events {
		if e.BookID == bookID {
			out = append(out, e)
		}
	}
	return out, nil
}
