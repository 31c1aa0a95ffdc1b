// Package lending runs catalog operations against a repository: every
// transition is decided by the domain rules inside the repository's atomic
// section, then announced as a lending event.
package lending

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/deKupini/the-library/internal/clock"
	"github.com/deKupini/the-library/internal/domain"
	"github.com/deKupini/the-library/internal/observability"
	"github.com/deKupini/the-library/internal/repository"
)

// Publisher announces successful changes. *kafka.Producer implements it.
type Publisher interface {
	Publish(ctx context.Context, event *domain.LendingEvent) error
}

// NoopPublisher drops every event. Used when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, *domain.LendingEvent) error { return nil }

type Service struct {
	books     repository.BookRepository
	history   repository.HistoryRepository
	publisher Publisher
	clock     clock.Clock
	metrics   *observability.Metrics
	logger    *slog.Logger
	newID     func() string
}

func NewService(books repository.BookRepository, publisher Publisher, clk clock.Clock, logger *slog.Logger) *Service {
	if publisher == nil {
		publisher = NoopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		books:     books,
		publisher: publisher,
		clock:     clk,
		logger:    logger,
		newID:     uuid.NewString,
	}
}

func (s *Service) WithMetrics(m *observability.Metrics) *Service {
	s.metrics = m
	return s
}

// WithHistory enables History. Without it History reports ErrHistoryDisabled.
func (s *Service) WithHistory(h repository.HistoryRepository) *Service {
	s.history = h
	return s
}

// publishTimeout bounds a publish that no longer follows the request context.
const publishTimeout = 10 * time.Second

var ErrHistoryDisabled = errors.New("lending history is not available")

// Create validates and stores a new book. A duplicate id that slips past the
// existence check is still reported as a validation failure on "id".
func (s *Service) Create(ctx context.Context, id, title, author string) (*domain.Book, error) {
	exists := func(id string) (bool, error) {
		return s.books.Exists(ctx, id)
	}

	book, err := domain.ValidateForCreate(id, title, author, exists)
	if err != nil {
		s.rejected(err)
		return nil, err
	}

	if err := s.books.Create(ctx, book); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			verr := &domain.ValidationError{Fields: []domain.FieldError{{Field: "id", Err: domain.ErrDuplicateID}}}
			s.rejected(verr)
			return nil, verr
		}
		return nil, fmt.Errorf("create book: %w", err)
	}

	s.count(func(m *observability.Metrics) { m.BooksCreated.Inc() })
	s.publish(ctx, domain.EventBookCreated, *book)
	return book, nil
}

func (s *Service) List(ctx context.Context) ([]*domain.Book, error) {
	books, err := s.books.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	return books, nil
}

// Borrow lends the book to borrowerID, dated with today's calendar day.
func (s *Service) Borrow(ctx context.Context, id, borrowerID string) (*domain.Book, error) {
	now := s.clock.Now()

	book, err := s.books.Update(ctx, id, func(b domain.Book) (domain.Book, error) {
		return domain.Borrow(b, borrowerID, now)
	})
	if err != nil {
		return nil, s.transitionFailed("borrow", err)
	}

	s.count(func(m *observability.Metrics) { m.BooksBorrowed.Inc() })
	s.publish(ctx, domain.EventBookBorrowed, *book)
	return book, nil
}

func (s *Service) Return(ctx context.Context, id string) (*domain.Book, error) {
	book, err := s.books.Update(ctx, id, domain.Return)
	if err != nil {
		return nil, s.transitionFailed("return", err)
	}

	s.count(func(m *observability.Metrics) { m.BooksReturned.Inc() })
	s.publish(ctx, domain.EventBookReturned, *book)
	return book, nil
}

// Delete removes an available book. Borrowed books are kept.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.books.Delete(ctx, id, domain.CheckDelete); err != nil {
		return s.transitionFailed("delete", err)
	}

	s.count(func(m *observability.Metrics) { m.BooksDeleted.Inc() })
	s.publish(ctx, domain.EventBookDeleted, domain.Book{ID: id})
	return nil
}

// History returns the recorded lending events of one book, oldest first.
func (s *Service) History(ctx context.Context, id string) ([]*domain.LendingEvent, error) {
	if s.history == nil {
		return nil, ErrHistoryDisabled
	}
	events, err := s.history.ListByBook(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return events, nil
}

func (s *Service) transitionFailed(op string, err error) error {
	var lerr *domain.LendingError
	if errors.As(err, &lerr) {
		s.rejected(err)
		return err
	}
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrConflict) {
		return err
	}
	return fmt.Errorf("%s book: %w", op, err)
}

func (s *Service) rejected(err error) {
	kind := domain.Kind(err)
	if kind == "unknown" {
		return
	}
	s.count(func(m *observability.Metrics) { m.LendingRejections.WithLabelValues(kind).Inc() })
}

func (s *Service) count(fn func(m *observability.Metrics)) {
	if s.metrics != nil {
		fn(s.metrics)
	}
}

// publish runs after the write has committed, so a broker failure is logged
// and counted but never undoes or fails the operation.
func (s *Service) publish(ctx context.Context, typ domain.EventType, book domain.Book) {
	event := domain.NewLendingEvent(s.newID(), typ, book, s.clock.Now().UTC())

	// Detached from the request: a client that hangs up must not drop the event.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Error("failed to publish lending event",
			"error", err,
			"event_id", event.ID,
			"type", event.Type,
			"book_id", event.BookID,
		)
		s.count(func(m *observability.Metrics) { m.EventsPublishFailed.Inc() })
		return
	}
	s.count(func(m *observability.Metrics) { m.EventsPublished.Inc() })
}
