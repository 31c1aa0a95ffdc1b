package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/deKupini/the-library/internal/domain"
)

func setupTestDB(t *testing.T) (*pgxpool.Pool, func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("library_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres: %v", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		t.Fatalf("failed to get connection string: %v", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		t.Fatalf("failed to connect: %v", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		_ = pgContainer.Terminate(ctx)
		t.Fatalf("failed to migrate: %v", err)
	}

	cleanup := func() {
		pool.Close()
		_ = pgContainer.Terminate(ctx)
	}

	return pool, cleanup
}

func createBook(t *testing.T, repo *BookRepository, id string) {
	t.Helper()
	book, err := domain.ValidateForCreate(id, "title", "author", nil)
	if err != nil {
		t.Fatalf("ValidateForCreate: %v", err)
	}
	if err := repo.Create(context.Background(), book); err != nil {
		t.Fatalf("Create: %v", err)
	}
}

func TestBookRepository_CreateAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	repo := NewBookRepository(pool)
	createBook(t, repo, "123456")

	got, err := repo.GetByID(ctx, "123456")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Title != "title" || got.Author != "author" || got.Borrowed {
		t.Errorf("unexpected book: %+v", got)
	}

	if err := repo.Create(ctx, got); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Errorf("duplicate create err = %v, want ErrAlreadyExists", err)
	}

	if _, err := repo.GetByID(ctx, "000000"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("missing book err = %v, want ErrNotFound", err)
	}

	exists, err := repo.Exists(ctx, "123456")
	if err != nil || !exists {
		t.Errorf("Exists = %v, %v", exists, err)
	}
}

func TestBookRepository_BorrowAndReturnRoundTrip(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	repo := NewBookRepository(pool)
	createBook(t, repo, "123456")
	now := time.Date(2025, time.April, 25, 9, 0, 0, 0, time.UTC)

	borrowed, err := repo.Update(ctx, "123456", func(b domain.Book) (domain.Book, error) {
		return domain.Borrow(b, "012345", now)
	})
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}

	stored, _ := repo.GetByID(ctx, "123456")
	if !stored.Borrowed || *stored.Borrower != "012345" || stored.BorrowDate.String() != "2025-04-25" {
		t.Errorf("stored = %+v, want borrowed by 012345 on 2025-04-25", stored)
	}
	if *borrowed.Borrower != "012345" {
		t.Errorf("returned value = %+v", borrowed)
	}

	if _, err := repo.Update(ctx, "123456", domain.Return); err != nil {
		t.Fatalf("return: %v", err)
	}
	stored, _ = repo.GetByID(ctx, "123456")
	if stored.Borrowed || stored.Borrower != nil || stored.BorrowDate != nil {
		t.Errorf("stored = %+v, want available", stored)
	}
}

func TestBookRepository_ConcurrentBorrow(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	repo := NewBookRepository(pool)
	createBook(t, repo, "123456")

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		winners  []string
		rejected int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			borrower := fmt.Sprintf("%06d", idx)
			_, err := repo.Update(ctx, "123456", func(b domain.Book) (domain.Book, error) {
				return domain.Borrow(b, borrower, time.Now())
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners = append(winners, borrower)
			case errors.Is(err, domain.ErrAlreadyBorrowed):
				rejected++
			default:
				t.Errorf("borrow %d: %v", idx, err)
			}
		}(i)
	}
	wg.Wait()

	if len(winners) != 1 || rejected != 9 {
		t.Fatalf("winners = %v, rejected = %d", winners, rejected)
	}
	stored, _ := repo.GetByID(ctx, "123456")
	if *stored.Borrower != winners[0] {
		t.Errorf("stored borrower = %s, want %s", *stored.Borrower, winners[0])
	}
}

func TestBookRepository_DeleteGuard(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	repo := NewBookRepository(pool)
	createBook(t, repo, "123456")
	createBook(t, repo, "654321")

	_, err := repo.Update(ctx, "123456", func(b domain.Book) (domain.Book, error) {
		return domain.Borrow(b, "012345", time.Now())
	})
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}

	if err := repo.Delete(ctx, "123456", domain.CheckDelete); !errors.Is(err, domain.ErrCannotDeleteBorrowed) {
		t.Errorf("err = %v, want ErrCannotDeleteBorrowed", err)
	}
	if err := repo.Delete(ctx, "654321", domain.CheckDelete); err != nil {
		t.Errorf("delete available book: %v", err)
	}

	books, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(books) != 1 || books[0].ID != "123456" {
		t.Errorf("List = %v", books)
	}
}

func TestHistoryRepository_AppendIdempotent(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	repo := NewHistoryRepository(pool)
	borrower := "012345"
	date := domain.Date{Year: 2025, Month: time.April, Day: 25}
	occurred := time.Date(2025, time.April, 25, 9, 0, 0, 0, time.UTC)

	events := []*domain.LendingEvent{
		{ID: "evt-1", Type: domain.EventBookCreated, BookID: "123456", OccurredAt: occurred},
		{ID: "evt-2", Type: domain.EventBookBorrowed, BookID: "123456", Borrower: &borrower, BorrowDate: &date, OccurredAt: occurred.Add(time.Hour)},
	}

	if err := repo.Append(ctx, events); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := repo.Append(ctx, events[1:]); err != nil {
		t.Fatalf("Append redelivery: %v", err)
	}

	got, err := repo.ListByBook(ctx, "123456")
	if err != nil {
		t.Fatalf("ListByBook: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[1].Type != domain.EventBookBorrowed || *got[1].Borrower != "012345" || *got[1].BorrowDate != date {
		t.Errorf("second entry = %+v", got[1])
	}
}
