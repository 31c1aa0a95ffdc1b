package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/deKupini/the-library/internal/clock"
	"github.com/deKupini/the-library/internal/domain"
	"github.com/deKupini/the-library/internal/lending"
	"github.com/deKupini/the-library/internal/repository/memory"
	"github.com/deKupini/the-library/internal/resilience"
)

var testNow = time.Date(2025, 4, 25, 12, 0, 0, 0, time.UTC)

// newTestAPI seeds the catalog with an available book 123456 and a book
// 012345 lent to 098765 on 2025-04-25.
func newTestAPI(t *testing.T) (*chi.Mux, *memory.BookRepository) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	repo := memory.NewBookRepository()
	svc := lending.NewService(repo, nil, clock.NewMockClock(testNow), logger)

	ctx := context.Background()
	if _, err := svc.Create(ctx, "123456", "title", "author"); err != nil {
		t.Fatalf("seed book: %v", err)
	}
	if _, err := svc.Create(ctx, "012345", "title", "author"); err != nil {
		t.Fatalf("seed borrowed book: %v", err)
	}
	if _, err := svc.Borrow(ctx, "012345", "098765"); err != nil {
		t.Fatalf("seed borrow: %v", err)
	}

	router := NewRouter(RouterConfig{Handler: NewHandler(svc, logger)})
	return router, repo
}

func doRequest(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeMsg(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp.Msg
}

func TestHandler_CreateBook(t *testing.T) {
	router, repo := newTestAPI(t)

	rec := doRequest(router, http.MethodPost, "/books", `{"id": "111111", "title": "Dune", "author": "Herbert"}`)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, rec.Code, rec.Body.String())
	}

	var got map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	want := map[string]any{
		"id":          "111111",
		"title":       "Dune",
		"author":      "Herbert",
		"borrowed":    false,
		"borrow_date": nil,
		"borrower":    nil,
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %v, want %v", k, got[k], v)
		}
	}

	if _, err := repo.GetByID(context.Background(), "111111"); err != nil {
		t.Errorf("book not stored: %v", err)
	}
}

func TestHandler_CreateBook_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want map[string][]string
	}{
		{
			name: "bad id",
			body: `{"id": "12345a", "title": "t", "author": "a"}`,
			want: map[string][]string{"id": {"Ensure this value is digit with 6 characters."}},
		},
		{
			name: "duplicate id",
			body: `{"id": "123456", "title": "t", "author": "a"}`,
			want: map[string][]string{"id": {"book with this id already exists."}},
		},
		{
			name: "missing fields",
			body: `{"id": "222222"}`,
			want: map[string][]string{
				"title":  {"This field is required."},
				"author": {"This field is required."},
			},
		},
		{
			name: "title too long",
			body: `{"id": "222222", "title": "` + strings.Repeat("x", 101) + `", "author": "a"}`,
			want: map[string][]string{"title": {"Ensure this field has no more than 100 characters."}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, _ := newTestAPI(t)

			rec := doRequest(router, http.MethodPost, "/books", tt.body)

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
			}

			var resp validationResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if len(resp.Errors) != len(tt.want) {
				t.Fatalf("errors = %v, want %v", resp.Errors, tt.want)
			}
			for field, msgs := range tt.want {
				if len(resp.Errors[field]) != 1 || resp.Errors[field][0] != msgs[0] {
					t.Errorf("errors[%s] = %v, want %v", field, resp.Errors[field], msgs)
				}
			}
		})
	}
}

func TestHandler_CreateBook_InvalidBody(t *testing.T) {
	router, _ := newTestAPI(t)

	rec := doRequest(router, http.MethodPost, "/books", `{"id": `)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}
}

func TestHandler_ListBooks(t *testing.T) {
	router, _ := newTestAPI(t)

	rec := doRequest(router, http.MethodGet, "/books", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	var books []domain.Book
	if err := json.NewDecoder(rec.Body).Decode(&books); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(books) != 2 {
		t.Fatalf("expected 2 books, got %d", len(books))
	}
	if books[0].ID != "012345" || books[1].ID != "123456" {
		t.Errorf("books not ordered by id: %s, %s", books[0].ID, books[1].ID)
	}
	if books[0].BorrowDate == nil || books[0].BorrowDate.String() != "2025-04-25" {
		t.Errorf("borrow_date = %v, want 2025-04-25", books[0].BorrowDate)
	}
}

func TestHandler_ListBooks_Empty(t *testing.T) {
	svc := lending.NewService(memory.NewBookRepository(), nil, clock.RealClock{}, nil)
	router := NewRouter(RouterConfig{Handler: NewHandler(svc, nil)})

	rec := doRequest(router, http.MethodGet, "/books", "")

	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("body = %q, want []", rec.Body.String())
	}
}

func TestHandler_GetBook_AlwaysNotFound(t *testing.T) {
	router, _ := newTestAPI(t)

	for _, id := range []string{"123456", "999999"} {
		rec := doRequest(router, http.MethodGet, "/books/"+id, "")
		if rec.Code != http.StatusNotFound {
			t.Errorf("GET /books/%s: expected status %d, got %d", id, http.StatusNotFound, rec.Code)
		}
	}
}

func TestHandler_DeleteBook(t *testing.T) {
	router, repo := newTestAPI(t)

	rec := doRequest(router, http.MethodDelete, "/books/123456", "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected status %d, got %d", http.StatusNoContent, rec.Code)
	}
	if _, err := repo.GetByID(context.Background(), "123456"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("book still stored, err = %v", err)
	}

	rec = doRequest(router, http.MethodDelete, "/books/123456", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete: expected status %d, got %d", http.StatusNotFound, rec.Code)
	}
}

func TestHandler_DeleteBook_Borrowed(t *testing.T) {
	router, repo := newTestAPI(t)

	rec := doRequest(router, http.MethodDelete, "/books/012345", "")

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}
	if msg := decodeMsg(t, rec); msg != "Cannot delete borrowed book." {
		t.Errorf("msg = %q", msg)
	}
	if _, err := repo.GetByID(context.Background(), "012345"); err != nil {
		t.Errorf("borrowed book removed: %v", err)
	}
}

func TestHandler_BorrowBook(t *testing.T) {
	router, repo := newTestAPI(t)

	rec := doRequest(router, http.MethodPatch, "/books/123456/borrow", `{"borrower": "012345"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}
	var resp messageResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Message != "Book borrowed successfully" {
		t.Errorf("message = %q", resp.Message)
	}

	book, _ := repo.GetByID(context.Background(), "123456")
	if !book.Borrowed || *book.Borrower != "012345" || book.BorrowDate.String() != "2025-04-25" {
		t.Errorf("book not borrowed as expected: %+v", book)
	}
}

func TestHandler_BorrowBook_Errors(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		body   string
		status int
		msg    string
	}{
		{"already borrowed", "/books/012345/borrow", `{"borrower": "111111"}`, http.StatusBadRequest, "Book is already borrowed."},
		{"missing borrower", "/books/123456/borrow", `{}`, http.StatusBadRequest, "Borrower is required."},
		{"empty body", "/books/123456/borrow", "", http.StatusBadRequest, "Borrower is required."},
		{"short borrower", "/books/123456/borrow", `{"borrower": "12345"}`, http.StatusBadRequest, "Borrower must be 6 digits."},
		{"letters in borrower", "/books/123456/borrow", `{"borrower": "12a456"}`, http.StatusBadRequest, "Borrower must be 6 digits."},
		{"unknown book", "/books/999999/borrow", `{"borrower": "111111"}`, http.StatusNotFound, "Not found."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, _ := newTestAPI(t)

			rec := doRequest(router, http.MethodPatch, tt.path, tt.body)

			if rec.Code != tt.status {
				t.Fatalf("expected status %d, got %d", tt.status, rec.Code)
			}
			if msg := decodeMsg(t, rec); msg != tt.msg {
				t.Errorf("msg = %q, want %q", msg, tt.msg)
			}
		})
	}
}

func TestHandler_BorrowBook_AlreadyBorrowedKeepsBook(t *testing.T) {
	router, repo := newTestAPI(t)

	doRequest(router, http.MethodPatch, "/books/012345/borrow", `{"borrower": "111111"}`)

	book, _ := repo.GetByID(context.Background(), "012345")
	if *book.Borrower != "098765" {
		t.Errorf("borrower = %s, want 098765", *book.Borrower)
	}
}

func TestHandler_ReturnBook(t *testing.T) {
	router, repo := newTestAPI(t)

	rec := doRequest(router, http.MethodPatch, "/books/012345/return", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	var resp messageResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Message != "Book returned successfully" {
		t.Errorf("message = %q", resp.Message)
	}

	book, _ := repo.GetByID(context.Background(), "012345")
	if book.Borrowed || book.Borrower != nil || book.BorrowDate != nil {
		t.Errorf("book not returned: %+v", book)
	}
}

func TestHandler_ReturnBook_Errors(t *testing.T) {
	router, _ := newTestAPI(t)

	rec := doRequest(router, http.MethodPatch, "/books/123456/return", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}
	if msg := decodeMsg(t, rec); msg != "Book is already returned." {
		t.Errorf("msg = %q", msg)
	}

	rec = doRequest(router, http.MethodPatch, "/books/999999/return", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, rec.Code)
	}
}

func TestHandler_GetBookHistory_Disabled(t *testing.T) {
	router, _ := newTestAPI(t)

	rec := doRequest(router, http.MethodGet, "/books/012345/history", "")

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, rec.Code)
	}
}

func TestHandler_GetBookHistory(t *testing.T) {
	repo := memory.NewBookRepository()
	history := memory.NewHistoryRepository()
	svc := lending.NewService(repo, nil, clock.NewMockClock(testNow), nil).WithHistory(history)
	router := NewRouter(RouterConfig{Handler: NewHandler(svc, nil)})

	borrower := "098765"
	date := domain.DateOf(testNow)
	book := domain.Book{ID: "012345", Borrowed: true, Borrower: &borrower, BorrowDate: &date}
	if err := history.Append(context.Background(), []*domain.LendingEvent{
		domain.NewLendingEvent("evt-1", domain.EventBookBorrowed, book, testNow),
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	rec := doRequest(router, http.MethodGet, "/books/012345/history", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	var events []domain.LendingEvent
	if err := json.NewDecoder(rec.Body).Decode(&events); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(events) != 1 || events[0].Type != domain.EventBookBorrowed {
		t.Errorf("events = %+v", events)
	}
}

type conflictCatalog struct {
	Catalog
}

func (conflictCatalog) Borrow(ctx context.Context, id, borrowerID string) (*domain.Book, error) {
	return nil, domain.ErrConflict
}

func (conflictCatalog) Return(ctx context.Context, id string) (*domain.Book, error) {
	return nil, errors.New("connection reset by peer")
}

func TestHandler_InfrastructureErrors(t *testing.T) {
	router := NewRouter(RouterConfig{Handler: NewHandler(conflictCatalog{}, nil)})

	rec := doRequest(router, http.MethodPatch, "/books/123456/borrow", `{"borrower": "012345"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("conflict: expected status %d, got %d", http.StatusConflict, rec.Code)
	}

	rec = doRequest(router, http.MethodPatch, "/books/123456/return", "")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("unexpected error: expected status %d, got %d", http.StatusInternalServerError, rec.Code)
	}
}

func TestRouter_RateLimited(t *testing.T) {
	svc := lending.NewService(memory.NewBookRepository(), nil, clock.RealClock{}, nil)
	router := NewRouter(RouterConfig{
		Handler:     NewHandler(svc, nil),
		RateLimiter: resilience.NewInMemoryRateLimiter(resilience.RateLimiterConfig{RequestsPerSecond: 0.001, BurstSize: 1}),
	})

	first := doRequest(router, http.MethodGet, "/books", "")
	second := doRequest(router, http.MethodGet, "/books", "")

	if first.Code != http.StatusOK {
		t.Errorf("first request: expected status %d, got %d", http.StatusOK, first.Code)
	}
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: expected status %d, got %d", http.StatusTooManyRequests, second.Code)
	}
	if msg := decodeMsg(t, second); msg != "Too many requests." {
		t.Errorf("msg = %q", msg)
	}
}
