package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/deKupini/the-library/internal/domain"
	"github.com/deKupini/the-library/internal/lending"
)

// Catalog is the set of book operations served over HTTP.
// *lending.Service implements it.
type Catalog interface {
	Create(ctx context.Context, id, title, author string) (*domain.Book, error)
	List(ctx context.Context) ([]*domain.Book, error)
	Borrow(ctx context.Context, id, borrowerID string) (*domain.Book, error)
	Return(ctx context.Context, id string) (*domain.Book, error)
	Delete(ctx context.Context, id string) error
	History(ctx context.Context, id string) ([]*domain.LendingEvent, error)
}

type Handler struct {
	catalog Catalog
	logger  *slog.Logger
}

func NewHandler(catalog Catalog, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		catalog: catalog,
		logger:  logger,
	}
}

// Client-facing texts.
const (
	msgInvalidBody       = "Invalid request body."
	msgNotFound          = "Not found."
	msgConflict          = "Book was modified concurrently, try again."
	msgInternal          = "Internal server error."
	msgBorrowed          = "Book borrowed successfully"
	msgReturned          = "Book returned successfully"
	msgAlreadyBorrowed   = "Book is already borrowed."
	msgAlreadyReturned   = "Book is already returned."
	msgBorrowerRequired  = "Borrower is required."
	msgBorrowerFormat    = "Borrower must be 6 digits."
	msgCannotDelete      = "Cannot delete borrowed book."
	msgHistoryNotEnabled = "Lending history is not available."
)

var fieldMessages = map[error]string{
	domain.ErrInvalidIDFormat: "Ensure this value is digit with 6 characters.",
	domain.ErrDuplicateID:     "book with this id already exists.",
	domain.ErrMissingField:    "This field is required.",
	domain.ErrFieldTooLong:    "Ensure this field has no more than 100 characters.",
}

var lendingMessages = map[error]string{
	domain.ErrAlreadyBorrowed:       msgAlreadyBorrowed,
	domain.ErrNotBorrowed:           msgAlreadyReturned,
	domain.ErrBorrowerRequired:      msgBorrowerRequired,
	domain.ErrInvalidBorrowerFormat: msgBorrowerFormat,
	domain.ErrCannotDeleteBorrowed:  msgCannotDelete,
}

type CreateBookRequest struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Author string `json:"author"`
}

type BorrowRequest struct {
	Borrower string `json:"borrower"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Msg string `json:"msg"`
}

type validationResponse struct {
	Errors map[string][]string `json:"errors"`
}

func (h *Handler) CreateBook(w http.ResponseWriter, r *http.Request) {
	var req CreateBookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	book, err := h.catalog.Create(r.Context(), req.ID, req.Title, req.Author)
	if err != nil {
		h.handleError(w, r, "create book", req.ID, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, book)
}

func (h *Handler) ListBooks(w http.ResponseWriter, r *http.Request) {
	books, err := h.catalog.List(r.Context())
	if err != nil {
		h.handleError(w, r, "list books", "", err)
		return
	}
	if books == nil {
		books = []*domain.Book{}
	}

	h.respondJSON(w, http.StatusOK, books)
}

// GetBook is disabled: single books are only visible through the list.
func (h *Handler) GetBook(w http.ResponseWriter, r *http.Request) {
	h.respondError(w, http.StatusNotFound, msgNotFound)
}

func (h *Handler) DeleteBook(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.catalog.Delete(r.Context(), id); err != nil {
		h.handleError(w, r, "delete book", id, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) BorrowBook(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req BorrowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.respondError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	if _, err := h.catalog.Borrow(r.Context(), id, req.Borrower); err != nil {
		h.handleError(w, r, "borrow book", id, err)
		return
	}

	h.respondJSON(w, http.StatusOK, messageResponse{Message: msgBorrowed})
}

func (h *Handler) ReturnBook(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := h.catalog.Return(r.Context(), id); err != nil {
		h.handleError(w, r, "return book", id, err)
		return
	}

	h.respondJSON(w, http.StatusOK, messageResponse{Message: msgReturned})
}

func (h *Handler) GetBookHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	events, err := h.catalog.History(r.Context(), id)
	if errors.Is(err, lending.ErrHistoryDisabled) {
		h.respondError(w, http.StatusNotFound, msgHistoryNotEnabled)
		return
	}
	if err != nil {
		h.handleError(w, r, "get history", id, err)
		return
	}
	if events == nil {
		events = []*domain.LendingEvent{}
	}

	h.respondJSON(w, http.StatusOK, events)
}

// handleError maps catalog errors to responses. Anything unrecognised is
// logged and answered with 500.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, op, id string, err error) {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		h.respondJSON(w, http.StatusBadRequest, validationResponse{Errors: validationMessages(verr)})
		return
	}

	var lerr *domain.LendingError
	if errors.As(err, &lerr) {
		for sentinel, msg := range lendingMessages {
			if errors.Is(lerr, sentinel) {
				h.respondError(w, http.StatusBadRequest, msg)
				return
			}
		}
	}

	switch {
	case errors.Is(err, domain.ErrNotFound):
		h.respondError(w, http.StatusNotFound, msgNotFound)
	case errors.Is(err, domain.ErrConflict):
		h.respondError(w, http.StatusConflict, msgConflict)
	default:
		h.logger.Error("request failed", "op", op, "book_id", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, msgInternal)
	}
}

func validationMessages(verr *domain.ValidationError) map[string][]string {
	out := make(map[string][]string, len(verr.Fields))
	for _, f := range verr.Fields {
		msg, ok := fieldMessages[f.Err]
		if !ok {
			msg = f.Err.Error()
		}
		out[f.Field] = append(out[f.Field], msg)
	}
	return out
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, errorResponse{Msg: message})
}
