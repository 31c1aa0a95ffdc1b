package domain

import "time"

type EventType string

const (
	EventBookCreated  EventType = "book.created"
	EventBookBorrowed EventType = "book.borrowed"
	EventBookReturned EventType = "book.returned"
	EventBookDeleted  EventType = "book.deleted"
)

// LendingEvent records a successful change to a book. Borrower and BorrowDate
// are only set on book.borrowed.
type LendingEvent struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	BookID     string    `json:"book_id"`
	Borrower   *string   `json:"borrower,omitempty"`
	BorrowDate *Date     `json:"borrow_date,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

func NewLendingEvent(id string, typ EventType, book Book, occurredAt time.Time) *LendingEvent {
	e := &LendingEvent{
		ID:         id,
		Type:       typ,
		BookID:     book.ID,
		OccurredAt: occurredAt,
	}
	if typ == EventBookBorrowed {
		e.Borrower = book.Borrower
		e.BorrowDate = book.BorrowDate
	}
	return e
}
