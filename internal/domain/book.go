package domain

import (
	"fmt"
	"unicode/utf8"
)

const (
	IDLength        = 6
	MaxTitleLength  = 100
	MaxAuthorLength = 100
)

type State string

const (
	StateAvailable State = "available"
	StateBorrowed  State = "borrowed"
)

// Book is the catalog record. BorrowDate and Borrower are set exactly when
// Borrowed is true; only Borrow and Return change them.
type Book struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Author     string  `json:"author"`
	Borrowed   bool    `json:"borrowed"`
	BorrowDate *Date   `json:"borrow_date"`
	Borrower   *string `json:"borrower"`
}

func (b Book) State() State {
	if b.Borrowed {
		return StateBorrowed
	}
	return StateAvailable
}

// ExistsFunc reports whether a book with the given id is already stored.
type ExistsFunc func(id string) (bool, error)

// ValidateForCreate checks the fields of a new book and returns it in the
// Available state. Every offending field is reported in a single
// *ValidationError. exists may be nil when the caller enforces uniqueness.
func ValidateForCreate(id, title, author string, exists ExistsFunc) (*Book, error) {
	verr := &ValidationError{}

	if !IsSixDigits(id) {
		verr.add("id", ErrInvalidIDFormat)
	} else if exists != nil {
		found, err := exists(id)
		if err != nil {
			return nil, fmt.Errorf("check book %s exists: %w", id, err)
		}
		if found {
			verr.add("id", ErrDuplicateID)
		}
	}

	checkText(verr, "title", title, MaxTitleLength)
	checkText(verr, "author", author, MaxAuthorLength)

	if !verr.empty() {
		return nil, verr
	}

	return &Book{
		ID:     id,
		Title:  title,
		Author: author,
	}, nil
}

func checkText(verr *ValidationError, field, value string, max int) {
	switch {
	case value == "":
		verr.add(field, ErrMissingField)
	case utf8.RuneCountInString(value) > max:
		verr.add(field, ErrFieldTooLong)
	}
}

// ValidateBorrower distinguishes a missing borrower from a malformed one.
func ValidateBorrower(borrowerID string) error {
	if borrowerID == "" {
		return ErrBorrowerRequired
	}
	if !IsSixDigits(borrowerID) {
		return ErrInvalidBorrowerFormat
	}
	return nil
}

// IsSixDigits reports whether s is exactly six ASCII digits.
func IsSixDigits(s string) bool {
	if len(s) != IDLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
