package domain

import "time"

// Borrow moves an Available book to Borrowed, stamping the calendar day of now.
// The input is never modified.
func Borrow(b Book, borrowerID string, now time.Time) (Book, error) {
	if b.Borrowed {
		return b, &LendingError{Op: "borrow", BookID: b.ID, Err: ErrAlreadyBorrowed}
	}
	if err := ValidateBorrower(borrowerID); err != nil {
		return b, &LendingError{Op: "borrow", BookID: b.ID, Field: "borrower", Err: err}
	}

	date := DateOf(now)
	borrower := borrowerID

	b.Borrowed = true
	b.Borrower = &borrower
	b.BorrowDate = &date
	return b, nil
}

// Return moves a Borrowed book back to Available.
func Return(b Book) (Book, error) {
	if !b.Borrowed {
		return b, &LendingError{Op: "return", BookID: b.ID, Err: ErrNotBorrowed}
	}

	b.Borrowed = false
	b.Borrower = nil
	b.BorrowDate = nil
	return b, nil
}

func CanDelete(b Book) bool {
	return !b.Borrowed
}

// CheckDelete is CanDelete as an error, for callers that propagate the reason.
func CheckDelete(b Book) error {
	if !CanDelete(b) {
		return &LendingError{Op: "delete", BookID: b.ID, Err: ErrCannotDeleteBorrowed}
	}
	return nil
}
