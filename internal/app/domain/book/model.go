package book

import "time"

// Book is a title held by the library, tracking how many physical copies
// exist and how many are currently on the shelf.
//
// Invariant: 0 <= AvailableCopies <= TotalCopies. AvailableCopies moves by
// exactly one per loan created or ended; the stores enforce the bounds.
type Book struct {
	ID              string
	Title           string
	Author          string
	ISBN            string
	TotalCopies     int
	AvailableCopies int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
