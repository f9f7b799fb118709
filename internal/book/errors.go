package book

import "errors"

var (
	// ErrDuplicateOrder is returned by Insert when the order id is already resting.
	ErrDuplicateOrder = errors.New("book: duplicate order id")
	// ErrOrderNotFound is returned by Remove when the order id is not resting.
	ErrOrderNotFound = errors.New("book: order not found")
)
