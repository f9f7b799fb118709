package persistence

import "errors"

// ErrNotFound is returned by GetBalance when the agent has no balance
// record yet. GetPosition does not use it: a position never opened comes
// back as a zero-value Position with no error.
var ErrNotFound = errors.New("persistence: record not found")
