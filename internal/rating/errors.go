package rating

import "errors"

var (
	// ErrNotRated is returned when a rating is requested for an agent that
	// has never traded, as opposed to one that traded but sits below
	// MinRated (which returns a valid NR-graded Rating, not an error).
	ErrNotRated = errors.New("rating: agent has no trading history")

	// ErrNotCertifiable is returned by Certify when the agent's trade
	// count or grade doesn't meet spec.md §4.7's certification bar.
	ErrNotCertifiable = errors.New("rating: agent does not meet certification requirements")
)
