package oracle

import "errors"

var (
	// ErrTimeout is returned when a single attempt exceeds its per-attempt
	// deadline (schema.TimeoutMS).
	ErrTimeout = errors.New("oracle: request timed out")

	// ErrHTTPError wraps a non-2xx response that survived the retry budget.
	ErrHTTPError = errors.New("oracle: http error")

	// ErrIndeterminate is returned when json_path selects nothing and the
	// condition operator isn't "exists".
	ErrIndeterminate = errors.New("oracle: indeterminate result")

	// ErrSchemaError covers anything else wrong with the schema itself: an
	// unknown type/operator, an unparseable response body, and the like.
	// Never retried.
	ErrSchemaError = errors.New("oracle: schema evaluation error")
)
