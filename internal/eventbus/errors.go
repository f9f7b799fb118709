package eventbus

import "errors"

// ErrTimeout is returned by WaitFor when its deadline elapses before a
// matching event is published (spec.md §4.1).
var ErrTimeout = errors.New("eventbus: timeout")
