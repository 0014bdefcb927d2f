package discovery

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when no strategy yields any URL.
var ErrNotFound = errors.New("no sitemap found")

// FetchError is a transient failure of one candidate fetch. The resolver logs it and
// moves to the next candidate.
type FetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
