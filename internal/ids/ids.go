package ids

import (
	"github.com/oklog/ulid/v2"
)

// New returns a lexicographically sortable identifier suitable for user keys.
// ulid.Make is safe for concurrent use and monotonic within a millisecond.
func New() string {
	return ulid.Make().String()
}

// Valid reports whether id is a well-formed identifier produced by New.
func Valid(id string) bool {
	_, err := ulid.ParseStrict(id)
	return err == nil
}
