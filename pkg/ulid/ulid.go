// Package ulid provides process-wide unique, sortable identifiers for
// sync runs and query tracking.
package ulid

import (
	"sync"

	"github.com/oklog/ulid/v2"
)

var entropyLock sync.Mutex

// New generates a new ULID with mutex protection so no two IDs collide
// even under concurrent generation.
func New() ulid.ULID {
	entropyLock.Lock()
	defer entropyLock.Unlock()

	return ulid.Make()
}

// NewString generates a new ULID as a string
func NewString() string {
	return New().String()
}

// Parse parses a ULID string
func Parse(s string) (ulid.ULID, error) {
	return ulid.Parse(s)
}
