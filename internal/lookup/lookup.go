// Package lookup finds a returning visitor's local entry by name or address.
//
// This is a plain substring scan over a snapshot of the local store, not a
// search engine: the first entry in snapshot order whose full name or
// address contains the query wins.
package lookup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/invitekit/contactsync/internal/contact"
)

// MinQueryLength is the shortest query that triggers a scan.
const MinQueryLength = 3

// ErrQueryTooShort is returned for queries below MinQueryLength.
// No store access happens in that case.
var ErrQueryTooShort = errors.New("query too short")

// Snapshotter returns every local entry.
type Snapshotter interface {
	GetAll(ctx context.Context) ([]contact.Entry, error)
}

// Match returns the first entry whose lower-cased "first last" or
// "street city state" contains the lower-cased query.
// Entries without both name parts are skipped.
func Match(entries []contact.Entry, query string) (contact.Entry, bool) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return contact.Entry{}, false
	}
	for _, e := range entries {
		if !e.HasName() {
			continue
		}
		name := strings.ToLower(e.FirstName + " " + e.LastName)
		address := strings.ToLower(e.StreetAddress + " " + e.City + " " + e.State)
		if strings.Contains(name, q) || strings.Contains(address, q) {
			return e, true
		}
	}
	return contact.Entry{}, false
}

// Finder runs lookups against a store.
type Finder struct {
	store Snapshotter
}

// NewFinder returns a Finder over store.
func NewFinder(store Snapshotter) *Finder {
	return &Finder{store: store}
}

// Find trims query, rejects it with ErrQueryTooShort if it has fewer than
// MinQueryLength characters, and otherwise scans the store. Store errors
// (including localstore.ErrStoreUnavailable before readiness) propagate.
func (f *Finder) Find(ctx context.Context, query string) (contact.Entry, bool, error) {
	query = strings.TrimSpace(query)
	if utf8.RuneCountInString(query) < MinQueryLength {
		return contact.Entry{}, false, fmt.Errorf("%w: need at least %d characters", ErrQueryTooShort, MinQueryLength)
	}

	entries, err := f.store.GetAll(ctx)
	if err != nil {
		return contact.Entry{}, false, fmt.Errorf("failed to read local entries: %w", err)
	}

	e, ok := Match(entries, query)
	return e, ok, nil
}
