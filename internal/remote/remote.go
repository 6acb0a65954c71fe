// Package remote talks to the remote record service that holds the
// authoritative contact table.
//
// RecordService is the narrow interface the rest of the system depends on.
// Three implementations are provided: HTTPClient for the hosted API,
// PostgresService for direct table access, and MemoryService for tests and
// local runs. NewFromDSN picks one by URL scheme.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/invitekit/contactsync/internal/contact"
)

var (
	// ErrNotFound is returned when the remote has no record with the identity.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidInput is returned for unusable arguments (empty DSN, empty ID).
	ErrInvalidInput = errors.New("invalid input")
)

// RecordService is the remote contact store.
type RecordService interface {
	// List returns every record, newest first.
	List(ctx context.Context) ([]contact.Contact, error)
	// Search returns records whose first name, last name, email, city or
	// state contains term, case-insensitively.
	Search(ctx context.Context, term string) ([]contact.Contact, error)
	// Upsert creates or replaces the record keyed by its identity. A record
	// without an identity is assigned one. The returned record carries the
	// server's timestamps.
	Upsert(ctx context.Context, c contact.Contact) (contact.Contact, error)
	// Delete removes the record.
	Delete(ctx context.Context, id string) error
}

// NewFromDSN builds a RecordService from a URL-style DSN:
//
//	http://host:port, https://host     HTTPClient (token sent as Bearer)
//	postgres://..., postgresql://...   PostgresService
//	memory://                          MemoryService
func NewFromDSN(dsn, token string) (RecordService, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("%w: empty remote DSN", ErrInvalidInput)
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse remote DSN: %w", err)
	}
	scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
	switch scheme {
	case "http", "https":
		return NewHTTPClient(dsn, token, nil), nil
	case "postgres", "postgresql":
		return NewPostgresService(dsn)
	case "memory", "mem", "inmem":
		return NewMemoryService(), nil
	default:
		return nil, fmt.Errorf("unsupported remote scheme: %q", scheme)
	}
}

// matchesSearch applies the Search predicate used by the non-SQL services.
func matchesSearch(c *contact.Contact, term string) bool {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return true
	}
	for _, field := range []string{c.FirstName, c.LastName, c.Email, c.City, c.State} {
		if strings.Contains(strings.ToLower(field), term) {
			return true
		}
	}
	return false
}
