// Package contact defines the contact record exchanged between the portal,
// the local durable store and the remote record service.
package contact

import (
	"fmt"
	"strings"
	"time"
)

// Status values for a contact.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Portal submission defaults.
const (
	DefaultCountry = "Canada"
	DefaultTag     = "customer-added"
)

// Contact is a single mailing-list record.
// Field names mirror the remote contacts table so a record round-trips
// through every remote implementation without loss.
type Contact struct {
	// ===== Identity =====
	ID string `json:"id,omitempty"`

	// ===== Person =====
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`

	// ===== Mailing address =====
	StreetAddress string `json:"street_address"`
	City          string `json:"city"`
	State         string `json:"state"`
	PostalCode    string `json:"postal_code"`
	Country       string `json:"country"`

	// ===== Classification =====
	Status string   `json:"status"`
	Tags   []string `json:"tags"`
	Notes  string   `json:"notes,omitempty"`

	// ===== Timestamps =====
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Entry is a contact held in the local store together with its sync bookkeeping.
type Entry struct {
	Contact
	Synced bool `json:"synced"`
	// Version increases on every save; MarkSynced only applies to the
	// version that was pushed.
	Version int64 `json:"version"`
}

// FullName returns "first last" with surrounding whitespace removed.
func (c *Contact) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// Address returns "street city state" as used by the local lookup.
func (c *Contact) Address() string {
	return strings.TrimSpace(strings.Join([]string{c.StreetAddress, c.City, c.State}, " "))
}

// HasName reports whether both name parts are present.
func (c *Contact) HasName() bool {
	return strings.TrimSpace(c.FirstName) != "" && strings.TrimSpace(c.LastName) != ""
}

// ApplyDefaults fills the fields the portal form pre-populates.
func (c *Contact) ApplyDefaults() {
	if strings.TrimSpace(c.Country) == "" {
		c.Country = DefaultCountry
	}
	if c.Status == "" {
		c.Status = StatusActive
	}
	if len(c.Tags) == 0 {
		c.Tags = []string{DefaultTag}
	}
}

// Clone returns a copy that shares no slices with c.
func (c Contact) Clone() Contact {
	if c.Tags != nil {
		c.Tags = append([]string(nil), c.Tags...)
	}
	return c
}

// String returns a short human-readable form used in log lines.
func (c *Contact) String() string {
	if c.ID == "" {
		return c.FullName()
	}
	return fmt.Sprintf("%s (%s)", c.FullName(), c.ID)
}
