package lookup

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/invitekit/contactsync/internal/contact"
	"github.com/invitekit/contactsync/internal/localstore"
)

type countingStore struct {
	entries []contact.Entry
	err     error
	calls   int
}

func (s *countingStore) GetAll(ctx context.Context) ([]contact.Entry, error) {
	s.calls++
	return s.entries, s.err
}

func entry(id, first, last, street, city, state string) contact.Entry {
	return contact.Entry{Contact: contact.Contact{
		ID: id, FirstName: first, LastName: last,
		StreetAddress: street, City: city, State: state,
	}}
}

var sample = []contact.Entry{
	entry("partial", "", "Lovelace", "1 Analytical Engine Way", "London", "ON"),
	entry("ada", "Ada", "Lovelace", "1 Analytical Engine Way", "London", "ON"),
	entry("grace", "Grace", "Hopper", "99 Cobol Street", "Arlington", "VA"),
	entry("grace2", "Grace", "Kelly", "1 Palace Road", "Monaco", "MC"),
}

func TestMatch(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		wantID string
		wantOK bool
	}{
		{"full name", "ada lovelace", "ada", true},
		{"partial last name", "Lovel", "ada", true},
		{"case insensitive", "HOPPER", "grace", true},
		{"address", "cobol street arl", "grace", true},
		{"first match in order", "grace", "grace", true},
		{"no match", "turing", "", false},
		{"blank", "   ", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Match(sample, tt.query)
			if ok != tt.wantOK {
				t.Fatalf("Match(%q) ok = %v, want %v", tt.query, ok, tt.wantOK)
			}
			if got.ID != tt.wantID {
				t.Errorf("Match(%q) = %q, want %q", tt.query, got.ID, tt.wantID)
			}
		})
	}
}

func TestMatch_SkipsEntriesWithoutNames(t *testing.T) {
	only := []contact.Entry{sample[0]}
	if _, ok := Match(only, "Lovelace"); ok {
		t.Error("entry without first name must be skipped")
	}
}

func TestFind_Threshold(t *testing.T) {
	store := &countingStore{entries: sample}
	f := NewFinder(store)
	ctx := context.Background()

	// Two characters never reach the store
	if _, _, err := f.Find(ctx, "Ad"); !errors.Is(err, ErrQueryTooShort) {
		t.Fatalf("Find(\"Ad\") error = %v, want ErrQueryTooShort", err)
	}
	if _, _, err := f.Find(ctx, "  Ad  "); !errors.Is(err, ErrQueryTooShort) {
		t.Fatalf("padded short query error = %v, want ErrQueryTooShort", err)
	}
	if store.calls != 0 {
		t.Fatalf("store was scanned %d times for short queries", store.calls)
	}

	// Three characters with a name match
	got, ok, err := f.Find(ctx, "Ada")
	if err != nil {
		t.Fatalf("Find(\"Ada\") failed: %v", err)
	}
	if !ok || got.ID != "ada" {
		t.Errorf("Find(\"Ada\") = %q, %v; want ada", got.ID, ok)
	}

	// Non-matching query of length >= 3
	_, ok, err = f.Find(ctx, "xyz")
	if err != nil {
		t.Fatalf("Find(\"xyz\") failed: %v", err)
	}
	if ok {
		t.Error("Find(\"xyz\") should not match")
	}
	if store.calls != 2 {
		t.Errorf("store calls = %d, want 2", store.calls)
	}
}

func TestFind_StoreUnavailablePropagates(t *testing.T) {
	store := &countingStore{err: localstore.ErrStoreUnavailable}
	_, _, err := NewFinder(store).Find(context.Background(), "Lovelace")
	if !errors.Is(err, localstore.ErrStoreUnavailable) {
		t.Fatalf("error = %v, want ErrStoreUnavailable", err)
	}
}

func TestFind_AgainstLocalStore(t *testing.T) {
	ctx := context.Background()
	store, err := localstore.OpenSync(ctx, filepath.Join(t.TempDir(), "contacts.db"), localstore.Options{})
	if err != nil {
		t.Fatalf("OpenSync() failed: %v", err)
	}
	defer store.Close()

	id, err := store.Save(ctx, sample[1].Contact)
	if err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	got, ok, err := NewFinder(store).Find(ctx, "Lovel")
	if err != nil {
		t.Fatalf("Find() failed: %v", err)
	}
	if !ok || got.ID != id {
		t.Errorf("Find(\"Lovel\") = %q, %v; want %q", got.ID, ok, id)
	}
}
