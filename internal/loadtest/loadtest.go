// Package loadtest provides load testing utilities for the portal core.
//
// It simulates several clerks at one location submitting and looking up
// contacts against a shared local store while sync passes push the queue
// to a remote service with configurable latency.
package loadtest

import (
	"context"
	"fmt"
	"io"
	"log"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/invitekit/contactsync/internal/checkpoint"
	"github.com/invitekit/contactsync/internal/contact"
	"github.com/invitekit/contactsync/internal/localstore"
	"github.com/invitekit/contactsync/internal/lookup"
	"github.com/invitekit/contactsync/internal/remote"
	"github.com/invitekit/contactsync/internal/syncer"
)

// TestStore is a populated contact store for load testing.
type TestStore struct {
	Store       *localstore.Store
	Remote      *remote.MemoryService
	Coordinator *syncer.Coordinator
	ContactIDs  []string
	Queries     []string
	Total       int
}

// LatencyStats captures performance metrics from load tests.
type LatencyStats struct {
	Min        time.Duration
	Max        time.Duration
	Mean       time.Duration
	P50        time.Duration // Median
	P95        time.Duration
	P99        time.Duration
	Operations int
	Errors     int
	Durations  []time.Duration
}

// Options tunes a TestStore.
type Options struct {
	// SyncedPct is the share of generated contacts already pushed (0-1).
	SyncedPct float64

	// PushLatency is the simulated remote round trip per record.
	PushLatency time.Duration

	Logger *log.Logger
}

var (
	firstNames = []string{"Ada", "Grace", "Alan", "Edsger", "Barbara", "Donald", "Frances", "John", "Margaret", "Ken"}
	lastNames  = []string{"Lovelace", "Hopper", "Turing", "Dijkstra", "Liskov", "Knuth", "Allen", "Backus", "Hamilton", "Thompson"}
	cities     = []struct{ city, province, postal string }{
		{"Toronto", "ON", "M5V 2T6"},
		{"Ottawa", "ON", "K1P 1J1"},
		{"Montreal", "QC", "H2Y 1C6"},
		{"Vancouver", "BC", "V6B 1A1"},
		{"Calgary", "AB", "T2P 1J9"},
		{"Halifax", "NS", "B3J 1S9"},
	}
)

// CreateTestStore opens a store at path and fills it with numContacts
// generated contacts.
func CreateTestStore(ctx context.Context, path string, numContacts int, opts Options) (*TestStore, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	store, err := localstore.OpenSync(ctx, path, localstore.Options{Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	svc := remote.NewMemoryService()
	svc.SetLatency(opts.PushLatency)

	ts := &TestStore{
		Store:      store,
		Remote:     svc,
		ContactIDs: make([]string, 0, numContacts),
		Total:      numContacts,
		Coordinator: syncer.New(store, svc, checkpoint.NewMemoryStore(), syncer.Options{
			Logger: logger,
		}),
	}

	contacts := generateContacts(numContacts)
	ids, err := store.SaveAll(ctx, contacts)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to insert contacts: %w", err)
	}
	ts.ContactIDs = ids

	// Use deterministic random for reproducibility
	rng := rand.New(rand.NewSource(42))
	numSynced := int(float64(numContacts) * opts.SyncedPct)
	for _, i := range rng.Perm(numContacts)[:numSynced] {
		// Freshly inserted entries are at version 1.
		if _, err := store.MarkSynced(ctx, ids[i], 1); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to mark %s synced: %w", ids[i], err)
		}
	}

	ts.Queries = generateQueries(contacts)
	return ts, nil
}

// Close closes the store.
func (ts *TestStore) Close() error {
	if ts.Store != nil {
		return ts.Store.Close()
	}
	return nil
}

// RunConcurrentLookups simulates numClerks clerks each running
// lookupsPerClerk searches. Returns aggregated latency statistics.
func (ts *TestStore) RunConcurrentLookups(ctx context.Context, numClerks, lookupsPerClerk int) (*LatencyStats, error) {
	finder := lookup.NewFinder(ts.Store)

	return runClerks(numClerks, lookupsPerClerk, func(clerk, i int) error {
		query := ts.Queries[(clerk*lookupsPerClerk+i)%len(ts.Queries)]
		_, _, err := finder.Find(ctx, query)
		return err
	})
}

// RunConcurrentSubmits simulates numClerks clerks each saving
// submitsPerClerk new contacts while a sync pass runs every syncEvery.
// The sync loop keeps going until the submits finish, then one final
// pass drains the queue.
func (ts *TestStore) RunConcurrentSubmits(ctx context.Context, numClerks, submitsPerClerk int, syncEvery time.Duration) (*LatencyStats, error) {
	syncCtx, stopSync := context.WithCancel(ctx)
	var syncWg sync.WaitGroup
	if syncEvery > 0 {
		syncWg.Add(1)
		go func() {
			defer syncWg.Done()
			ticker := time.NewTicker(syncEvery)
			defer ticker.Stop()
			for {
				select {
				case <-syncCtx.Done():
					return
				case <-ticker.C:
					_, _ = ts.Coordinator.Sync(syncCtx)
				}
			}
		}()
	}

	stats, err := runClerks(numClerks, submitsPerClerk, func(clerk, i int) error {
		c := generateContact(clerk*submitsPerClerk + i + ts.Total)
		_, err := ts.Store.Save(ctx, c)
		return err
	})

	stopSync()
	syncWg.Wait()
	if _, serr := ts.Coordinator.Sync(ctx); serr != nil && err == nil {
		err = fmt.Errorf("final sync failed: %w", serr)
	}
	return stats, err
}

// runClerks runs op concurrently and collects per-operation latency.
func runClerks(numClerks, opsPerClerk int, op func(clerk, i int) error) (*LatencyStats, error) {
	var wg sync.WaitGroup
	resultsChan := make(chan []time.Duration, numClerks)
	errorsChan := make(chan error, numClerks)

	for c := 0; c < numClerks; c++ {
		wg.Add(1)
		go func(clerk int) {
			defer wg.Done()

			durations := make([]time.Duration, 0, opsPerClerk)
			for i := 0; i < opsPerClerk; i++ {
				start := time.Now()
				err := op(clerk, i)
				durations = append(durations, time.Since(start))

				if err != nil {
					errorsChan <- fmt.Errorf("clerk %d operation %d failed: %w", clerk, i, err)
					break
				}
			}
			resultsChan <- durations
		}(c)
	}

	wg.Wait()
	close(resultsChan)
	close(errorsChan)

	var errs []error
	for err := range errorsChan {
		errs = append(errs, err)
	}

	var all []time.Duration
	for durations := range resultsChan {
		all = append(all, durations...)
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("no operations completed")
	}

	stats := computeLatencyStats(all)
	stats.Errors = len(errs)
	if len(errs) > 0 {
		return stats, errs[0]
	}
	return stats, nil
}

func generateContacts(count int) []contact.Contact {
	contacts := make([]contact.Contact, count)
	for i := range contacts {
		contacts[i] = generateContact(i)
	}
	return contacts
}

func generateContact(i int) contact.Contact {
	loc := cities[i%len(cities)]
	first := firstNames[i%len(firstNames)]
	// Offset the last name so name pairs vary beyond len(firstNames)
	last := lastNames[(i/len(firstNames)+i)%len(lastNames)]

	c := contact.Contact{
		FirstName:     first,
		LastName:      fmt.Sprintf("%s%d", last, i),
		Email:         fmt.Sprintf("%s.%s%d@example.com", first, last, i),
		StreetAddress: fmt.Sprintf("%d %s Street", 100+i, last),
		City:          loc.city,
		State:         loc.province,
		PostalCode:    loc.postal,
		Tags:          []string{"loadtest", fmt.Sprintf("batch-%d", i/100)},
	}
	c.ApplyDefaults()
	return c
}

// generateQueries mixes hits on names and addresses with misses.
func generateQueries(contacts []contact.Contact) []string {
	queries := make([]string, 0, len(contacts)/5+3)
	for i := 0; i < len(contacts); i += 5 {
		c := &contacts[i]
		if i%2 == 0 {
			queries = append(queries, c.LastName)
		} else {
			queries = append(queries, c.StreetAddress)
		}
	}
	return append(queries, "Nobody Here", "Nowhere Street", "Lovelace0")
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return &LatencyStats{
		Min:        sorted[0],
		Max:        sorted[len(sorted)-1],
		Mean:       sum / time.Duration(len(durations)),
		P50:        sorted[len(sorted)*50/100],
		P95:        sorted[len(sorted)*95/100],
		P99:        sorted[len(sorted)*99/100],
		Operations: len(durations),
		Durations:  sorted,
	}
}

// PrintStats writes latency statistics to w.
func (s *LatencyStats) PrintStats(w io.Writer, title string) {
	fmt.Fprintf(w, "%s:\n", title)
	fmt.Fprintf(w, "  Operations:    %d\n", s.Operations)
	fmt.Fprintf(w, "  Errors:        %d\n", s.Errors)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
}
