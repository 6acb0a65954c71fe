// Package portal ties the contact store, sync coordinator, lookup and
// connectivity monitor together behind the operations a user performs:
// submit a contact, search for one, sync on demand and check status.
package portal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/invitekit/contactsync/internal/checkpoint"
	"github.com/invitekit/contactsync/internal/connectivity"
	"github.com/invitekit/contactsync/internal/contact"
	"github.com/invitekit/contactsync/internal/localstore"
	"github.com/invitekit/contactsync/internal/lookup"
	"github.com/invitekit/contactsync/internal/notice"
	"github.com/invitekit/contactsync/internal/remote"
	"github.com/invitekit/contactsync/internal/syncer"
)

// Config holds the collaborators of a Portal.
type Config struct {
	Store      *localstore.Store
	Remote     remote.RecordService
	Checkpoint checkpoint.Store    // default: in-memory
	Source     connectivity.Source // default: always online
	Notifier   notice.Notifier     // default: discard
	Logger     *log.Logger         // default: stderr with "[portal] " prefix

	PushTimeout time.Duration

	// SyncOnStart flushes pending entries when Start finds the source online.
	SyncOnStart bool
}

// Portal is the contact portal core. Safe for concurrent use.
type Portal struct {
	store       *localstore.Store
	remote      remote.RecordService
	source      connectivity.Source
	coordinator *syncer.Coordinator
	monitor     *connectivity.Monitor
	finder      *lookup.Finder
	notifier    notice.Notifier
	logger      *log.Logger
}

// SubmitResult describes a saved submission.
type SubmitResult struct {
	ID string

	// Sync is set when the portal was online and attempted a pass.
	Sync    *syncer.Result
	SyncErr error
}

// Status is the portal banner: connectivity, checkpoint and queue depth.
type Status struct {
	Online      bool      `json:"online"`
	Syncing     bool      `json:"syncing"`
	LastSync    time.Time `json:"last_sync,omitempty"`
	HasLastSync bool      `json:"has_last_sync"`
	Total       int       `json:"total"`
	Unsynced    int       `json:"unsynced"`
}

// New wires a Portal. The store and remote service are required.
func New(cfg Config) (*Portal, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("portal: store is required")
	}
	if cfg.Remote == nil {
		return nil, fmt.Errorf("portal: remote service is required")
	}
	if cfg.Source == nil {
		cfg.Source = connectivity.NewManualSource(true)
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notice.Discard
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[portal] ", log.LstdFlags)
	}

	coordinator := syncer.New(cfg.Store, cfg.Remote, cfg.Checkpoint, syncer.Options{
		PushTimeout: cfg.PushTimeout,
		Logger:      prefixed(cfg.Logger, "[sync] "),
		Notifier:    cfg.Notifier,
	})

	p := &Portal{
		store:       cfg.Store,
		remote:      cfg.Remote,
		source:      cfg.Source,
		coordinator: coordinator,
		finder:      lookup.NewFinder(cfg.Store),
		notifier:    cfg.Notifier,
		logger:      cfg.Logger,
	}
	p.monitor = connectivity.NewMonitor(cfg.Source, p.syncPass, connectivity.Options{
		Logger:      prefixed(cfg.Logger, "[monitor] "),
		Notifier:    cfg.Notifier,
		SyncOnStart: cfg.SyncOnStart,
	})
	return p, nil
}

// prefixed returns a logger sharing base's output with a different prefix.
func prefixed(base *log.Logger, prefix string) *log.Logger {
	return log.New(base.Writer(), prefix, base.Flags())
}

// Start begins observing connectivity. The source takes its first reading
// before the monitor subscribes.
func (p *Portal) Start(ctx context.Context) error {
	if err := p.source.Start(ctx); err != nil {
		return fmt.Errorf("failed to start connectivity source: %w", err)
	}
	if err := p.monitor.Start(ctx); err != nil {
		_ = p.source.Close()
		return fmt.Errorf("failed to start connectivity monitor: %w", err)
	}
	return nil
}

// Close stops the monitor and the connectivity source, waiting for any
// in-flight pass. The store and remote service belong to the caller.
func (p *Portal) Close() error {
	p.monitor.Stop()
	if err := p.source.Close(); err != nil {
		return fmt.Errorf("failed to close connectivity source: %w", err)
	}
	return nil
}

func (p *Portal) syncPass(ctx context.Context) error {
	_, err := p.coordinator.Sync(ctx)
	return err
}

// Submit validates and saves a contact, then syncs when online.
// A record with an ID replaces the stored entry with that ID, which is
// how a found record is edited. Sync failures are reported in the result
// and do not fail the submission.
func (p *Portal) Submit(ctx context.Context, c contact.Contact) (SubmitResult, error) {
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return SubmitResult{}, err
	}

	id, err := p.store.Save(ctx, c)
	if err != nil {
		p.notifier.Notify(notice.SaveFailed())
		return SubmitResult{}, fmt.Errorf("failed to save contact: %w", err)
	}
	p.notifier.Notify(notice.Saved())

	result := SubmitResult{ID: id}
	if p.monitor.Online() {
		res, err := p.coordinator.Sync(ctx)
		result.Sync = &res
		result.SyncErr = err
	}
	return result, nil
}

// Search finds the first stored contact matching query by name or address.
func (p *Portal) Search(ctx context.Context, query string) (contact.Entry, bool, error) {
	entry, found, err := p.finder.Find(ctx, query)
	switch {
	case errors.Is(err, lookup.ErrQueryTooShort):
		p.notifier.Notify(notice.QueryTooShort(lookup.MinQueryLength))
		return contact.Entry{}, false, err
	case err != nil:
		return contact.Entry{}, false, err
	case found:
		p.notifier.Notify(notice.Found())
	default:
		p.notifier.Notify(notice.NotFound())
	}
	return entry, found, nil
}

// ManualSync runs a pass on request. While offline it returns
// connectivity.ErrOffline without reading the store.
func (p *Portal) ManualSync(ctx context.Context) (syncer.Result, error) {
	if !p.monitor.Online() {
		return syncer.Result{}, p.monitor.RequestSync(ctx)
	}
	return p.coordinator.Sync(ctx)
}

// Status reports connectivity, the last checkpoint and entry counts.
func (p *Portal) Status(ctx context.Context) (Status, error) {
	st := Status{
		Online:  p.monitor.Online(),
		Syncing: p.coordinator.InProgress(),
	}
	st.LastSync, st.HasLastSync = p.coordinator.LastSync()

	total, unsynced, err := p.store.Counts(ctx)
	if err != nil {
		return st, err
	}
	st.Total = total
	st.Unsynced = unsynced
	return st, nil
}

// Import saves contacts read from a JSONL stream. Imported entries are
// unsynced. Records failing validation are skipped and reported.
func (p *Portal) Import(ctx context.Context, r io.Reader) (*ImportResult, error) {
	read, err := contact.ReadJSONL(r)
	if err != nil {
		return nil, err
	}

	result := &ImportResult{Records: read.Records, Skipped: read.Errors}
	valid := make([]contact.Contact, 0, len(read.Contacts))
	for i := range read.Contacts {
		c := read.Contacts[i]
		c.ApplyDefaults()
		if err := c.Validate(); err != nil {
			result.Skipped = append(result.Skipped, fmt.Sprintf("%s: %v", describe(c), err))
			continue
		}
		valid = append(valid, c)
	}
	if len(valid) == 0 {
		return result, nil
	}

	ids, err := p.store.SaveAll(ctx, valid)
	if err != nil {
		return result, fmt.Errorf("failed to save imported contacts: %w", err)
	}
	result.IDs = ids
	p.logger.Printf("Imported %d of %d records", len(ids), result.Records)
	return result, nil
}

// ImportResult summarizes an Import.
type ImportResult struct {
	Records int
	IDs     []string
	Skipped []string
}

func describe(c contact.Contact) string {
	if c.ID != "" {
		return c.ID
	}
	if name := c.FullName(); name != "" {
		return name
	}
	return "record"
}

// Store returns the local store.
func (p *Portal) Store() *localstore.Store { return p.store }

// Remote returns the remote record service.
func (p *Portal) Remote() remote.RecordService { return p.remote }

// Online reports the monitor's view of connectivity.
func (p *Portal) Online() bool { return p.monitor.Online() }
