// Package localstore provides the local durable store for portal contacts.
//
// Entries live in an embedded SQLite database (WAL mode) so a submission is
// durable as soon as Save returns, whether or not the remote record service
// is reachable. The store never deletes entries; the only mutations are Save
// (which always clears the synced flag) and MarkSynced.
//
// Opening is asynchronous. Open returns immediately and initializes the
// database in the background. Until initialization finishes every operation
// except GetUnsynced fails fast with ErrStoreUnavailable; GetUnsynced waits.
package localstore

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/invitekit/contactsync/internal/contact"
	"github.com/invitekit/contactsync/internal/identity"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - contacts table with synced flag and bookkeeping timestamps
// 2 - per-entry version counter for conditional MarkSynced
const currentSchemaVersion = 2

// timeFormat is fixed-width so stored timestamps compare lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

var (
	// ErrStoreUnavailable is returned while initialization is pending or
	// after it failed. Callers may retry.
	ErrStoreUnavailable = errors.New("local store unavailable")

	// ErrNotFound is returned when no entry has the requested identity.
	ErrNotFound = errors.New("entry not found")
)

// Options configures a Store.
type Options struct {
	// Assigner issues identities for records saved without one.
	// Defaults to random UUIDs.
	Assigner identity.Assigner

	// Logger for store events (defaults to stderr with a "[store] " prefix)
	Logger *log.Logger

	// Now returns the current time (defaults to time.Now)
	Now func() time.Time

	// gate, when set, holds initialization until it is closed
	gate <-chan struct{}
}

// Store is the SQLite-backed local durable store.
type Store struct {
	path     string
	assigner identity.Assigner
	logger   *log.Logger
	now      func() time.Time

	ready   chan struct{}
	conn    *sql.DB // written once before ready is closed
	initErr error   // written once before ready is closed

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Open starts opening the store at path and returns without waiting.
// Use Ready, WaitReady or Err to observe initialization.
//
// The caller MUST call Close() when done.
func Open(ctx context.Context, path string, opts Options) *Store {
	if opts.Assigner == nil {
		opts.Assigner = identity.Default
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Store{
		path:     path,
		assigner: opts.Assigner,
		logger:   opts.Logger,
		now:      opts.Now,
		ready:    make(chan struct{}),
	}

	go s.init(ctx, opts.gate)

	return s
}

// OpenSync opens the store and waits for initialization to finish.
func OpenSync(ctx context.Context, path string, opts Options) (*Store, error) {
	s := Open(ctx, path, opts)
	if err := s.WaitReady(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init(ctx context.Context, gate <-chan struct{}) {
	defer close(s.ready)

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			s.initErr = ctx.Err()
			return
		}
	}

	conn, err := openDatabase(ctx, s.path)
	if err != nil {
		s.initErr = err
		s.logger.Printf("Failed to open %s: %v", s.path, err)
		return
	}
	s.conn = conn
	s.logger.Printf("Opened %s", s.path)
}

func openDatabase(ctx context.Context, path string) (*sql.DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Per-connection pragmas go in the DSN so every pooled connection gets them.
	// _txlock=immediate makes BeginTx take the write lock up front.
	connStr := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=synchronous(normal)&_txlock=immediate", path)
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	// Enable WAL mode for concurrent reads
	if _, err := conn.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := applySchema(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return conn, nil
}

// applySchema creates tables if they don't exist and checks user_version.
func applySchema(ctx context.Context, conn *sql.DB) error {
	var version int
	if err := conn.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}

	if version == 1 {
		if _, err := conn.ExecContext(ctx, `ALTER TABLE contacts ADD COLUMN version INTEGER NOT NULL DEFAULT 1`); err != nil {
			return fmt.Errorf("migrate to version 2: %w", err)
		}
	}

	if _, err := conn.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if _, err := conn.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Ready returns a channel that is closed once initialization has finished,
// successfully or not.
func (s *Store) Ready() <-chan struct{} {
	return s.ready
}

// Err returns the initialization error, or nil if initialization succeeded
// or is still pending.
func (s *Store) Err() error {
	select {
	case <-s.ready:
		return s.initErr
	default:
		return nil
	}
}

// WaitReady blocks until initialization finishes or ctx is done.
func (s *Store) WaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.available()
}

// available reports whether the store can serve requests right now.
func (s *Store) available() error {
	select {
	case <-s.ready:
	default:
		return fmt.Errorf("%w: initialization pending", ErrStoreUnavailable)
	}
	if s.initErr != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, s.initErr)
	}
	if s.closed.Load() {
		return fmt.Errorf("%w: store closed", ErrStoreUnavailable)
	}
	return nil
}

// Close closes the database connection once initialization has finished.
// Performs a WAL checkpoint so all changes land in the main database file.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		<-s.ready
		if s.conn == nil {
			return
		}

		if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			s.logger.Printf("Warning: failed to checkpoint WAL: %v", err)
		}
		if err := s.conn.Close(); err != nil {
			s.closeErr = fmt.Errorf("failed to close database: %w", err)
		}
	})
	return s.closeErr
}

// Save inserts or replaces the entry for c and marks it unsynced.
//
// A missing ID is assigned before writing. The entry's created_at keeps its
// stored value on replace; new entries take c.CreatedAt, or now when unset.
// updated_at is always now. Returns the entry's identity.
func (s *Store) Save(ctx context.Context, c contact.Contact) (string, error) {
	if err := s.available(); err != nil {
		return "", err
	}

	c = c.Clone()
	if c.ID == "" {
		c.ID = s.assigner.NewID()
	}
	now := s.now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	if err := upsertEntry(ctx, s.conn, &c); err != nil {
		return "", err
	}
	return c.ID, nil
}

// SaveAll saves every contact in one transaction and returns their identities
// in input order. Either all entries are written or none are.
func (s *Store) SaveAll(ctx context.Context, contacts []contact.Contact) ([]string, error) {
	if err := s.available(); err != nil {
		return nil, err
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.now().UTC()
	ids := make([]string, 0, len(contacts))
	for i := range contacts {
		c := contacts[i].Clone()
		if c.ID == "" {
			c.ID = s.assigner.NewID()
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		c.UpdatedAt = now

		if err := upsertEntry(ctx, tx, &c); err != nil {
			return nil, err
		}
		ids = append(ids, c.ID)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return ids, nil
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertEntry(ctx context.Context, ex execer, c *contact.Contact) error {
	tags := c.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	query := `
	INSERT INTO contacts (
		id, first_name, last_name, email, phone,
		street_address, city, state, postal_code, country,
		status, tags, notes, synced, version, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 1, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		first_name = excluded.first_name,
		last_name = excluded.last_name,
		email = excluded.email,
		phone = excluded.phone,
		street_address = excluded.street_address,
		city = excluded.city,
		state = excluded.state,
		postal_code = excluded.postal_code,
		country = excluded.country,
		status = excluded.status,
		tags = excluded.tags,
		notes = excluded.notes,
		synced = 0,
		version = contacts.version + 1,
		updated_at = excluded.updated_at
	`

	_, err = ex.ExecContext(ctx, query,
		c.ID,
		c.FirstName,
		c.LastName,
		c.Email,
		c.Phone,
		c.StreetAddress,
		c.City,
		c.State,
		c.PostalCode,
		c.Country,
		c.Status,
		string(tagsJSON),
		c.Notes,
		c.CreatedAt.UTC().Format(timeFormat),
		c.UpdatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("failed to save entry %s: %w", c.ID, err)
	}
	return nil
}

// MarkSynced flags version of the entry as acknowledged by the remote
// record service. It reports false, leaving the entry unsynced, when the
// entry was saved again after that version was read. Returns ErrNotFound if
// no entry has the identity. Marking an already synced version is a no-op.
func (s *Store) MarkSynced(ctx context.Context, id string, version int64) (bool, error) {
	if err := s.available(); err != nil {
		return false, err
	}

	res, err := s.conn.ExecContext(ctx, `UPDATE contacts SET synced = 1 WHERE id = ? AND version = ?`, id, version)
	if err != nil {
		return false, fmt.Errorf("failed to mark entry %s synced: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to mark entry %s synced: %w", id, err)
	}
	if n > 0 {
		return true, nil
	}

	var current int64
	err = s.conn.QueryRowContext(ctx, `SELECT version FROM contacts WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return false, fmt.Errorf("failed to read version of %s: %w", id, err)
	}
	s.logger.Printf("Entry %s changed since version %d was pushed (now %d), leaving it unsynced", id, version, current)
	return false, nil
}

const selectColumns = `
	SELECT id, first_name, last_name, email, phone,
	       street_address, city, state, postal_code, country,
	       status, tags, notes, synced, version, created_at, updated_at
	FROM contacts`

// GetAll returns a snapshot of every entry in insertion order.
func (s *Store) GetAll(ctx context.Context) ([]contact.Entry, error) {
	if err := s.available(); err != nil {
		return nil, err
	}
	return s.query(ctx, selectColumns+` ORDER BY rowid ASC`)
}

// GetUnsynced returns every entry not yet acknowledged by the remote, in
// insertion order. Unlike the other operations it waits for initialization.
func (s *Store) GetUnsynced(ctx context.Context) ([]contact.Entry, error) {
	if err := s.WaitReady(ctx); err != nil {
		return nil, err
	}
	return s.query(ctx, selectColumns+` WHERE synced = 0 ORDER BY rowid ASC`)
}

// Get returns the entry with the given identity.
func (s *Store) Get(ctx context.Context, id string) (contact.Entry, error) {
	if err := s.available(); err != nil {
		return contact.Entry{}, err
	}

	entries, err := s.query(ctx, selectColumns+` WHERE id = ?`, id)
	if err != nil {
		return contact.Entry{}, err
	}
	if len(entries) == 0 {
		return contact.Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return entries[0], nil
}

// Counts returns the total number of entries and how many are unsynced.
func (s *Store) Counts(ctx context.Context) (total, unsynced int, err error) {
	if err := s.available(); err != nil {
		return 0, 0, err
	}

	err = s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN synced = 0 THEN 1 ELSE 0 END), 0) FROM contacts`,
	).Scan(&total, &unsynced)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count entries: %w", err)
	}
	return total, unsynced, nil
}

// Filter narrows a List query. Zero values match everything.
type Filter struct {
	// Status matches entries with this status
	Status string
	// Tag matches entries carrying this tag
	Tag string
	// Synced, when set, matches entries with this synced flag
	Synced *bool
	// Since matches entries updated at or after this time
	Since time.Time
	// Limit restricts the number of results (0 = no limit)
	Limit int
}

// List returns entries matching f in insertion order.
func (s *Store) List(ctx context.Context, f Filter) ([]contact.Entry, error) {
	if err := s.available(); err != nil {
		return nil, err
	}

	var conditions []string
	var args []any

	if f.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, f.Status)
	}
	if f.Tag != "" {
		conditions = append(conditions, "EXISTS (SELECT 1 FROM json_each(contacts.tags) WHERE json_each.value = ?)")
		args = append(args, f.Tag)
	}
	if f.Synced != nil {
		conditions = append(conditions, "synced = ?")
		args = append(args, boolToInt(*f.Synced))
	}
	if !f.Since.IsZero() {
		conditions = append(conditions, "updated_at >= ?")
		args = append(args, f.Since.UTC().Format(timeFormat))
	}

	query := selectColumns
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY rowid ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	return s.query(ctx, query, args...)
}

// Export writes every entry's record as JSONL.
func (s *Store) Export(ctx context.Context, w io.Writer) (int, error) {
	entries, err := s.GetAll(ctx)
	if err != nil {
		return 0, err
	}
	records := make([]contact.Contact, len(entries))
	for i := range entries {
		records[i] = entries[i].Contact
	}
	if err := contact.WriteJSONL(w, records); err != nil {
		return 0, err
	}
	return len(records), nil
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]contact.Entry, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// scanEntries scans every row of a selectColumns query.
func scanEntries(rows *sql.Rows) ([]contact.Entry, error) {
	var entries []contact.Entry

	for rows.Next() {
		var e contact.Entry
		var tagsJSON string
		var synced int
		var createdAt, updatedAt string

		err := rows.Scan(
			&e.ID,
			&e.FirstName,
			&e.LastName,
			&e.Email,
			&e.Phone,
			&e.StreetAddress,
			&e.City,
			&e.State,
			&e.PostalCode,
			&e.Country,
			&e.Status,
			&tagsJSON,
			&e.Notes,
			&synced,
			&e.Version,
			&createdAt,
			&updatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}

		if err := json.Unmarshal([]byte(tagsJSON), &e.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags for %s: %w", e.ID, err)
		}
		e.Synced = synced != 0

		if e.CreatedAt, err = time.Parse(timeFormat, createdAt); err != nil {
			return nil, fmt.Errorf("failed to parse created_at for %s: %w", e.ID, err)
		}
		if e.UpdatedAt, err = time.Parse(timeFormat, updatedAt); err != nil {
			return nil, fmt.Errorf("failed to parse updated_at for %s: %w", e.ID, err)
		}

		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entries: %w", err)
	}

	return entries, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
