package remote

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/invitekit/contactsync/internal/contact"
	"github.com/invitekit/contactsync/internal/identity"
)

const (
	postgresContactsTableName = "contacts"
	postgresOperationTimeout  = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresService reads and writes the contacts table directly.
// The table is created on first use.
type PostgresService struct {
	dsn       string
	tableName string
	openDB    sqlOpenFunc
	assigner  identity.Assigner

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

// NewPostgresService returns a service for dsn without connecting.
func NewPostgresService(dsn string) (*PostgresService, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("%w: empty postgres DSN", ErrInvalidInput)
	}
	return &PostgresService{
		dsn:       dsn,
		tableName: postgresContactsTableName,
		openDB:    sql.Open,
		assigner:  identity.Default,
	}, nil
}

// Close releases the connection pool.
func (p *PostgresService) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

func (p *PostgresService) ensureReady() error {
	p.initOnce.Do(func() {
		db, err := p.openDB("postgres", p.dsn)
		if err != nil {
			p.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()

		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id TEXT PRIMARY KEY,
				first_name TEXT NOT NULL DEFAULT '',
				last_name TEXT NOT NULL DEFAULT '',
				email TEXT NOT NULL DEFAULT '',
				phone TEXT NOT NULL DEFAULT '',
				street_address TEXT NOT NULL DEFAULT '',
				city TEXT NOT NULL DEFAULT '',
				state TEXT NOT NULL DEFAULT '',
				postal_code TEXT NOT NULL DEFAULT '',
				country TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL DEFAULT 'active',
				tags TEXT NOT NULL DEFAULT '[]',
				notes TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, postgresQuoteIdentifier(p.tableName))
		if _, err := db.ExecContext(ctx, query); err != nil {
			_ = db.Close()
			p.initErr = err
			return
		}
		p.db = db
	})
	return p.initErr
}

const postgresSelectColumns = `id, first_name, last_name, email, phone,
	street_address, city, state, postal_code, country,
	status, tags, notes, created_at, updated_at`

func (p *PostgresService) List(ctx context.Context) ([]contact.Contact, error) {
	if err := p.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY created_at DESC`,
		postgresSelectColumns, postgresQuoteIdentifier(p.tableName))
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	defer rows.Close()
	return scanContacts(rows)
}

func (p *PostgresService) Search(ctx context.Context, term string) ([]contact.Contact, error) {
	if err := p.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM %s
		WHERE first_name ILIKE $1 OR last_name ILIKE $1 OR email ILIKE $1
		   OR city ILIKE $1 OR state ILIKE $1
		ORDER BY created_at DESC`,
		postgresSelectColumns, postgresQuoteIdentifier(p.tableName))
	rows, err := p.db.QueryContext(ctx, query, "%"+escapeLike(strings.TrimSpace(term))+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to search contacts: %w", err)
	}
	defer rows.Close()
	return scanContacts(rows)
}

func (p *PostgresService) Upsert(ctx context.Context, c contact.Contact) (contact.Contact, error) {
	if err := p.ensureReady(); err != nil {
		return contact.Contact{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	c = c.Clone()
	if c.ID == "" {
		c.ID = p.assigner.NewID()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	tags := c.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return contact.Contact{}, fmt.Errorf("failed to marshal tags: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (
			id, first_name, last_name, email, phone,
			street_address, city, state, postal_code, country,
			status, tags, notes, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW())
		ON CONFLICT (id) DO UPDATE SET
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			email = EXCLUDED.email,
			phone = EXCLUDED.phone,
			street_address = EXCLUDED.street_address,
			city = EXCLUDED.city,
			state = EXCLUDED.state,
			postal_code = EXCLUDED.postal_code,
			country = EXCLUDED.country,
			status = EXCLUDED.status,
			tags = EXCLUDED.tags,
			notes = EXCLUDED.notes,
			updated_at = NOW()
		RETURNING created_at, updated_at`, postgresQuoteIdentifier(p.tableName))

	err = p.db.QueryRowContext(ctx, query,
		c.ID, c.FirstName, c.LastName, c.Email, c.Phone,
		c.StreetAddress, c.City, c.State, c.PostalCode, c.Country,
		c.Status, string(tagsJSON), c.Notes, c.CreatedAt,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return contact.Contact{}, fmt.Errorf("failed to upsert contact %s: %w", c.ID, err)
	}
	return c, nil
}

func (p *PostgresService) Delete(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidInput)
	}
	if err := p.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, postgresQuoteIdentifier(p.tableName))
	res, err := p.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete contact %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func scanContacts(rows *sql.Rows) ([]contact.Contact, error) {
	var out []contact.Contact
	for rows.Next() {
		var c contact.Contact
		var tagsJSON string
		if err := rows.Scan(
			&c.ID, &c.FirstName, &c.LastName, &c.Email, &c.Phone,
			&c.StreetAddress, &c.City, &c.State, &c.PostalCode, &c.Country,
			&c.Status, &tagsJSON, &c.Notes, &c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		if tagsJSON != "" {
			if err := json.Unmarshal([]byte(tagsJSON), &c.Tags); err != nil {
				return nil, fmt.Errorf("failed to unmarshal tags for %s: %w", c.ID, err)
			}
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating contacts: %w", err)
	}
	return out, nil
}

func postgresQuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func escapeLike(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(term)
}
