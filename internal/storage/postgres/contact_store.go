// Package postgres provides a Postgres-backed contact store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/immotrace/contact-pipeline/internal/contact"
)

// DB is the subset of pgxpool.Pool the store needs; pgxmock satisfies it in
// tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ContactStore persists contacts in Postgres.
//
// Expected schema:
//
//	CREATE TABLE contacts (
//	    id UUID PRIMARY KEY,
//	    contact_type TEXT NOT NULL,
//	    normalized_value TEXT NOT NULL,
//	    display_value TEXT NOT NULL,
//	    base_score DOUBLE PRECISION NOT NULL,
//	    confidence_score DOUBLE PRECISION NOT NULL,
//	    sources JSONB NOT NULL,
//	    first_seen_at TIMESTAMPTZ NOT NULL,
//	    last_seen_at TIMESTAMPTZ NOT NULL,
//	    merge_count INT NOT NULL,
//	    possible_duplicate_of TEXT,
//	    UNIQUE (contact_type, normalized_value)
//	);
type ContactStore struct {
	db DB
}

// NewContactStore connects a pool and returns the store.
func NewContactStore(ctx context.Context, dsn string) (*ContactStore, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &ContactStore{db: pool}, pool, nil
}

// NewContactStoreWithDB wraps an existing connection; used by tests.
func NewContactStoreWithDB(db DB) *ContactStore {
	return &ContactStore{db: db}
}

const contactColumns = `id, contact_type, normalized_value, display_value,
	base_score, confidence_score, sources, first_seen_at, last_seen_at,
	merge_count, COALESCE(possible_duplicate_of, '')`

// FindByKey looks up a contact by its dedup key.
func (s *ContactStore) FindByKey(ctx context.Context, key contact.Key) (contact.Contact, bool, error) {
	query := `SELECT ` + contactColumns + `
		FROM contacts
		WHERE contact_type = $1 AND normalized_value = $2`
	row := s.db.QueryRow(ctx, query, string(key.Type), key.NormalizedValue)
	c, err := scanContact(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return contact.Contact{}, false, nil
	}
	if err != nil {
		return contact.Contact{}, false, fmt.Errorf("find contact by key: %w", err)
	}
	return c, true, nil
}

// ListByType returns all contacts of one type.
func (s *ContactStore) ListByType(ctx context.Context, t contact.ContactType) ([]contact.Contact, error) {
	query := `SELECT ` + contactColumns + `
		FROM contacts
		WHERE contact_type = $1
		ORDER BY first_seen_at`
	rows, err := s.db.Query(ctx, query, string(t))
	if err != nil {
		return nil, fmt.Errorf("list contacts by type: %w", err)
	}
	defer rows.Close()

	var contacts []contact.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contact row: %w", err)
		}
		contacts = append(contacts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contact rows: %w", err)
	}
	return contacts, nil
}

// UpsertContact inserts or replaces the contact keyed by type and value.
func (s *ContactStore) UpsertContact(ctx context.Context, c contact.Contact) (contact.Contact, error) {
	sources, err := json.Marshal(c.Sources)
	if err != nil {
		return contact.Contact{}, fmt.Errorf("marshal sources: %w", err)
	}
	var dupOf any
	if c.PossibleDuplicateOf != "" {
		dupOf = c.PossibleDuplicateOf
	}
	query := `
		INSERT INTO contacts (id, contact_type, normalized_value, display_value,
			base_score, confidence_score, sources, first_seen_at, last_seen_at,
			merge_count, possible_duplicate_of)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (contact_type, normalized_value) DO UPDATE
		SET display_value = EXCLUDED.display_value,
			base_score = EXCLUDED.base_score,
			confidence_score = EXCLUDED.confidence_score,
			sources = EXCLUDED.sources,
			last_seen_at = EXCLUDED.last_seen_at,
			merge_count = EXCLUDED.merge_count,
			possible_duplicate_of = EXCLUDED.possible_duplicate_of`
	_, err = s.db.Exec(ctx, query,
		c.ID,
		string(c.Type),
		c.NormalizedValue,
		c.DisplayValue,
		c.BaseScore,
		c.ConfidenceScore,
		sources,
		c.FirstSeenAt,
		c.LastSeenAt,
		c.MergeCount,
		dupOf,
	)
	if err != nil {
		return contact.Contact{}, fmt.Errorf("upsert contact: %w", err)
	}
	return c, nil
}

func scanContact(row pgx.Row) (contact.Contact, error) {
	var (
		c       contact.Contact
		ctype   string
		sources []byte
	)
	err := row.Scan(
		&c.ID,
		&ctype,
		&c.NormalizedValue,
		&c.DisplayValue,
		&c.BaseScore,
		&c.ConfidenceScore,
		&sources,
		&c.FirstSeenAt,
		&c.LastSeenAt,
		&c.MergeCount,
		&c.PossibleDuplicateOf,
	)
	if err != nil {
		return contact.Contact{}, err
	}
	c.Type = contact.ContactType(ctype)
	if len(sources) > 0 {
		if err := json.Unmarshal(sources, &c.Sources); err != nil {
			return contact.Contact{}, fmt.Errorf("unmarshal sources: %w", err)
		}
	}
	return c, nil
}
