package snippetstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the snippet_definitions table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS snippet_definitions (
    id         TEXT PRIMARY KEY,
    kind       TEXT NOT NULL DEFAULT '',
    snippet    JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_snippet_definitions_kind ON snippet_definitions(kind);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database. The snippet
// document is serialised as JSONB in the wire format.
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a [PostgresStore] over the given connection or
// pool. Call [PostgresStore.Migrate] before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL against the database.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("snippetstore: migrate: %w", err)
	}
	return nil
}

// Create inserts a new definition. Returns an error if the ID already exists.
func (s *PostgresStore) Create(ctx context.Context, def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	doc, err := json.Marshal(def.Snippet)
	if err != nil {
		return fmt.Errorf("snippetstore: marshal snippet: %w", err)
	}

	const query = `
		INSERT INTO snippet_definitions (id, kind, snippet)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at`

	err = s.db.QueryRow(ctx, query, def.ID, def.Kind, doc).Scan(&def.CreatedAt, &def.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("snippetstore: definition %q already exists", def.ID)
		}
		return fmt.Errorf("snippetstore: create: %w", err)
	}
	return nil
}

// Get retrieves a definition by ID. Returns (nil, nil) if not found.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Definition, error) {
	const query = `
		SELECT id, kind, snippet, created_at, updated_at
		FROM snippet_definitions
		WHERE id = $1`

	var def Definition
	var doc []byte
	err := s.db.QueryRow(ctx, query, id).Scan(&def.ID, &def.Kind, &doc, &def.CreatedAt, &def.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("snippetstore: get %q: %w", id, err)
	}
	if err := json.Unmarshal(doc, &def.Snippet); err != nil {
		return nil, fmt.Errorf("snippetstore: unmarshal snippet %q: %w", id, err)
	}
	return &def, nil
}

// Update replaces an existing definition.
func (s *PostgresStore) Update(ctx context.Context, def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	doc, err := json.Marshal(def.Snippet)
	if err != nil {
		return fmt.Errorf("snippetstore: marshal snippet: %w", err)
	}

	const query = `
		UPDATE snippet_definitions
		SET kind = $2, snippet = $3, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`

	err = s.db.QueryRow(ctx, query, def.ID, def.Kind, doc).Scan(&def.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return errNotFound(def.ID)
		}
		return fmt.Errorf("snippetstore: update: %w", err)
	}
	return nil
}

// Delete removes a definition by ID. Deleting a non-existent definition is
// not an error.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM snippet_definitions WHERE id = $1`
	if _, err := s.db.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("snippetstore: delete %q: %w", id, err)
	}
	return nil
}

// List returns all definitions, optionally filtered by kind.
func (s *PostgresStore) List(ctx context.Context, kind string) ([]Definition, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if kind == "" {
		const query = `
			SELECT id, kind, snippet, created_at, updated_at
			FROM snippet_definitions ORDER BY id`
		rows, err = s.db.Query(ctx, query)
	} else {
		const query = `
			SELECT id, kind, snippet, created_at, updated_at
			FROM snippet_definitions WHERE kind = $1 ORDER BY id`
		rows, err = s.db.Query(ctx, query, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("snippetstore: list: %w", err)
	}
	defer rows.Close()

	var defs []Definition
	for rows.Next() {
		var def Definition
		var doc []byte
		if err := rows.Scan(&def.ID, &def.Kind, &doc, &def.CreatedAt, &def.UpdatedAt); err != nil {
			return nil, fmt.Errorf("snippetstore: list scan: %w", err)
		}
		if err := json.Unmarshal(doc, &def.Snippet); err != nil {
			return nil, fmt.Errorf("snippetstore: unmarshal snippet %q: %w", def.ID, err)
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("snippetstore: list rows: %w", err)
	}
	return defs, nil
}

// Upsert creates or replaces a definition.
func (s *PostgresStore) Upsert(ctx context.Context, def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	doc, err := json.Marshal(def.Snippet)
	if err != nil {
		return fmt.Errorf("snippetstore: marshal snippet: %w", err)
	}

	const query = `
		INSERT INTO snippet_definitions (id, kind, snippet)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET kind = EXCLUDED.kind, snippet = EXCLUDED.snippet, updated_at = now()
		RETURNING created_at, updated_at`

	err = s.db.QueryRow(ctx, query, def.ID, def.Kind, doc).Scan(&def.CreatedAt, &def.UpdatedAt)
	if err != nil {
		return fmt.Errorf("snippetstore: upsert: %w", err)
	}
	return nil
}

// isDuplicateKeyError reports whether err is a PostgreSQL unique-violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
