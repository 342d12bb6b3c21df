package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaSQL = `
	CREATE TABLE IF NOT EXISTS documents (
		path        TEXT PRIMARY KEY,
		parent      TEXT NOT NULL,
		collection  TEXT NOT NULL,
		data        JSONB NOT NULL,
		update_time TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS documents_parent_collection_idx ON documents (parent, collection);
`

// PostgresStore keeps every document as a JSONB row.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a store on an open pool.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the documents table if needed.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to migrate documents table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, path string, _ ...GetOption) (*Snapshot, error) {
	_, _, id, err := splitPath(path)
	if err != nil {
		return nil, err
	}

	query := `SELECT data, update_time FROM documents WHERE path = $1`
	var raw []byte
	var updateTime time.Time
	err = s.db.QueryRow(ctx, query, path).Scan(&raw, &updateTime)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to get document %s: %w", path, err)
	}

	data, err := decodeData(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode document %s: %w", path, err)
	}
	return &Snapshot{Path: path, ID: id, Data: data, UpdateTime: updateTime}, nil
}

func (s *PostgresStore) Query(ctx context.Context, q Query) ([]*Snapshot, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString(`SELECT path, data, update_time FROM documents WHERE parent = $1 AND collection = $2`)
	args := []any{q.Parent, q.Collection}
	for _, f := range q.Filters {
		args = append(args, f.Field)
		fieldArg := len(args)
		switch f.Op {
		case OpEqual:
			args = append(args, f.Value)
			fmt.Fprintf(&sb, ` AND data->>$%d::text = $%d::text`, fieldArg, len(args))
		case OpIn:
			args = append(args, f.Values)
			fmt.Fprintf(&sb, ` AND data->>$%d::text = ANY($%d::text[])`, fieldArg, len(args))
		}
	}
	if q.OrderBy != "" {
		args = append(args, q.OrderBy)
		direction := "ASC"
		if q.Desc {
			direction = "DESC"
		}
		fmt.Fprintf(&sb, ` ORDER BY data->$%d::text %s, path`, len(args), direction)
	} else {
		sb.WriteString(` ORDER BY path`)
	}

	rows, err := s.db.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", q.Collection, err)
	}
	defer rows.Close()

	var out []*Snapshot
	for rows.Next() {
		var path string
		var raw []byte
		var updateTime time.Time
		if err := rows.Scan(&path, &raw, &updateTime); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		data, err := decodeData(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to decode document %s: %w", path, err)
		}
		_, _, id, _ := splitPath(path)
		out = append(out, &Snapshot{Path: path, ID: id, Data: data, UpdateTime: updateTime})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating documents: %w", err)
	}
	return out, nil
}

// Commit applies the batch inside one transaction. Touched rows are locked in
// path order so concurrent batches cannot deadlock.
func (s *PostgresStore) Commit(ctx context.Context, b *Batch) error {
	if err := b.validate(); err != nil {
		return err
	}
	if b.Len() == 0 {
		return nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var now time.Time
	if err := tx.QueryRow(ctx, `SELECT now()`).Scan(&now); err != nil {
		return fmt.Errorf("failed to read server time: %w", err)
	}

	paths := b.Paths()
	sort.Strings(paths)
	current := make(map[string]map[string]any, len(paths))
	rows, err := tx.Query(ctx, `SELECT path, data FROM documents WHERE path = ANY($1::text[]) ORDER BY path FOR UPDATE`, paths)
	if err != nil {
		return fmt.Errorf("failed to lock documents: %w", err)
	}
	for rows.Next() {
		var path string
		var raw []byte
		if err := rows.Scan(&path, &raw); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan locked document: %w", err)
		}
		data, err := decodeData(raw)
		if err != nil {
			rows.Close()
			return fmt.Errorf("failed to decode document %s: %w", path, err)
		}
		current[path] = data
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating locked documents: %w", err)
	}

	for _, op := range b.ops {
		next, err := applyOp(current[op.Path], op, now)
		if err != nil {
			return err
		}
		current[op.Path] = next
	}

	for _, path := range paths {
		data := current[path]
		if data == nil {
			if _, err := tx.Exec(ctx, `DELETE FROM documents WHERE path = $1`, path); err != nil {
				return fmt.Errorf("failed to delete document %s: %w", path, err)
			}
			continue
		}
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to encode document %s: %w", path, err)
		}
		parent, collection, _, _ := splitPath(path)
		query := `
			INSERT INTO documents (path, parent, collection, data, update_time)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (path) DO UPDATE SET data = EXCLUDED.data, update_time = EXCLUDED.update_time
		`
		if _, err := tx.Exec(ctx, query, path, parent, collection, raw, now); err != nil {
			return fmt.Errorf("failed to write document %s: %w", path, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

func decodeData(raw []byte) (map[string]any, error) {
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return data, nil
}
