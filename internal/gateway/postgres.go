package gateway

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"chargehub/internal/apperr"
)

// Postgres is the production Store backed by a single jsonb documents table.
// Conditional writes are expressed as guarded UPDATE/INSERT statements, so the
// compare-and-swap happens inside the database, not in application code.
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an existing connection pool.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Migrate creates the records table and the expression indexes backing
// QueryIndex. Idempotent.
func (p *Postgres) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS records (
			kind text NOT NULL,
			pk   text NOT NULL,
			sk   text NOT NULL,
			doc  jsonb NOT NULL,
			PRIMARY KEY (kind, pk, sk)
		)`,
		`CREATE INDEX IF NOT EXISTS records_status_idx ON records (kind, (doc->>'status'))`,
		`CREATE INDEX IF NOT EXISTS records_user_idx ON records (kind, (doc->>'userId'))`,
		`CREATE INDEX IF NOT EXISTS records_email_idx ON records (kind, (doc->>'email'))`,
		`CREATE INDEX IF NOT EXISTS records_level_idx ON records (kind, (doc->>'level'))`,
	}
	for _, stmt := range stmts {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return apperr.Unavailable("records.migrate", err)
		}
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, kind Kind, key Key) (json.RawMessage, error) {
	const query = `SELECT doc FROM records WHERE kind = $1 AND pk = $2 AND sk = $3`
	var doc []byte
	err := p.db.QueryRowContext(ctx, query, kind, key.PK, key.SK).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, apperr.Unavailable("records.get", err)
	}
	return doc, nil
}

func (p *Postgres) Put(ctx context.Context, kind Kind, key Key, doc any, ifAbsent bool) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("gateway: encode document: %w", err)
	}

	if ifAbsent {
		const query = `
			INSERT INTO records (kind, pk, sk, doc)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (kind, pk, sk) DO NOTHING
		`
		res, err := p.db.ExecContext(ctx, query, kind, key.PK, key.SK, data)
		if err != nil {
			return apperr.Unavailable("records.put", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return apperr.Unavailable("records.put", err)
		}
		if affected == 0 {
			return ErrPreconditionFailed
		}
		return nil
	}

	const query = `
		INSERT INTO records (kind, pk, sk, doc)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (kind, pk, sk) DO UPDATE SET doc = EXCLUDED.doc
	`
	if _, err := p.db.ExecContext(ctx, query, kind, key.PK, key.SK, data); err != nil {
		return apperr.Unavailable("records.put", err)
	}
	return nil
}

func (p *Postgres) Update(ctx context.Context, kind Kind, key Key, set map[string]any, pre *Precondition) (json.RawMessage, error) {
	patch, err := json.Marshal(set)
	if err != nil {
		return nil, fmt.Errorf("gateway: encode patch: %w", err)
	}

	var (
		doc   []byte
		scanE error
	)
	if pre != nil {
		const query = `
			UPDATE records SET doc = doc || $4::jsonb
			WHERE kind = $1 AND pk = $2 AND sk = $3 AND doc->>$5 = $6
			RETURNING doc
		`
		scanE = p.db.QueryRowContext(ctx, query, kind, key.PK, key.SK, patch, pre.Attr, pre.Equals).Scan(&doc)
	} else {
		const query = `
			UPDATE records SET doc = doc || $4::jsonb
			WHERE kind = $1 AND pk = $2 AND sk = $3
			RETURNING doc
		`
		scanE = p.db.QueryRowContext(ctx, query, kind, key.PK, key.SK, patch).Scan(&doc)
	}

	if errors.Is(scanE, sql.ErrNoRows) {
		// Either the record is missing or the precondition lost the race.
		if _, getErr := p.Get(ctx, kind, key); getErr != nil {
			return nil, getErr
		}
		return nil, ErrPreconditionFailed
	}
	if scanE != nil {
		return nil, apperr.Unavailable("records.update", scanE)
	}
	return doc, nil
}

func (p *Postgres) QueryPrefix(ctx context.Context, kind Kind, pk, skPrefix string) ([]Item, error) {
	const query = `
		SELECT pk, sk, doc FROM records
		WHERE kind = $1 AND pk = $2 AND sk LIKE $3 || '%'
		ORDER BY sk
	`
	rows, err := p.db.QueryContext(ctx, query, kind, pk, skPrefix)
	if err != nil {
		return nil, apperr.Unavailable("records.query", err)
	}
	return collectItems(rows, "records.query")
}

func (p *Postgres) QueryIndex(ctx context.Context, kind Kind, q Query) ([]Item, error) {
	order := "ASC"
	if q.Descending {
		order = "DESC"
	}
	query := fmt.Sprintf(`
		SELECT pk, sk, doc FROM records
		WHERE kind = $1 AND doc->>$2 = $3
		ORDER BY COALESCE(doc->>'createdAt', doc->>'timestamp', sk) %s
	`, order)
	rows, err := p.db.QueryContext(ctx, query, kind, q.Attr, q.Value)
	if err != nil {
		return nil, apperr.Unavailable("records.query_index", err)
	}
	return collectItems(rows, "records.query_index")
}

func (p *Postgres) Scan(ctx context.Context, kind Kind, filter *Query) ([]Item, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if filter != nil {
		const query = `
			SELECT pk, sk, doc FROM records
			WHERE kind = $1 AND doc->>$2 = $3
			ORDER BY pk, sk
		`
		rows, err = p.db.QueryContext(ctx, query, kind, filter.Attr, filter.Value)
	} else {
		const query = `SELECT pk, sk, doc FROM records WHERE kind = $1 ORDER BY pk, sk`
		rows, err = p.db.QueryContext(ctx, query, kind)
	}
	if err != nil {
		return nil, apperr.Unavailable("records.scan", err)
	}
	return collectItems(rows, "records.scan")
}

func (p *Postgres) Delete(ctx context.Context, kind Kind, key Key) error {
	const query = `DELETE FROM records WHERE kind = $1 AND pk = $2 AND sk = $3`
	if _, err := p.db.ExecContext(ctx, query, kind, key.PK, key.SK); err != nil {
		return apperr.Unavailable("records.delete", err)
	}
	return nil
}

func collectItems(rows *sql.Rows, op string) ([]Item, error) {
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var (
			it  Item
			doc []byte
		)
		if err := rows.Scan(&it.Key.PK, &it.Key.SK, &doc); err != nil {
			return nil, apperr.Unavailable(op, err)
		}
		it.Doc = doc
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Unavailable(op, err)
	}
	return items, nil
}
