package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rynzz22/digital.talibon/model"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS records (
	kind                 TEXT        NOT NULL,
	id                   TEXT        NOT NULL,
	stage                TEXT        NOT NULL,
	custodian_department TEXT        NOT NULL,
	custodian_holder     TEXT        NOT NULL DEFAULT '',
	attributes           JSONB       NOT NULL DEFAULT '{}'::jsonb,
	version              INTEGER     NOT NULL,
	created_at           TIMESTAMPTZ NOT NULL,
	updated_at           TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (kind, id)
);
CREATE INDEX IF NOT EXISTS records_worklist_idx ON records (kind, custodian_department, stage);
CREATE TABLE IF NOT EXISTS record_history (
	kind             TEXT        NOT NULL,
	record_id        TEXT        NOT NULL,
	seq              INTEGER     NOT NULL,
	entry_id         TEXT        NOT NULL,
	stage            TEXT        NOT NULL,
	from_stage       TEXT        NOT NULL DEFAULT '',
	action           TEXT        NOT NULL,
	actor_id         TEXT        NOT NULL,
	actor_name       TEXT        NOT NULL,
	actor_role       TEXT        NOT NULL,
	actor_department TEXT        NOT NULL,
	actor_job_level  TEXT        NOT NULL DEFAULT '',
	notes            TEXT        NOT NULL DEFAULT '',
	recorded_at      TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (kind, record_id, seq),
	FOREIGN KEY (kind, record_id) REFERENCES records (kind, id)
);`

const pgInsertEntry = `
	INSERT INTO record_history (
		kind, record_id, seq, entry_id, stage, from_stage, action,
		actor_id, actor_name, actor_role, actor_department, actor_job_level,
		notes, recorded_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

// pgQuerier is the subset of pgx shared by pools and transactions.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgRepository is a PostgreSQL-backed Repository using pgx/v5. Each commit
// runs the versioned update and the history insert in one transaction.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewPgRepository creates a new PostgreSQL repository.
func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Migrate creates the tables if they do not exist.
func (s *PgRepository) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, pgSchema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Create inserts a record and its initial history.
func (s *PgRepository) Create(ctx context.Context, rec model.Record) error {
	attrs, err := json.Marshal(rec.Attributes)
	if err != nil {
		return fmt.Errorf("marshal attributes: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx, `
		INSERT INTO records (
			kind, id, stage, custodian_department, custodian_holder,
			attributes, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (kind, id) DO NOTHING`,
		rec.Kind, rec.ID, rec.Stage, rec.Custodian.Department, rec.Custodian.HolderID,
		attrs, rec.Version, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError(fmt.Sprintf("%s %q already exists", rec.Kind, rec.ID))
	}

	for _, e := range rec.History {
		if err := insertPgEntry(ctx, tx, rec.Kind, rec.ID, e); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Get loads the record and its history from a single read-only snapshot.
func (s *PgRepository) Get(ctx context.Context, kind model.Kind, id string) (model.Record, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return model.Record{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	rec, err := scanPgRecord(tx.QueryRow(ctx, `
		SELECT kind, id, stage, custodian_department, custodian_holder,
		       attributes, version, created_at, updated_at
		FROM records
		WHERE kind = $1 AND id = $2`,
		kind, id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Record{}, model.NewNotFoundError(fmt.Sprintf("%s %q not found", kind, id))
	}
	if err != nil {
		return model.Record{}, fmt.Errorf("query record: %w", err)
	}

	rec.History, err = queryPgHistory(ctx, tx, kind, id)
	if err != nil {
		return model.Record{}, err
	}
	return rec, nil
}

// Commit applies c with optimistic locking on the version column.
func (s *PgRepository) Commit(ctx context.Context, c Commit) error {
	attrs, err := json.Marshal(c.Attributes)
	if err != nil {
		return fmt.Errorf("marshal attributes: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx, `
		UPDATE records
		SET stage = $1, custodian_department = $2, custodian_holder = $3,
		    attributes = $4, version = version + 1, updated_at = $5
		WHERE kind = $6 AND id = $7 AND version = $8`,
		c.Stage, c.Custodian.Department, c.Custodian.HolderID,
		attrs, c.UpdatedAt, c.Kind, c.ID, c.ExpectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}

	if tag.RowsAffected() == 0 {
		var current int
		err := tx.QueryRow(ctx, `SELECT version FROM records WHERE kind = $1 AND id = $2`, c.Kind, c.ID).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return model.NewNotFoundError(fmt.Sprintf("%s %q not found", c.Kind, c.ID))
		}
		if err != nil {
			return fmt.Errorf("check version: %w", err)
		}
		return model.NewVersionConflictError(c.ID, c.ExpectedVersion, current)
	}

	if err := insertPgEntry(ctx, tx, c.Kind, c.ID, c.Entry); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// History returns the record's audit entries ordered by sequence.
func (s *PgRepository) History(ctx context.Context, kind model.Kind, id string) ([]model.AuditEntry, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM records WHERE kind = $1 AND id = $2)`, kind, id,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check record: %w", err)
	}
	if !exists {
		return nil, model.NewNotFoundError(fmt.Sprintf("%s %q not found", kind, id))
	}
	return queryPgHistory(ctx, s.pool, kind, id)
}

// List returns matching records ordered by creation time.
func (s *PgRepository) List(ctx context.Context, filter Filter) ([]model.Record, error) {
	query := `
		SELECT kind, id, stage, custodian_department, custodian_holder,
		       attributes, version, created_at, updated_at
		FROM records
		WHERE ($1 = '' OR kind = $1)
		  AND ($2 = '' OR custodian_department = $2)
		  AND (cardinality($3::text[]) = 0 OR stage = ANY($3))
		ORDER BY created_at, id
		LIMIT $4 OFFSET $5`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	stages := make([]string, len(filter.Stages))
	for i, st := range filter.Stages {
		stages[i] = string(st)
	}

	rows, err := s.pool.Query(ctx, query, string(filter.Kind), string(filter.Department), stages, limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []model.Record
	for rows.Next() {
		rec, err := scanPgRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

// HealthCheck pings the database.
func (s *PgRepository) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func scanPgRecord(row pgx.Row) (model.Record, error) {
	var rec model.Record
	var attrs []byte
	err := row.Scan(
		&rec.Kind, &rec.ID, &rec.Stage, &rec.Custodian.Department, &rec.Custodian.HolderID,
		&attrs, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return model.Record{}, err
	}
	rec.Attributes = map[string]any{}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &rec.Attributes); err != nil {
			return model.Record{}, fmt.Errorf("unmarshal attributes: %w", err)
		}
	}
	return rec, nil
}

func queryPgHistory(ctx context.Context, q pgQuerier, kind model.Kind, id string) ([]model.AuditEntry, error) {
	rows, err := q.Query(ctx, `
		SELECT seq, entry_id, stage, from_stage, action,
		       actor_id, actor_name, actor_role, actor_department, actor_job_level,
		       notes, recorded_at
		FROM record_history
		WHERE kind = $1 AND record_id = $2
		ORDER BY seq`,
		kind, id,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		if err := rows.Scan(
			&e.Seq, &e.ID, &e.Stage, &e.FromStage, &e.Action,
			&e.Actor.ID, &e.Actor.Name, &e.Actor.Role, &e.Actor.Department, &e.Actor.JobLevel,
			&e.Notes, &e.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		e.Timestamp = e.Timestamp.UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return entries, nil
}

func insertPgEntry(ctx context.Context, q pgQuerier, kind model.Kind, id string, e model.AuditEntry) error {
	_, err := q.Exec(ctx, pgInsertEntry,
		kind, id, e.Seq, e.ID, e.Stage, e.FromStage, e.Action,
		e.Actor.ID, e.Actor.Name, e.Actor.Role, e.Actor.Department, e.Actor.JobLevel,
		e.Notes, e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert history entry: %w", err)
	}
	return nil
}
