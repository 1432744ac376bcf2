package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rynzz22/digital.talibon/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS records (
	kind                 TEXT    NOT NULL,
	id                   TEXT    NOT NULL,
	stage                TEXT    NOT NULL,
	custodian_department TEXT    NOT NULL,
	custodian_holder     TEXT    NOT NULL DEFAULT '',
	attributes           TEXT    NOT NULL DEFAULT '{}',
	version              INTEGER NOT NULL,
	created_at           INTEGER NOT NULL,
	updated_at           INTEGER NOT NULL,
	PRIMARY KEY (kind, id)
);
CREATE INDEX IF NOT EXISTS records_worklist_idx ON records (kind, custodian_department, stage);
CREATE TABLE IF NOT EXISTS record_history (
	kind             TEXT    NOT NULL,
	record_id        TEXT    NOT NULL,
	seq              INTEGER NOT NULL,
	entry_id         TEXT    NOT NULL,
	stage            TEXT    NOT NULL,
	from_stage       TEXT    NOT NULL DEFAULT '',
	action           TEXT    NOT NULL,
	actor_id         TEXT    NOT NULL,
	actor_name       TEXT    NOT NULL,
	actor_role       TEXT    NOT NULL,
	actor_department TEXT    NOT NULL,
	actor_job_level  TEXT    NOT NULL DEFAULT '',
	notes            TEXT    NOT NULL DEFAULT '',
	recorded_at      INTEGER NOT NULL,
	PRIMARY KEY (kind, record_id, seq)
);`

// SQLiteRepository is an embedded Repository on database/sql with the
// modernc.org/sqlite driver. Timestamps are stored as Unix nanoseconds.
type SQLiteRepository struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and migrates it.
func OpenSQLite(ctx context.Context, path string) (*SQLiteRepository, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	s := NewSQLiteRepository(db)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteRepository wraps an open database. Call Migrate before use.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Migrate creates the tables if they do not exist.
func (s *SQLiteRepository) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteRepository) Close() error {
	return s.db.Close()
}

// Create inserts a record and its initial history.
func (s *SQLiteRepository) Create(ctx context.Context, rec model.Record) error {
	attrs, err := json.Marshal(rec.Attributes)
	if err != nil {
		return fmt.Errorf("marshal attributes: %w", err)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO records (
				kind, id, stage, custodian_department, custodian_holder,
				attributes, version, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			string(rec.Kind), rec.ID, string(rec.Stage), string(rec.Custodian.Department), rec.Custodian.HolderID,
			string(attrs), rec.Version, rec.CreatedAt.UnixNano(), rec.UpdatedAt.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("insert record: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return model.NewConflictError(fmt.Sprintf("%s %q already exists", rec.Kind, rec.ID))
		}
		for _, e := range rec.History {
			if err := insertSQLiteEntry(ctx, tx, rec.Kind, rec.ID, e); err != nil {
				return err
			}
		}
		return nil
	})
}

// Get loads the record and its history inside one transaction.
func (s *SQLiteRepository) Get(ctx context.Context, kind model.Kind, id string) (model.Record, error) {
	var rec model.Record
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		rec, err = scanSQLiteRecord(tx.QueryRowContext(ctx, `
			SELECT kind, id, stage, custodian_department, custodian_holder,
			       attributes, version, created_at, updated_at
			FROM records
			WHERE kind = ? AND id = ?`,
			string(kind), id,
		))
		if errors.Is(err, sql.ErrNoRows) {
			return model.NewNotFoundError(fmt.Sprintf("%s %q not found", kind, id))
		}
		if err != nil {
			return fmt.Errorf("query record: %w", err)
		}
		rec.History, err = querySQLiteHistory(ctx, tx, kind, id)
		return err
	})
	if err != nil {
		return model.Record{}, err
	}
	return rec, nil
}

// Commit applies c with optimistic locking on the version column.
func (s *SQLiteRepository) Commit(ctx context.Context, c Commit) error {
	attrs, err := json.Marshal(c.Attributes)
	if err != nil {
		return fmt.Errorf("marshal attributes: %w", err)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE records
			SET stage = ?, custodian_department = ?, custodian_holder = ?,
			    attributes = ?, version = version + 1, updated_at = ?
			WHERE kind = ? AND id = ? AND version = ?`,
			string(c.Stage), string(c.Custodian.Department), c.Custodian.HolderID,
			string(attrs), c.UpdatedAt.UnixNano(), string(c.Kind), c.ID, c.ExpectedVersion,
		)
		if err != nil {
			return fmt.Errorf("update record: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			var current int
			err := tx.QueryRowContext(ctx,
				`SELECT version FROM records WHERE kind = ? AND id = ?`, string(c.Kind), c.ID,
			).Scan(&current)
			if errors.Is(err, sql.ErrNoRows) {
				return model.NewNotFoundError(fmt.Sprintf("%s %q not found", c.Kind, c.ID))
			}
			if err != nil {
				return fmt.Errorf("check version: %w", err)
			}
			return model.NewVersionConflictError(c.ID, c.ExpectedVersion, current)
		}
		return insertSQLiteEntry(ctx, tx, c.Kind, c.ID, c.Entry)
	})
}

// History returns the record's audit entries ordered by sequence.
func (s *SQLiteRepository) History(ctx context.Context, kind model.Kind, id string) ([]model.AuditEntry, error) {
	var entries []model.AuditEntry
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var one int
		err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM records WHERE kind = ? AND id = ?`, string(kind), id,
		).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return model.NewNotFoundError(fmt.Sprintf("%s %q not found", kind, id))
		}
		if err != nil {
			return fmt.Errorf("check record: %w", err)
		}
		entries, err = querySQLiteHistory(ctx, tx, kind, id)
		return err
	})
	return entries, err
}

// List returns matching records ordered by creation time.
func (s *SQLiteRepository) List(ctx context.Context, filter Filter) ([]model.Record, error) {
	var (
		where []string
		args  []any
	)
	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	if filter.Department != "" {
		where = append(where, "custodian_department = ?")
		args = append(args, string(filter.Department))
	}
	if len(filter.Stages) > 0 {
		marks := make([]string, len(filter.Stages))
		for i, st := range filter.Stages {
			marks[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "stage IN ("+strings.Join(marks, ", ")+")")
	}

	query := `SELECT kind, id, stage, custodian_department, custodian_holder,
	       attributes, version, created_at, updated_at FROM records`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id LIMIT ? OFFSET ?"

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []model.Record
	for rows.Next() {
		rec, err := scanSQLiteRecord(rows)
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
func (s *SQLiteRepository) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// withTx runs fn in a transaction, rolling back on error or panic.
func (s *SQLiteRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRecord(row rowScanner) (model.Record, error) {
	var (
		rec                  model.Record
		kind, stage, dept    string
		attrs                string
		createdAt, updatedAt int64
	)
	err := row.Scan(&kind, &rec.ID, &stage, &dept, &rec.Custodian.HolderID,
		&attrs, &rec.Version, &createdAt, &updatedAt)
	if err != nil {
		return model.Record{}, err
	}
	rec.Kind = model.Kind(kind)
	rec.Stage = model.Stage(stage)
	rec.Custodian.Department = model.Department(dept)
	rec.CreatedAt = time.Unix(0, createdAt).UTC()
	rec.UpdatedAt = time.Unix(0, updatedAt).UTC()
	rec.Attributes = map[string]any{}
	if attrs != "" {
		if err := json.Unmarshal([]byte(attrs), &rec.Attributes); err != nil {
			return model.Record{}, fmt.Errorf("unmarshal attributes: %w", err)
		}
	}
	return rec, nil
}

func querySQLiteHistory(ctx context.Context, tx *sql.Tx, kind model.Kind, id string) ([]model.AuditEntry, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT seq, entry_id, stage, from_stage, action,
		       actor_id, actor_name, actor_role, actor_department, actor_job_level,
		       notes, recorded_at
		FROM record_history
		WHERE kind = ? AND record_id = ?
		ORDER BY seq`,
		string(kind), id,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []model.AuditEntry
	for rows.Next() {
		var (
			e                   model.AuditEntry
			stage, from, action string
			role, dept, level   string
			recordedAt          int64
		)
		if err := rows.Scan(&e.Seq, &e.ID, &stage, &from, &action,
			&e.Actor.ID, &e.Actor.Name, &role, &dept, &level,
			&e.Notes, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		e.Stage = model.Stage(stage)
		e.FromStage = model.Stage(from)
		e.Action = model.AuditAction(action)
		e.Actor.Role = model.Role(role)
		e.Actor.Department = model.Department(dept)
		e.Actor.JobLevel = model.JobLevel(level)
		e.Timestamp = time.Unix(0, recordedAt).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return entries, nil
}

func insertSQLiteEntry(ctx context.Context, tx *sql.Tx, kind model.Kind, id string, e model.AuditEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO record_history (
			kind, record_id, seq, entry_id, stage, from_stage, action,
			actor_id, actor_name, actor_role, actor_department, actor_job_level,
			notes, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(kind), id, e.Seq, e.ID, string(e.Stage), string(e.FromStage), string(e.Action),
		e.Actor.ID, e.Actor.Name, string(e.Actor.Role), string(e.Actor.Department), string(e.Actor.JobLevel),
		e.Notes, e.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert history entry: %w", err)
	}
	return nil
}
