package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/skillrun/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrate applies every migration file not yet recorded in
// schema_migrations, ordered by filename, each in its own transaction.
// Safe to call on every startup.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return wrapStoreError("create schema_migrations", err)
	}

	names, err := fs.Glob(migrationFiles, "migrations/*.sql")
	if err != nil {
		return wrapStoreError("list migrations", err)
	}
	sort.Strings(names)

	for _, name := range names {
		var applied int
		if err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM schema_migrations WHERE filename = ?`, name).Scan(&applied); err != nil {
			return wrapStoreError("check migration", err)
		}
		if applied > 0 {
			continue
		}
		script, err := fs.ReadFile(migrationFiles, name)
		if err != nil {
			return wrapStoreError("read migration", err)
		}
		if err := s.applyMigration(ctx, name, string(script)); err != nil {
			return err
		}
	}
	return nil
}

func (s *LibSQLStore) applyMigration(ctx context.Context, name, script string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapStoreError("begin migration", err)
	}
	defer tx.Rollback()

	for _, stmt := range sqlStatements(script) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "apply %s: %s", name, err.Error()).WithCause(err)
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (filename) VALUES (?)`, name); err != nil {
		return wrapStoreError("record migration", err)
	}
	if err := tx.Commit(); err != nil {
		return wrapStoreError("commit migration", err)
	}
	return nil
}

// sqlStatements drops comment lines from a script and splits what remains
// on semicolons. Good enough for DDL scripts without triggers.
func sqlStatements(script string) []string {
	var kept []string
	for _, line := range strings.Split(script, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		kept = append(kept, line)
	}
	var stmts []string
	for _, part := range strings.Split(strings.Join(kept, "\n"), ";") {
		if s := strings.TrimSpace(part); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}

// --- Execution records ---

func (s *LibSQLStore) CreateExecution(ctx context.Context, rec *schema.SkillExecutionRecord) error {
	inputs, steps, err := marshalRecordParts(rec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO executions (execution_id, skill_name, final_status, inputs, steps, last_error, started_at, completed_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ExecutionID, rec.SkillName, string(rec.FinalStatus),
		inputs, steps, nullStr(rec.LastError),
		timeOrNow(rec.StartedAt), nullZeroTime(rec.CompletedAt), rec.DurationMs,
	)
	if err != nil {
		return wrapStoreError("create execution", err)
	}
	return nil
}

func (s *LibSQLStore) UpdateExecution(ctx context.Context, rec *schema.SkillExecutionRecord) error {
	inputs, steps, err := marshalRecordParts(rec)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE executions SET final_status = ?, inputs = ?, steps = ?, last_error = ?, completed_at = ?, duration_ms = ?
		 WHERE execution_id = ?`,
		string(rec.FinalStatus), inputs, steps, nullStr(rec.LastError),
		nullZeroTime(rec.CompletedAt), rec.DurationMs, rec.ExecutionID,
	)
	if err != nil {
		return wrapStoreError("update execution", err)
	}
	return checkRowsAffected(res, "execution", rec.ExecutionID)
}

func (s *LibSQLStore) GetExecution(ctx context.Context, executionID string) (*schema.SkillExecutionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT execution_id, skill_name, final_status, inputs, steps, last_error, started_at, completed_at, duration_ms
		 FROM executions WHERE execution_id = ?`, executionID)

	rec, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("execution", executionID)
	}
	if err != nil {
		return nil, wrapStoreError("get execution", err)
	}
	return rec, nil
}

func (s *LibSQLStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*schema.SkillExecutionRecord, error) {
	var where []string
	var args []any

	if filter.SkillName != "" {
		where = append(where, "skill_name = ?")
		args = append(args, filter.SkillName)
	}
	if filter.Status != "" {
		where = append(where, "final_status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Since != nil {
		where = append(where, "started_at >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT execution_id, skill_name, final_status, inputs, steps, last_error, started_at, completed_at, duration_ms FROM executions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapStoreError("list executions", err)
	}
	defer rows.Close()

	var records []*schema.SkillExecutionRecord
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, wrapStoreError("scan execution", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// PruneExecutions keeps the most recent `keep` records per skill and deletes
// older ones along with their events.
func (s *LibSQLStore) PruneExecutions(ctx context.Context, keep int) (int, error) {
	if keep < 0 {
		return 0, schema.NewError(schema.ErrCodeValidation, "keep must be non-negative")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, wrapStoreError("begin prune", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT execution_id FROM (
			SELECT execution_id,
			       ROW_NUMBER() OVER (PARTITION BY skill_name ORDER BY started_at DESC) AS rn
			FROM executions
		) WHERE rn > ?`, keep)
	if err != nil {
		return 0, wrapStoreError("select prune candidates", err)
	}

	var doomed []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, wrapStoreError("scan prune candidate", err)
		}
		doomed = append(doomed, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, wrapStoreError("iterate prune candidates", err)
	}

	for _, id := range doomed {
		if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE execution_id = ?`, id); err != nil {
			return 0, wrapStoreError("prune events", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM executions WHERE execution_id = ?`, id); err != nil {
			return 0, wrapStoreError("prune execution", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, wrapStoreError("commit prune", err)
	}
	return len(doomed), nil
}

// --- Event log ---

// AppendEvent appends an event with a monotonically increasing per-execution
// sequence. The sequence read and insert run in one transaction so
// concurrent appenders cannot interleave.
func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapStoreError("begin append event", err)
	}
	defer tx.Rollback()

	// Force write-lock acquisition up front with a no-op write. In WAL
	// mode BeginTx alone starts a deferred transaction.
	if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE id = -1`); err != nil {
		return wrapStoreError("acquire write lock", err)
	}

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE execution_id = ?`, event.ExecutionID,
	).Scan(&seq)
	if err != nil {
		return wrapStoreError("get next sequence", err)
	}
	event.Sequence = seq

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (execution_id, skill_name, step_name, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ExecutionID, event.SkillName, nullStr(event.StepName), event.Type,
		nullRaw(event.Payload), event.Timestamp, seq,
	)
	if err != nil {
		return wrapStoreError("insert event", err)
	}

	if err := tx.Commit(); err != nil {
		return wrapStoreError("commit event", err)
	}
	return nil
}

// GetEvents returns events for an execution with sequence > since, ordered
// by sequence ASC.
func (s *LibSQLStore) GetEvents(ctx context.Context, executionID string, since int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, execution_id, skill_name, step_name, event_type, payload, timestamp, sequence
		 FROM events WHERE execution_id = ? AND sequence > ? ORDER BY sequence ASC`,
		executionID, since)
	if err != nil {
		return nil, wrapStoreError("get events", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		var stepName, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.ExecutionID, &e.SkillName, &stepName, &e.Type, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, wrapStoreError("scan event", err)
		}
		e.StepName = stepName.String
		e.Payload = rawOrNil(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*schema.SkillExecutionRecord, error) {
	rec := &schema.SkillExecutionRecord{}
	var (
		status               string
		inputsJSON, lastErr  sql.NullString
		stepsJSON            string
		completedAt          sql.NullTime
	)
	err := row.Scan(&rec.ExecutionID, &rec.SkillName, &status, &inputsJSON, &stepsJSON,
		&lastErr, &rec.StartedAt, &completedAt, &rec.DurationMs)
	if err != nil {
		return nil, err
	}

	rec.FinalStatus = schema.ExecutionStatus(status)
	rec.LastError = lastErr.String
	if completedAt.Valid {
		rec.CompletedAt = completedAt.Time
	}
	if inputsJSON.Valid && inputsJSON.String != "" {
		if err := json.Unmarshal([]byte(inputsJSON.String), &rec.Inputs); err != nil {
			return nil, fmt.Errorf("unmarshal inputs: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(stepsJSON), &rec.Steps); err != nil {
		return nil, fmt.Errorf("unmarshal steps: %w", err)
	}
	return rec, nil
}

func marshalRecordParts(rec *schema.SkillExecutionRecord) (any, string, error) {
	var inputs any
	if len(rec.Inputs) > 0 {
		b, err := json.Marshal(rec.Inputs)
		if err != nil {
			return nil, "", fmt.Errorf("marshal inputs: %w", err)
		}
		inputs = string(b)
	}

	steps := rec.Steps
	if steps == nil {
		steps = []schema.StepResult{}
	}
	b, err := json.Marshal(steps)
	if err != nil {
		return nil, "", fmt.Errorf("marshal steps: %w", err)
	}
	return inputs, string(b), nil
}

func storeNotFound(resource, id string) *schema.SkillError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func wrapStoreError(op string, err error) error {
	return schema.NewErrorf(schema.ErrCodeStore, "%s: %s", op, err.Error()).WithCause(err)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullZeroTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

var _ Store = (*LibSQLStore)(nil)
