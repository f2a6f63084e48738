package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/taskbridge/taskbridge/constants"
	"github.com/taskbridge/taskbridge/internal/connector"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS tasks (
    id         TEXT PRIMARY KEY,
    tenant_id  TEXT NOT NULL DEFAULT '',
    task_type  TEXT NOT NULL,
    algorithm  TEXT NOT NULL,
    model_id   TEXT NOT NULL DEFAULT '',
    state      TEXT NOT NULL,
    error      TEXT NOT NULL DEFAULT '',
    remote_job TEXT NOT NULL DEFAULT '{}',
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS models (
    id             TEXT PRIMARY KEY,
    name           TEXT NOT NULL DEFAULT '',
    model_group_id TEXT NOT NULL DEFAULT '',
    algorithm      TEXT NOT NULL,
    connector_id   TEXT NOT NULL DEFAULT '',
    connector      TEXT
);
CREATE TABLE IF NOT EXISTS model_groups (
    id        TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL DEFAULT '',
    owners    TEXT NOT NULL DEFAULT '[]',
    public    INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS connectors (
    id  TEXT PRIMARY KEY,
    doc TEXT NOT NULL
);
`

// SQLiteStore backs Store with an embedded database; the zero-ops option
// for single-node deployments.
type SQLiteStore struct {
	db  *sql.DB
	log *slog.Logger
}

func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// modernc.org/sqlite is not safe for concurrent writers on one conn.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("repository.sqlite.opened", "path", path)
	return &SQLiteStore{db: db, log: logger}, nil
}

func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*TaskRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, task_type, algorithm, model_id, state, error, remote_job, created_at, updated_at
		FROM tasks WHERE id = ?`, id)
	var t TaskRecord
	var taskType, algorithm, state, remoteJob string
	err := row.Scan(&t.ID, &t.TenantID, &taskType, &algorithm, &t.ModelID, &state, &t.Error, &remoteJob, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	t.TaskType = constants.TaskType(taskType)
	t.Algorithm = constants.Algorithm(algorithm)
	t.State = constants.TaskState(state)
	if remoteJob != "" {
		if err := json.Unmarshal([]byte(remoteJob), &t.RemoteJob); err != nil {
			return nil, false, fmt.Errorf("decode remote_job for task %s: %w", id, err)
		}
	}
	return &t, true, nil
}

func (s *SQLiteStore) ListTasks(ctx context.Context, tenantID string, limit int) ([]TaskRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, task_type, algorithm, model_id, state, error, remote_job, created_at, updated_at
		FROM tasks
		WHERE (? = '' OR tenant_id = ?)
		ORDER BY created_at DESC
		LIMIT ?`, tenantID, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			s.log.Warn("repository.sqlite.rows_close_error", "error", err)
		}
	}()

	var out []TaskRecord
	for rows.Next() {
		var t TaskRecord
		var taskType, algorithm, state, remoteJob string
		if err := rows.Scan(&t.ID, &t.TenantID, &taskType, &algorithm, &t.ModelID, &state, &t.Error, &remoteJob, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		t.TaskType = constants.TaskType(taskType)
		t.Algorithm = constants.Algorithm(algorithm)
		t.State = constants.TaskState(state)
		if remoteJob != "" {
			if err := json.Unmarshal([]byte(remoteJob), &t.RemoteJob); err != nil {
				return nil, fmt.Errorf("decode remote_job for task %s: %w", t.ID, err)
			}
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// PartialUpdateTask runs a read-merge-write transaction; sqlite has no jsonb
// concatenation the way postgres does.
func (s *SQLiteStore) PartialUpdateTask(ctx context.Context, id string, fields map[string]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT remote_job FROM tasks WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("task %s not found", id)
	}
	if err != nil {
		return err
	}

	merged := map[string]any{}
	if current != "" {
		if err := json.Unmarshal([]byte(current), &merged); err != nil {
			return fmt.Errorf("decode remote_job for task %s: %w", id, err)
		}
	}

	state := sql.NullString{}
	errField := sql.NullString{}
	remoteChanged := false
	for key, value := range fields {
		switch key {
		case FieldState:
			state = sql.NullString{String: fmt.Sprintf("%v", value), Valid: true}
		case FieldError:
			errField = sql.NullString{String: fmt.Sprintf("%v", value), Valid: true}
		case FieldRemoteJob:
			m, ok := value.(map[string]any)
			if !ok {
				return fmt.Errorf("unsupported value for field %s", key)
			}
			for k, v := range m {
				merged[k] = v
			}
			remoteChanged = true
		default:
			return fmt.Errorf("unknown task field %s", key)
		}
	}

	if remoteChanged {
		raw, err := json.Marshal(merged)
		if err != nil {
			return fmt.Errorf("encode remote_job: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE tasks SET remote_job = ?, updated_at = ? WHERE id = ?`, string(raw), time.Now().UTC(), id); err != nil {
			return err
		}
	}
	if state.Valid {
		if _, err := tx.ExecContext(ctx, `UPDATE tasks SET state = ?, updated_at = ? WHERE id = ?`, state.String, time.Now().UTC(), id); err != nil {
			return err
		}
	}
	if errField.Valid {
		if _, err := tx.ExecContext(ctx, `UPDATE tasks SET error = ?, updated_at = ? WHERE id = ?`, errField.String, time.Now().UTC(), id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetModel(ctx context.Context, id string) (*ModelRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, model_group_id, algorithm, connector_id, connector
		FROM models WHERE id = ?`, id)
	var m ModelRecord
	var algorithm string
	var inline sql.NullString
	err := row.Scan(&m.ID, &m.Name, &m.ModelGroupID, &algorithm, &m.ConnectorID, &inline)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	m.Algorithm = constants.Algorithm(algorithm)
	if inline.Valid && inline.String != "" {
		c, err := connector.ParseDocument([]byte(inline.String))
		if err != nil {
			return nil, false, fmt.Errorf("model %s inline connector: %w", id, err)
		}
		m.Connector = &c
	}
	return &m, true, nil
}

func (s *SQLiteStore) GetConnector(ctx context.Context, id string) (connector.Connector, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT doc FROM connectors WHERE id = ?`, id)
	var doc string
	err := row.Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return connector.Connector{}, false, nil
	}
	if err != nil {
		return connector.Connector{}, false, err
	}
	c, err := connector.ParseDocument([]byte(doc))
	if err != nil {
		return connector.Connector{}, false, fmt.Errorf("connector %s: %w", id, err)
	}
	if c.ID == "" {
		c.ID = id
	}
	return c, true, nil
}

func (s *SQLiteStore) GetModelGroup(ctx context.Context, id string) (*ModelGroupRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, tenant_id, owners, public FROM model_groups WHERE id = ?`, id)
	var g ModelGroupRecord
	var owners string
	err := row.Scan(&g.ID, &g.TenantID, &owners, &g.Public)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if owners != "" {
		if err := json.Unmarshal([]byte(owners), &g.Owners); err != nil {
			return nil, false, fmt.Errorf("decode owners for model group %s: %w", id, err)
		}
	}
	return &g, true, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
