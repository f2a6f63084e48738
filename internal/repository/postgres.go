package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskbridge/taskbridge/db/migrations"
	"github.com/taskbridge/taskbridge/internal/common"
	"github.com/taskbridge/taskbridge/internal/connector"
)

// PostgresStore backs Store with a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// OpenPostgres creates a pgx pool, applies the embedded schema, and returns
// the store.
func OpenPostgres(ctx context.Context, cfg common.StoreConfig, logger *slog.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("repository.postgres.connecting")
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		logger.Error("repository.postgres.parse_config_failed", "error", err)
		return nil, err
	}
	pc.MaxConns = cfg.MaxConns
	pc.MinConns = cfg.MinConns
	pc.MaxConnLifetime = cfg.MaxConnLifetime
	pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	pc.ConnConfig.RuntimeParams["application_name"] = "taskbridge"
	if cfg.StatementTimeout > 0 {
		pc.ConnConfig.RuntimeParams["statement_timeout"] = cfg.StatementTimeout.String()
	}

	dialCtx := ctx
	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	pool, err := pgxpool.NewWithConfig(dialCtx, pc)
	if err != nil {
		logger.Error("repository.postgres.connect_failed", "error", err)
		return nil, err
	}

	store := &PostgresStore{pool: pool, log: logger}
	if err := store.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("repository.postgres.connected")
	return store, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	entries, err := fs.ReadDir(migrations.FS, ".")
	if err != nil {
		return err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		raw, err := migrations.FS.ReadFile(name)
		if err != nil {
			return err
		}
		if _, err := s.pool.Exec(ctx, string(raw)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
	}
	return nil
}

// HealthCheck pings the pool to catch DSN issues early.
func (s *PostgresStore) HealthCheck(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) GetTask(ctx context.Context, id string) (*TaskRecord, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, task_type, algorithm, model_id, state, error, remote_job, created_at, updated_at
		FROM tasks WHERE id = $1`, id)
	var t TaskRecord
	var remoteJob []byte
	err := row.Scan(&t.ID, &t.TenantID, &t.TaskType, &t.Algorithm, &t.ModelID, &t.State, &t.Error, &remoteJob, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if len(remoteJob) > 0 {
		if err := json.Unmarshal(remoteJob, &t.RemoteJob); err != nil {
			return nil, false, fmt.Errorf("decode remote_job for task %s: %w", id, err)
		}
	}
	return &t, true, nil
}

func (s *PostgresStore) ListTasks(ctx context.Context, tenantID string, limit int) ([]TaskRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, task_type, algorithm, model_id, state, error, remote_job, created_at, updated_at
		FROM tasks
		WHERE ($1 = '' OR tenant_id = $1)
		ORDER BY created_at DESC
		LIMIT $2`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TaskRecord
	for rows.Next() {
		var t TaskRecord
		var remoteJob []byte
		if err := rows.Scan(&t.ID, &t.TenantID, &t.TaskType, &t.Algorithm, &t.ModelID, &t.State, &t.Error, &remoteJob, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		if len(remoteJob) > 0 {
			if err := json.Unmarshal(remoteJob, &t.RemoteJob); err != nil {
				return nil, fmt.Errorf("decode remote_job for task %s: %w", t.ID, err)
			}
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// PartialUpdateTask merges remote_job via jsonb concatenation so concurrent
// updates keep each other's keys; state and error overwrite.
func (s *PostgresStore) PartialUpdateTask(ctx context.Context, id string, fields map[string]any) error {
	sets := []string{"updated_at = now()"}
	args := []any{id}
	for key, value := range fields {
		switch key {
		case FieldState:
			args = append(args, fmt.Sprintf("%v", value))
			sets = append(sets, fmt.Sprintf("state = $%d", len(args)))
		case FieldError:
			args = append(args, fmt.Sprintf("%v", value))
			sets = append(sets, fmt.Sprintf("error = $%d", len(args)))
		case FieldRemoteJob:
			raw, err := json.Marshal(value)
			if err != nil {
				return fmt.Errorf("encode remote_job: %w", err)
			}
			args = append(args, raw)
			sets = append(sets, fmt.Sprintf("remote_job = remote_job || $%d::jsonb", len(args)))
		default:
			return fmt.Errorf("unknown task field %s", key)
		}
	}
	tag, err := s.pool.Exec(ctx, "UPDATE tasks SET "+strings.Join(sets, ", ")+" WHERE id = $1", args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("task %s not found", id)
	}
	return nil
}

func (s *PostgresStore) GetModel(ctx context.Context, id string) (*ModelRecord, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, model_group_id, algorithm, connector_id, connector
		FROM models WHERE id = $1`, id)
	var m ModelRecord
	var inline []byte
	err := row.Scan(&m.ID, &m.Name, &m.ModelGroupID, &m.Algorithm, &m.ConnectorID, &inline)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if len(inline) > 0 {
		c, err := connector.ParseDocument(inline)
		if err != nil {
			return nil, false, fmt.Errorf("model %s inline connector: %w", id, err)
		}
		m.Connector = &c
	}
	return &m, true, nil
}

func (s *PostgresStore) GetConnector(ctx context.Context, id string) (connector.Connector, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT doc FROM connectors WHERE id = $1`, id)
	var doc []byte
	err := row.Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return connector.Connector{}, false, nil
	}
	if err != nil {
		return connector.Connector{}, false, err
	}
	c, err := connector.ParseDocument(doc)
	if err != nil {
		return connector.Connector{}, false, fmt.Errorf("connector %s: %w", id, err)
	}
	if c.ID == "" {
		c.ID = id
	}
	return c, true, nil
}

func (s *PostgresStore) GetModelGroup(ctx context.Context, id string) (*ModelGroupRecord, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, tenant_id, owners, public FROM model_groups WHERE id = $1`, id)
	var g ModelGroupRecord
	var owners []byte
	err := row.Scan(&g.ID, &g.TenantID, &owners, &g.Public)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if len(owners) > 0 {
		if err := json.Unmarshal(owners, &g.Owners); err != nil {
			return nil, false, fmt.Errorf("decode owners for model group %s: %w", id, err)
		}
	}
	return &g, true, nil
}

func (s *PostgresStore) Close() error {
	s.log.Info("repository.postgres.closing")
	s.pool.Close()
	return nil
}

var _ Store = (*PostgresStore)(nil)
