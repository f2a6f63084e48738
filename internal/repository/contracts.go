package repository

import (
	"context"

	"github.com/taskbridge/taskbridge/internal/connector"
)

// TaskStore is the persistence contract for task records.
type TaskStore interface {
	// GetTask loads a task by id; ok=false means not found.
	GetTask(ctx context.Context, id string) (*TaskRecord, bool, error)
	// ListTasks returns tasks, newest first, optionally scoped to a tenant.
	ListTasks(ctx context.Context, tenantID string, limit int) ([]TaskRecord, error)
	// PartialUpdateTask applies only the given fields. The "remote_job"
	// field merges into the stored map; "state" and "error" overwrite.
	PartialUpdateTask(ctx context.Context, id string, fields map[string]any) error
}

// ModelStore reads registered models.
type ModelStore interface {
	GetModel(ctx context.Context, id string) (*ModelRecord, bool, error)
}

// ConnectorStore reads the shared connector collection.
type ConnectorStore interface {
	GetConnector(ctx context.Context, id string) (connector.Connector, bool, error)
}

// GroupStore reads model group access-control records.
type GroupStore interface {
	GetModelGroup(ctx context.Context, id string) (*ModelGroupRecord, bool, error)
}

// Store is the full persistence surface backing the service.
type Store interface {
	TaskStore
	ModelStore
	ConnectorStore
	GroupStore
	Close() error
}

// Field names accepted by PartialUpdateTask.
const (
	FieldState     = "state"
	FieldError     = "error"
	FieldRemoteJob = "remote_job"
)
