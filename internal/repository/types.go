package repository

import (
	"time"

	"github.com/taskbridge/taskbridge/constants"
	"github.com/taskbridge/taskbridge/internal/connector"
)

// TaskRecord is the persisted lifecycle record for one long-running job.
// RemoteJob is the last known snapshot of remote-side metadata; partial
// updates merge into it, they never replace it wholesale.
type TaskRecord struct {
	ID        string
	TenantID  string
	TaskType  constants.TaskType
	Algorithm constants.Algorithm
	ModelID   string
	State     constants.TaskState
	Error     string
	RemoteJob map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a deep copy; the pipeline mutates its copy locally and
// pushes changes back through a partial update.
func (t *TaskRecord) Clone() *TaskRecord {
	if t == nil {
		return nil
	}
	cp := *t
	cp.RemoteJob = cloneMap(t.RemoteJob)
	return &cp
}

// ModelRecord is a registered model; either an inline connector or a
// reference to one stored in the shared collection.
type ModelRecord struct {
	ID           string
	Name         string
	ModelGroupID string
	Algorithm    constants.Algorithm
	ConnectorID  string
	Connector    *connector.Connector
}

// ModelGroupRecord is the access-control scope owning models.
type ModelGroupRecord struct {
	ID       string
	TenantID string
	Owners   []string
	Public   bool
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
