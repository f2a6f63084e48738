package repository

import (
	"context"
	"testing"

	"github.com/taskbridge/taskbridge/constants"
)

func TestMemoryStorePartialUpdateMergesRemoteJob(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.PutTask(&TaskRecord{
		ID:        "task-1",
		TaskType:  constants.TaskTypeBatchPrediction,
		Algorithm: constants.AlgorithmRemote,
		State:     constants.TaskStateRunning,
		RemoteJob: map[string]any{"TransformJobArn": "arn:aws:sagemaker:us-east-1:123:transform-job/job-7", "attempt": 1},
	})

	err := store.PartialUpdateTask(ctx, "task-1", map[string]any{
		FieldState:     constants.TaskStateCompleted,
		FieldRemoteJob: map[string]any{"TransformJobStatus": "Completed"},
	})
	if err != nil {
		t.Fatalf("PartialUpdateTask: %v", err)
	}

	got, ok, err := store.GetTask(ctx, "task-1")
	if err != nil || !ok {
		t.Fatalf("GetTask: ok=%v err=%v", ok, err)
	}
	if got.State != constants.TaskStateCompleted {
		t.Errorf("state = %s, want COMPLETED", got.State)
	}
	if got.RemoteJob["TransformJobStatus"] != "Completed" {
		t.Errorf("merged key missing: %v", got.RemoteJob)
	}
	if got.RemoteJob["TransformJobArn"] == nil {
		t.Errorf("existing remote_job key dropped: %v", got.RemoteJob)
	}
	if got.RemoteJob["attempt"] != 1 {
		t.Errorf("untouched key changed: %v", got.RemoteJob["attempt"])
	}
	if got.UpdatedAt.IsZero() {
		t.Error("updated_at not set")
	}
}

func TestMemoryStorePartialUpdateUnknownTask(t *testing.T) {
	store := NewMemoryStore()
	err := store.PartialUpdateTask(context.Background(), "nope", map[string]any{FieldState: constants.TaskStateCompleted})
	if err == nil {
		t.Fatal("expected error for unknown task")
	}
}

func TestMemoryStorePartialUpdateRejectsUnknownField(t *testing.T) {
	store := NewMemoryStore()
	store.PutTask(&TaskRecord{ID: "task-1", State: constants.TaskStateRunning})
	err := store.PartialUpdateTask(context.Background(), "task-1", map[string]any{"model_id": "m"})
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestMemoryStoreGetTaskReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.PutTask(&TaskRecord{
		ID:        "task-1",
		State:     constants.TaskStateRunning,
		RemoteJob: map[string]any{"k": "v"},
	})

	first, _, _ := store.GetTask(ctx, "task-1")
	first.State = constants.TaskStateFailed
	first.RemoteJob["k"] = "mutated"

	second, _, _ := store.GetTask(ctx, "task-1")
	if second.State != constants.TaskStateRunning {
		t.Errorf("stored state mutated through returned copy: %s", second.State)
	}
	if second.RemoteJob["k"] != "v" {
		t.Errorf("stored remote_job mutated through returned copy: %v", second.RemoteJob)
	}
}

func TestMemoryStoreListTasksScopesTenant(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.PutTask(&TaskRecord{ID: "a", TenantID: "t1", State: constants.TaskStateRunning})
	store.PutTask(&TaskRecord{ID: "b", TenantID: "t2", State: constants.TaskStateRunning})
	store.PutTask(&TaskRecord{ID: "c", TenantID: "t1", State: constants.TaskStateCompleted})

	got, err := store.ListTasks(ctx, "t1", 0)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	for _, task := range got {
		if task.TenantID != "t1" {
			t.Errorf("task %s leaked from tenant %s", task.ID, task.TenantID)
		}
	}

	all, err := store.ListTasks(ctx, "", 2)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("limit not applied, len = %d", len(all))
	}
}
