package reconcile

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/taskbridge/taskbridge/constants"
	"github.com/taskbridge/taskbridge/internal/access"
	"github.com/taskbridge/taskbridge/internal/classifier"
	"github.com/taskbridge/taskbridge/internal/common"
	"github.com/taskbridge/taskbridge/internal/connector"
	"github.com/taskbridge/taskbridge/internal/executor"
	"github.com/taskbridge/taskbridge/internal/repository"
)

const fakeProtocol = "fake"

type fakeExecutor struct {
	mu    sync.Mutex
	out   *executor.TensorOutput
	err   error
	calls int32
	input *executor.Input
}

func (f *fakeExecutor) Configure(executor.Deps) {}

func (f *fakeExecutor) ExecuteAction(_ context.Context, _ string, in *executor.Input, l executor.Listener) {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	f.input = in
	f.mu.Unlock()
	if f.err != nil {
		l.OnFailure(f.err)
		return
	}
	l.OnResponse(f.out)
}

func (f *fakeExecutor) lastInput() *executor.Input {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.input
}

func statusOutput(payload map[string]any) *executor.TensorOutput {
	return &executor.TensorOutput{
		Outputs: []executor.Tensors{
			{Output: []executor.Tensor{{Name: "response", DataAsMap: payload}}},
		},
	}
}

func allowAll() access.Gate {
	return access.GateFunc(func(context.Context, common.Identity, string, string) (bool, error) {
		return true, nil
	})
}

func seedBatchTask(store *repository.MemoryStore) {
	store.PutModel(&repository.ModelRecord{
		ID:        "model-1",
		Name:      "xgb-batch",
		Algorithm: constants.AlgorithmRemote,
		Connector: &connector.Connector{
			ID:       "conn-1",
			Name:     "sagemaker",
			Protocol: fakeProtocol,
			Actions: []connector.Action{{
				ActionType:  constants.ActionBatchPredictStatus,
				Method:      "POST",
				URL:         "https://api.example.com/describe",
				RequestBody: `{"TransformJobName": "${parameter.TransformJobName}"}`,
			}},
		},
	})
	store.PutTask(&repository.TaskRecord{
		ID:        "task-1",
		TenantID:  "tenant-a",
		TaskType:  constants.TaskTypeBatchPrediction,
		Algorithm: constants.AlgorithmRemote,
		ModelID:   "model-1",
		State:     constants.TaskStateRunning,
		RemoteJob: map[string]any{
			"TransformJobArn": "arn:aws:sagemaker:us-east-1:123:transform-job/job-7",
		},
	})
}

type env struct {
	store *repository.MemoryStore
	exec  *fakeExecutor
	svc   *Service
}

func newEnv(t *testing.T, mutate func(*Deps)) *env {
	t.Helper()
	store := repository.NewMemoryStore()
	fake := &fakeExecutor{out: statusOutput(map[string]any{"TransformJobStatus": "Completed"})}
	reg := executor.NewRegistry()
	reg.Register(fakeProtocol, func(connector.Connector, map[string]string) (executor.Executor, error) {
		return fake, nil
	})
	deps := Deps{
		Store:          store,
		Resolver:       connector.NewResolver(store, nil),
		Gate:           allowAll(),
		Registry:       reg,
		Rules:          classifier.NewHolder(classifier.MustCompile(classifier.DefaultConfig())),
		TenancyEnabled: false,
	}
	if mutate != nil {
		mutate(&deps)
	}
	return &env{store: store, exec: fake, svc: New(deps)}
}

func getTask(t *testing.T, svc *Service, req Request) (*repository.TaskRecord, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return svc.GetTaskSync(ctx, req)
}

func TestGetTaskNotFound(t *testing.T) {
	e := newEnv(t, nil)
	_, err := getTask(t, e.svc, Request{TaskID: "missing"})
	if common.CodeOf(err) != common.ErrCodeNotFound {
		t.Fatalf("code = %s, want NOT_FOUND (err=%v)", common.CodeOf(err), err)
	}
}

func TestGetTaskNonRemoteIsNoOp(t *testing.T) {
	e := newEnv(t, nil)
	e.store.PutTask(&repository.TaskRecord{
		ID:        "local-1",
		TaskType:  constants.TaskTypePrediction,
		Algorithm: constants.AlgorithmLocal,
		State:     constants.TaskStateRunning,
	})

	got, err := getTask(t, e.svc, Request{TaskID: "local-1"})
	if err != nil {
		t.Fatalf("GetTaskSync: %v", err)
	}
	if got.State != constants.TaskStateRunning {
		t.Errorf("state = %s, want unchanged RUNNING", got.State)
	}
	if atomic.LoadInt32(&e.exec.calls) != 0 {
		t.Error("remote executor invoked for a non-remote task")
	}
}

func TestGetTaskTerminalStateIsNoOp(t *testing.T) {
	e := newEnv(t, nil)
	seedBatchTask(e.store)
	_ = e.store.PartialUpdateTask(context.Background(), "task-1", map[string]any{
		repository.FieldState: constants.TaskStateCompleted,
	})

	got, err := getTask(t, e.svc, Request{TaskID: "task-1", TenantID: "tenant-a"})
	if err != nil {
		t.Fatalf("GetTaskSync: %v", err)
	}
	if got.State != constants.TaskStateCompleted {
		t.Errorf("state = %s", got.State)
	}
	if atomic.LoadInt32(&e.exec.calls) != 0 {
		t.Error("remote executor invoked for a terminal task")
	}
}

func TestGetTaskTenantMismatch(t *testing.T) {
	e := newEnv(t, func(d *Deps) { d.TenancyEnabled = true })
	seedBatchTask(e.store)

	_, err := getTask(t, e.svc, Request{TaskID: "task-1", TenantID: "tenant-b"})
	if common.CodeOf(err) != common.ErrCodePermissionDenied {
		t.Fatalf("code = %s, want PERMISSION_DENIED", common.CodeOf(err))
	}
	if atomic.LoadInt32(&e.exec.calls) != 0 {
		t.Error("remote executor invoked despite tenant mismatch")
	}
}

func TestGetTaskFeatureDisabled(t *testing.T) {
	disabled := false
	cfg := classifier.DefaultConfig()
	cfg.BatchReconciliation = &disabled
	e := newEnv(t, func(d *Deps) {
		d.Rules = classifier.NewHolder(classifier.MustCompile(cfg))
	})
	seedBatchTask(e.store)

	_, err := getTask(t, e.svc, Request{TaskID: "task-1", TenantID: "tenant-a"})
	if common.CodeOf(err) != common.ErrCodeFeatureDisabled {
		t.Fatalf("code = %s, want FEATURE_DISABLED", common.CodeOf(err))
	}
	if atomic.LoadInt32(&e.exec.calls) != 0 {
		t.Error("remote executor invoked while reconciliation disabled")
	}
}

func TestGetTaskCompletedFlow(t *testing.T) {
	e := newEnv(t, nil)
	seedBatchTask(e.store)

	got, err := getTask(t, e.svc, Request{TaskID: "task-1", TenantID: "tenant-a"})
	if err != nil {
		t.Fatalf("GetTaskSync: %v", err)
	}
	if got.State != constants.TaskStateCompleted {
		t.Errorf("returned state = %s, want COMPLETED", got.State)
	}

	stored, _, _ := e.store.GetTask(context.Background(), "task-1")
	if stored.State != constants.TaskStateCompleted {
		t.Errorf("persisted state = %s, want COMPLETED", stored.State)
	}
	if stored.RemoteJob["TransformJobStatus"] != "Completed" {
		t.Errorf("remote snapshot not merged: %v", stored.RemoteJob)
	}
	if stored.RemoteJob["TransformJobArn"] == nil {
		t.Errorf("prior remote_job content dropped: %v", stored.RemoteJob)
	}

	// The job name travels in the parameters, derived from the ARN.
	in := e.exec.lastInput()
	if in == nil || in.Parameters["TransformJobName"] != "job-7" {
		t.Errorf("input parameters = %+v, want TransformJobName=job-7", in)
	}
}

func TestGetTaskUnmatchedStatusMergesWithoutStateChange(t *testing.T) {
	e := newEnv(t, nil)
	seedBatchTask(e.store)
	e.exec.out = statusOutput(map[string]any{"TransformJobStatus": "InProgress"})

	got, err := getTask(t, e.svc, Request{TaskID: "task-1", TenantID: "tenant-a"})
	if err != nil {
		t.Fatalf("GetTaskSync: %v", err)
	}
	if got.State != constants.TaskStateRunning {
		t.Errorf("state = %s, want unchanged RUNNING", got.State)
	}

	stored, _, _ := e.store.GetTask(context.Background(), "task-1")
	if stored.State != constants.TaskStateRunning {
		t.Errorf("persisted state = %s, want RUNNING", stored.State)
	}
	if stored.RemoteJob["TransformJobStatus"] != "InProgress" {
		t.Errorf("snapshot not merged on no-match: %v", stored.RemoteJob)
	}
}

func TestGetTaskEmptyRemoteOutput(t *testing.T) {
	e := newEnv(t, nil)
	seedBatchTask(e.store)
	e.exec.out = &executor.TensorOutput{}

	_, err := getTask(t, e.svc, Request{TaskID: "task-1", TenantID: "tenant-a"})
	if common.CodeOf(err) != common.ErrCodeStatusUnavailable {
		t.Fatalf("code = %s, want STATUS_UNAVAILABLE", common.CodeOf(err))
	}

	stored, _, _ := e.store.GetTask(context.Background(), "task-1")
	if stored.State != constants.TaskStateRunning {
		t.Errorf("state changed on empty output: %s", stored.State)
	}
	if _, ok := stored.RemoteJob["TransformJobStatus"]; ok {
		t.Error("remote_job updated on empty output")
	}
}

func TestGetTaskRemoteFailurePassesThrough(t *testing.T) {
	e := newEnv(t, nil)
	seedBatchTask(e.store)
	e.exec.err = common.RemoteExecution("backend answered 503", nil)

	_, err := getTask(t, e.svc, Request{TaskID: "task-1", TenantID: "tenant-a"})
	if common.CodeOf(err) != common.ErrCodeRemoteExecution {
		t.Fatalf("code = %s, want REMOTE_EXECUTION_FAILURE", common.CodeOf(err))
	}
}

func TestGetTaskAccessDeniedVersusGateError(t *testing.T) {
	t.Run("denied", func(t *testing.T) {
		e := newEnv(t, func(d *Deps) {
			d.Gate = access.GateFunc(func(context.Context, common.Identity, string, string) (bool, error) {
				return false, nil
			})
		})
		seedBatchTask(e.store)
		_, err := getTask(t, e.svc, Request{TaskID: "task-1", TenantID: "tenant-a"})
		if common.CodeOf(err) != common.ErrCodePermissionDenied {
			t.Fatalf("code = %s, want PERMISSION_DENIED", common.CodeOf(err))
		}
		if atomic.LoadInt32(&e.exec.calls) != 0 {
			t.Error("remote executor invoked despite denial")
		}
	})

	t.Run("evaluation failure", func(t *testing.T) {
		e := newEnv(t, func(d *Deps) {
			d.Gate = access.GateFunc(func(context.Context, common.Identity, string, string) (bool, error) {
				return false, common.Internal("acl backend unreachable", errors.New("dial timeout"))
			})
		})
		seedBatchTask(e.store)
		_, err := getTask(t, e.svc, Request{TaskID: "task-1", TenantID: "tenant-a"})
		if common.CodeOf(err) != common.ErrCodeInternal {
			t.Fatalf("code = %s, want INTERNAL_ERROR, not a denial", common.CodeOf(err))
		}
	})
}

func TestGetTaskModelNotFound(t *testing.T) {
	e := newEnv(t, nil)
	seedBatchTask(e.store)
	e.store.PutTask(&repository.TaskRecord{
		ID:        "task-2",
		TaskType:  constants.TaskTypeBatchPrediction,
		Algorithm: constants.AlgorithmRemote,
		ModelID:   "missing-model",
		State:     constants.TaskStateRunning,
		RemoteJob: map[string]any{"TransformJobName": "job-9"},
	})

	_, err := getTask(t, e.svc, Request{TaskID: "task-2"})
	if common.CodeOf(err) != common.ErrCodeNotFound {
		t.Fatalf("code = %s, want NOT_FOUND", common.CodeOf(err))
	}
}

func TestGetTaskConnectorNotFound(t *testing.T) {
	e := newEnv(t, nil)
	e.store.PutModel(&repository.ModelRecord{
		ID:          "model-ref",
		Algorithm:   constants.AlgorithmRemote,
		ConnectorID: "ghost-connector",
	})
	e.store.PutTask(&repository.TaskRecord{
		ID:        "task-3",
		TaskType:  constants.TaskTypeBatchPrediction,
		Algorithm: constants.AlgorithmRemote,
		ModelID:   "model-ref",
		State:     constants.TaskStateRunning,
		RemoteJob: map[string]any{"TransformJobName": "job-3"},
	})

	_, err := getTask(t, e.svc, Request{TaskID: "task-3"})
	if common.CodeOf(err) != common.ErrCodeNotFound {
		t.Fatalf("code = %s, want NOT_FOUND", common.CodeOf(err))
	}
}

func TestGetTaskUnregisteredProtocol(t *testing.T) {
	e := newEnv(t, func(d *Deps) { d.Registry = executor.NewRegistry() })
	seedBatchTask(e.store)

	_, err := getTask(t, e.svc, Request{TaskID: "task-1", TenantID: "tenant-a"})
	if common.CodeOf(err) != common.ErrCodeConfiguration {
		t.Fatalf("code = %s, want CONFIGURATION_ERROR", common.CodeOf(err))
	}
}

type failingUpdateStore struct {
	*repository.MemoryStore
}

func (s *failingUpdateStore) PartialUpdateTask(context.Context, string, map[string]any) error {
	return errors.New("write rejected")
}

func TestGetTaskPersistFailureSurfacedNotSwallowed(t *testing.T) {
	mem := repository.NewMemoryStore()
	e := newEnv(t, func(d *Deps) {
		d.Store = &failingUpdateStore{MemoryStore: mem}
		d.Resolver = connector.NewResolver(mem, nil)
	})
	seedBatchTask(mem)

	var (
		failure  error
		returned *repository.TaskRecord
		done     = make(chan struct{})
	)
	e.svc.GetTask(context.Background(), Request{TaskID: "task-1", TenantID: "tenant-a"}, ListenerFuncs{
		Response: func(t *repository.TaskRecord) { returned = t; close(done) },
		Failure:  func(err error) { failure = err; close(done) },
	})
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("reconciliation did not complete")
	}

	if returned != nil {
		t.Fatal("expected failure outcome, got a response")
	}
	if common.CodeOf(failure) != common.ErrCodePersistence {
		t.Fatalf("code = %s, want PERSISTENCE_FAILURE", common.CodeOf(failure))
	}

	stored, _, _ := mem.GetTask(context.Background(), "task-1")
	if stored.State != constants.TaskStateRunning {
		t.Errorf("store changed despite failed write: %s", stored.State)
	}
}

func TestGetTaskIdentityCrossesAsyncBoundary(t *testing.T) {
	var seen common.Identity
	e := newEnv(t, func(d *Deps) {
		d.Gate = access.GateFunc(func(_ context.Context, id common.Identity, _, _ string) (bool, error) {
			seen = id
			return true, nil
		})
	})
	seedBatchTask(e.store)

	ctx := common.WithIdentity(context.Background(), common.Identity{Subject: "alice", Roles: []string{"ml_user"}, Tenant: "tenant-a"})
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := e.svc.GetTaskSync(ctx, Request{TaskID: "task-1", TenantID: "tenant-a"}); err != nil {
		t.Fatalf("GetTaskSync: %v", err)
	}
	if seen.Subject != "alice" {
		t.Errorf("gate saw identity %+v, want subject alice", seen)
	}
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (n *recordingNotifier) NotifyStateChange(_ context.Context, ev Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func TestGetTaskNotifiesOnStateChangeOnly(t *testing.T) {
	notifier := &recordingNotifier{}
	e := newEnv(t, func(d *Deps) { d.Notifier = notifier })
	seedBatchTask(e.store)

	if _, err := getTask(t, e.svc, Request{TaskID: "task-1", TenantID: "tenant-a"}); err != nil {
		t.Fatalf("GetTaskSync: %v", err)
	}
	notifier.mu.Lock()
	events := append([]Event(nil), notifier.events...)
	notifier.mu.Unlock()
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if events[0].From != constants.TaskStateRunning || events[0].To != constants.TaskStateCompleted {
		t.Errorf("event = %+v", events[0])
	}

	// A second pass on the now-terminal task must not publish again.
	if _, err := getTask(t, e.svc, Request{TaskID: "task-1", TenantID: "tenant-a"}); err != nil {
		t.Fatalf("second GetTaskSync: %v", err)
	}
	notifier.mu.Lock()
	count := len(notifier.events)
	notifier.mu.Unlock()
	if count != 1 {
		t.Errorf("events after second pass = %d, want still 1", count)
	}
}

func TestBuildInputOnlyStringParameters(t *testing.T) {
	in := BuildInput(&repository.TaskRecord{
		Algorithm: constants.AlgorithmRemote,
		RemoteJob: map[string]any{
			"TransformJobName": "job-5",
			"attempt":          3,
			"labels":           map[string]any{"team": "ml"},
		},
	})
	if in.Parameters["TransformJobName"] != "job-5" {
		t.Errorf("parameters = %+v", in.Parameters)
	}
	if _, ok := in.Parameters["attempt"]; ok {
		t.Error("non-string value leaked into parameters")
	}
	if _, ok := in.Parameters["labels"]; ok {
		t.Error("nested value leaked into parameters")
	}
}
