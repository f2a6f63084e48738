// Package reconcile composes the task lookup pipeline: fetch the record,
// validate the caller, and for remote batch jobs ask the backend for live
// status, classify it, and persist the result before responding.
package reconcile

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/taskbridge/taskbridge/constants"
	"github.com/taskbridge/taskbridge/internal/access"
	"github.com/taskbridge/taskbridge/internal/classifier"
	"github.com/taskbridge/taskbridge/internal/common"
	"github.com/taskbridge/taskbridge/internal/connector"
	"github.com/taskbridge/taskbridge/internal/executor"
	"github.com/taskbridge/taskbridge/internal/repository"
)

// Request identifies one reconciliation.
type Request struct {
	TaskID   string
	TenantID string
}

// Listener receives the outcome of one reconciliation. Exactly one of the
// two methods is invoked, on a worker goroutine.
type Listener interface {
	OnResponse(*repository.TaskRecord)
	OnFailure(error)
}

// ListenerFuncs adapts plain functions to Listener.
type ListenerFuncs struct {
	Response func(*repository.TaskRecord)
	Failure  func(error)
}

func (l ListenerFuncs) OnResponse(t *repository.TaskRecord) {
	if l.Response != nil {
		l.Response(t)
	}
}

func (l ListenerFuncs) OnFailure(err error) {
	if l.Failure != nil {
		l.Failure(err)
	}
}

// Event describes a persisted state transition.
type Event struct {
	TaskID   string              `json:"task_id"`
	TenantID string              `json:"tenant_id,omitempty"`
	From     constants.TaskState `json:"from"`
	To       constants.TaskState `json:"to"`
	At       time.Time           `json:"at"`
}

// Notifier publishes state transitions to interested consumers. Publishing
// is best effort; a notifier must never fail a reconciliation.
type Notifier interface {
	NotifyStateChange(ctx context.Context, ev Event)
}

// Deps are the collaborators a Service is built from.
type Deps struct {
	Store          repository.Store
	Resolver       *connector.Resolver
	Gate           access.Gate
	Registry       *executor.Registry
	Rules          *classifier.Holder
	Decryptor      connector.Decryptor
	Pool           *ants.Pool
	HTTPClient     *http.Client
	Notifier       Notifier
	TenancyEnabled bool
	Logger         *slog.Logger
}

// Service runs reconciliations. One service instance is shared by all
// requests; per-request state lives on the stack of each pipeline run.
type Service struct {
	deps   Deps
	tracer trace.Tracer
}

func New(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.HTTPClient == nil {
		d.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Service{
		deps:   d,
		tracer: otel.Tracer("taskbridge/reconcile"),
	}
}

// GetTask starts a reconciliation and returns immediately; the listener is
// invoked on a worker goroutine. The rule set snapshot is captured here so
// one reconciliation sees one consistent configuration end to end, even if
// the rules are hot-swapped mid-flight.
func (s *Service) GetTask(ctx context.Context, req Request, l Listener) {
	rules := s.deps.Rules.Current()
	runCtx, span := s.tracer.Start(common.Detach(ctx), "reconcile.task",
		trace.WithAttributes(attribute.String("task.id", req.TaskID)),
	)
	done := &spanListener{inner: l, span: span}
	run := func() { s.run(runCtx, req, rules, done) }
	if s.deps.Pool != nil {
		if err := s.deps.Pool.Submit(run); err == nil {
			return
		}
		s.deps.Logger.Warn("reconcile.pool.submit_failed", "task_id", req.TaskID)
	}
	go run()
}

// GetTaskSync is the blocking form of GetTask, for callers that hold a
// request open anyway.
func (s *Service) GetTaskSync(ctx context.Context, req Request) (*repository.TaskRecord, error) {
	type result struct {
		task *repository.TaskRecord
		err  error
	}
	ch := make(chan result, 1)
	s.GetTask(ctx, req, ListenerFuncs{
		Response: func(t *repository.TaskRecord) { ch <- result{task: t} },
		Failure:  func(err error) { ch <- result{err: err} },
	})
	select {
	case r := <-ch:
		return r.task, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Service) run(ctx context.Context, req Request, rules *classifier.RuleSet, l Listener) {
	log := s.deps.Logger.With("task_id", req.TaskID, "req_id", common.RequestIDFromContext(ctx))
	start := time.Now()

	task, ok, err := s.deps.Store.GetTask(ctx, req.TaskID)
	if err != nil {
		log.Error("reconcile.fetch.failed", "error", err)
		l.OnFailure(common.Internal("failed to get task "+req.TaskID, err))
		return
	}
	if !ok {
		l.OnFailure(common.NotFoundf("failed to find task with the provided task id: %s", req.TaskID))
		return
	}

	if s.deps.TenancyEnabled && req.TenantID != task.TenantID {
		l.OnFailure(common.PermissionDenied("you don't have permission to access this resource"))
		return
	}

	// The common path: nothing to reconcile, answer from the store.
	if !needsReconciliation(task) {
		l.OnResponse(task)
		return
	}

	if !rules.BatchEnabled() {
		l.OnFailure(common.FeatureDisabled("offline batch inference is currently disabled"))
		return
	}

	model, ok, err := s.deps.Store.GetModel(ctx, task.ModelID)
	if err != nil {
		log.Error("reconcile.model.fetch_failed", "model_id", task.ModelID, "error", err)
		l.OnFailure(common.Internal("failed to get model "+task.ModelID, err))
		return
	}
	if !ok {
		l.OnFailure(common.NotFoundf("failed to find model %s for task %s", task.ModelID, task.ID))
		return
	}

	identity, _ := common.IdentityFromContext(ctx)
	allowed, err := s.deps.Gate.Validate(ctx, identity, task.TenantID, model.ModelGroupID)
	if err != nil {
		l.OnFailure(err)
		return
	}
	if !allowed {
		l.OnFailure(common.PermissionDenied("user doesn't have privilege to perform this operation on this model"))
		return
	}

	conn, err := s.deps.Resolver.Resolve(ctx, model.Connector, model.ConnectorID)
	if err != nil {
		l.OnFailure(err)
		return
	}
	conn = s.deps.Resolver.EnsureAction(conn, constants.ActionBatchPredictStatus)

	// Decrypted material is handed straight to the per-invocation executor
	// and goes out of scope with it.
	creds, err := connector.DecryptCredentials(conn, constants.ActionBatchPredictStatus, s.deps.Decryptor)
	if err != nil {
		log.Error("reconcile.credentials.decrypt_failed", "connector", conn.Name, "error", err)
		l.OnFailure(common.Configuration("failed to decrypt connector credentials", err))
		return
	}

	exec, err := s.deps.Registry.New(conn, creds)
	if err != nil {
		l.OnFailure(err)
		return
	}
	exec.Configure(executor.Deps{
		HTTPClient: s.deps.HTTPClient,
		Pool:       s.deps.Pool,
		Logger:     s.deps.Logger,
	})

	log.Info("reconcile.remote.dispatch", "model_id", model.ID, "connector", conn.Name, "protocol", conn.Protocol)
	exec.ExecuteAction(ctx, constants.ActionBatchPredictStatus, BuildInput(task), executor.ListenerFuncs{
		Response: func(out *executor.TensorOutput) {
			s.finish(ctx, task, rules, out, start, l)
		},
		Failure: func(err error) {
			log.Error("reconcile.remote.failed", "elapsed_ms", time.Since(start).Milliseconds(), "error", err)
			l.OnFailure(err)
		},
	})
}

// finish classifies the remote payload, merges it into the task, persists
// the partial update, and responds.
func (s *Service) finish(ctx context.Context, task *repository.TaskRecord, rules *classifier.RuleSet, out *executor.TensorOutput, start time.Time, l Listener) {
	log := s.deps.Logger.With("task_id", task.ID, "req_id", common.RequestIDFromContext(ctx))

	payload, ok := firstTensorPayload(out)
	if !ok {
		log.Warn("reconcile.status.unavailable", "elapsed_ms", time.Since(start).Milliseconds())
		l.OnFailure(common.StatusUnavailable("remote backend returned no status payload for task " + task.ID))
		return
	}

	if task.RemoteJob == nil {
		task.RemoteJob = make(map[string]any, len(payload))
	}
	for k, v := range payload {
		task.RemoteJob[k] = v
	}

	fields := map[string]any{repository.FieldRemoteJob: task.RemoteJob}
	prev := task.State
	state, matched := classifier.Classify(payload, rules)
	if matched && state != task.State {
		task.State = state
		fields[repository.FieldState] = state
	}

	if err := s.deps.Store.PartialUpdateTask(ctx, task.ID, fields); err != nil {
		// The in-memory task already carries the new state; the caller is
		// told about the durability gap instead of being handed stale data.
		log.Error("reconcile.persist.failed", "state", string(task.State), "error", err)
		l.OnFailure(common.Persistence("failed to persist reconciled state for task "+task.ID, err))
		return
	}

	if matched && state != prev && s.deps.Notifier != nil {
		s.deps.Notifier.NotifyStateChange(ctx, Event{
			TaskID:   task.ID,
			TenantID: task.TenantID,
			From:     prev,
			To:       state,
			At:       time.Now().UTC(),
		})
	}

	log.Info("reconcile.done",
		"state", string(task.State),
		"state_changed", matched && state != prev,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	l.OnResponse(task)
}

// needsReconciliation reports whether the task is a live remote batch job
// with a snapshot to refresh.
func needsReconciliation(t *repository.TaskRecord) bool {
	return t.TaskType == constants.TaskTypeBatchPrediction &&
		t.Algorithm == constants.AlgorithmRemote &&
		len(t.RemoteJob) > 0 &&
		!t.State.Terminal()
}

// spanListener closes the reconciliation span when the outcome is known.
type spanListener struct {
	inner Listener
	span  trace.Span
}

func (s *spanListener) OnResponse(t *repository.TaskRecord) {
	s.span.SetAttributes(attribute.String("task.state", string(t.State)))
	s.span.End()
	s.inner.OnResponse(t)
}

func (s *spanListener) OnFailure(err error) {
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, common.CodeOf(err))
	s.span.End()
	s.inner.OnFailure(err)
}
