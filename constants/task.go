package constants

// TaskState is the canonical lifecycle state for rows in the task store.
type TaskState string

// Stable values (store these exact strings in DB).
const (
	TaskStateCreated    TaskState = "CREATED"
	TaskStateRunning    TaskState = "RUNNING"
	TaskStateCompleted  TaskState = "COMPLETED"
	TaskStateFailed     TaskState = "FAILED"
	TaskStateCancelling TaskState = "CANCELLING" // stop requested, remote job still winding down
	TaskStateCancelled  TaskState = "CANCELLED"
	TaskStateExpired    TaskState = "EXPIRED"
)

// Terminal reports whether no further reconciliation can move the state.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskStateCompleted, TaskStateFailed, TaskStateCancelled, TaskStateExpired:
		return true
	}
	return false
}

// TaskType distinguishes what kind of work a task row tracks.
type TaskType string

const (
	TaskTypePrediction      TaskType = "PREDICTION"
	TaskTypeBatchPrediction TaskType = "BATCH_PREDICTION"
	TaskTypeTraining        TaskType = "TRAINING"
)

// Algorithm is the computation family of the model behind a task.
type Algorithm string

const (
	AlgorithmRemote Algorithm = "REMOTE"
	AlgorithmLocal  Algorithm = "LOCAL"
)

// ActionBatchPredictStatus is the connector action used to poll a remote
// batch job for its current status.
const ActionBatchPredictStatus = "batch_predict_status"

// ActionBatchPredict is the action that originally submitted the batch job;
// status actions are synthesized from it when a connector defines no
// dedicated status action.
const ActionBatchPredict = "batch_predict"

// ProtocolHTTP selects the generic JSON-over-HTTP remote executor.
const ProtocolHTTP = "http"
