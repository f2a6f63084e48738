package reconcile

import (
	"strings"

	"github.com/taskbridge/taskbridge/constants"
	"github.com/taskbridge/taskbridge/internal/executor"
	"github.com/taskbridge/taskbridge/internal/repository"
)

// BuildInput turns a task's remote job snapshot into the parameter map for a
// status-check invocation. Only string-valued snapshot entries become
// parameters; nested structures stay behind in the snapshot. When the
// snapshot carries a job ARN but no job name, the name is derived from the
// ARN's final path segment since status endpoints key on the name.
func BuildInput(task *repository.TaskRecord) *executor.Input {
	params := make(map[string]string, len(task.RemoteJob))
	for k, v := range task.RemoteJob {
		if s, ok := v.(string); ok {
			params[k] = s
		}
	}
	if _, ok := params["TransformJobName"]; !ok {
		if arn, ok := params["TransformJobArn"]; ok {
			if i := strings.LastIndex(arn, "/"); i >= 0 && i < len(arn)-1 {
				params["TransformJobName"] = arn[i+1:]
			}
		}
	}
	return &executor.Input{
		ActionType: constants.ActionBatchPredictStatus,
		Algorithm:  task.Algorithm,
		Parameters: params,
	}
}

// firstTensorPayload digs the status payload out of the nested executor
// output. Any structurally missing level means the remote answered without a
// usable status.
func firstTensorPayload(out *executor.TensorOutput) (map[string]any, bool) {
	if out == nil || len(out.Outputs) == 0 {
		return nil, false
	}
	tensors := out.Outputs[0]
	if len(tensors.Output) == 0 {
		return nil, false
	}
	payload := tensors.Output[0].DataAsMap
	if len(payload) == 0 {
		return nil, false
	}
	return payload, true
}
