// Package executor abstracts the backend-specific clients that can ask a
// remote system for the status of a batch job. Concrete executors are
// selected per connector by protocol through a registry; one executor
// instance serves exactly one invocation and holds no job state between
// calls — everything the remote call needs travels in the Input.
package executor

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/panjf2000/ants/v2"
	"github.com/taskbridge/taskbridge/constants"
)

// Input is the payload for one remote action invocation, built by the
// pipeline from the task's remote job snapshot.
type Input struct {
	ActionType string
	Algorithm  constants.Algorithm
	Parameters map[string]string
}

// Tensor is one named piece of structured output from a remote call.
type Tensor struct {
	Name      string
	DataAsMap map[string]any
}

// Tensors groups the tensors of one model output.
type Tensors struct {
	Output []Tensor
}

// TensorOutput is the nested result shape every executor produces.
type TensorOutput struct {
	Outputs []Tensors
}

// Listener receives the completion of an asynchronous executor call.
type Listener interface {
	OnResponse(*TensorOutput)
	OnFailure(error)
}

// ListenerFuncs adapts plain functions to Listener.
type ListenerFuncs struct {
	Response func(*TensorOutput)
	Failure  func(error)
}

func (l ListenerFuncs) OnResponse(out *TensorOutput) {
	if l.Response != nil {
		l.Response(out)
	}
}

func (l ListenerFuncs) OnFailure(err error) {
	if l.Failure != nil {
		l.Failure(err)
	}
}

// Deps are the process-level collaborators an executor is configured with
// before use.
type Deps struct {
	HTTPClient *http.Client
	Pool       *ants.Pool
	Logger     *slog.Logger
}

// Executor performs remote actions for one connector invocation.
// ExecuteAction returns immediately; the listener is invoked on a worker
// goroutine with either a structured output or a failure.
type Executor interface {
	Configure(Deps)
	ExecuteAction(ctx context.Context, actionType string, in *Input, l Listener)
}
