package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/taskbridge/taskbridge/internal/common"
	"github.com/taskbridge/taskbridge/internal/connector"
)

// HTTPExecutor performs connector actions as JSON-over-HTTP requests. URL,
// headers and body templates may reference "${parameter.X}" (from the
// invocation input) and "${credential.X}" (decrypted for this invocation
// only).
type HTTPExecutor struct {
	conn  connector.Connector
	creds map[string]string
	deps  Deps
}

func NewHTTPExecutor(conn connector.Connector, creds map[string]string) *HTTPExecutor {
	return &HTTPExecutor{conn: conn, creds: creds}
}

func (e *HTTPExecutor) Configure(deps Deps) {
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	e.deps = deps
}

// ExecuteAction returns immediately and completes on a worker goroutine.
func (e *HTTPExecutor) ExecuteAction(ctx context.Context, actionType string, in *Input, l Listener) {
	run := func() {
		out, err := e.do(ctx, actionType, in)
		if err != nil {
			l.OnFailure(err)
			return
		}
		l.OnResponse(out)
	}
	if e.deps.Pool != nil {
		if err := e.deps.Pool.Submit(run); err == nil {
			return
		}
		// Pool saturated or released; fall back to a plain goroutine so the
		// call still completes asynchronously.
	}
	go run()
}

func (e *HTTPExecutor) do(ctx context.Context, actionType string, in *Input) (*TensorOutput, error) {
	logger := e.deps.Logger
	reqID := uuid.New().String()
	start := time.Now()

	action, ok := e.conn.FindAction(actionType)
	if !ok {
		return nil, common.Configuration("connector "+e.conn.Name+" defines no action "+actionType, nil)
	}
	if action.URL == "" {
		return nil, common.Configuration("action "+actionType+" on connector "+e.conn.Name+" has no url", nil)
	}

	url := e.render(action.URL, in)
	body := e.render(action.RequestBody, in)
	method := action.Method
	if method == "" {
		method = http.MethodPost
	}

	req, err := http.NewRequestWithContext(ctx, method, url, strings.NewReader(body))
	if err != nil {
		return nil, common.RemoteExecution("build remote status request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range action.Headers {
		req.Header.Set(k, e.render(v, in))
	}

	logger.Info("executor.http.request",
		"req_id", reqID,
		"connector", e.conn.Name,
		"action", actionType,
		"method", method,
		"content_length", len(body),
	)

	resp, err := e.deps.HTTPClient.Do(req)
	if err != nil {
		logger.Error("executor.http.send_error",
			"req_id", reqID, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, common.RemoteExecution("remote status call failed", err)
	}
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			logger.Warn("executor.http.response_body_close_error", "req_id", reqID, "error", err)
		}
	}(resp.Body)

	raw, _ := io.ReadAll(resp.Body)

	logger.Info("executor.http.response",
		"req_id", reqID,
		"status", resp.StatusCode,
		"bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode/100 != 2 {
		return nil, common.RemoteExecution(
			fmt.Sprintf("remote backend returned status %d", resp.StatusCode), nil)
	}

	var payload map[string]any
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &payload); err != nil {
			logger.Error("executor.http.decode_error", "req_id", reqID, "error", err)
			return nil, common.RemoteExecution("decode remote status response", err)
		}
	}
	if payload == nil {
		return &TensorOutput{}, nil
	}
	return &TensorOutput{
		Outputs: []Tensors{{
			Output: []Tensor{{Name: "response", DataAsMap: payload}},
		}},
	}, nil
}

var placeholderRe = regexp.MustCompile(`\$\{(parameter|credential)\.([A-Za-z0-9_.-]+)\}`)

// render substitutes template placeholders. Unknown placeholders render
// empty rather than leaking the template into the wire request.
func (e *HTTPExecutor) render(tpl string, in *Input) string {
	if tpl == "" {
		return tpl
	}
	return placeholderRe.ReplaceAllStringFunc(tpl, func(m string) string {
		parts := placeholderRe.FindStringSubmatch(m)
		switch parts[1] {
		case "parameter":
			if in != nil {
				return in.Parameters[parts[2]]
			}
		case "credential":
			return e.creds[parts[2]]
		}
		return ""
	})
}
