package connector

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/taskbridge/taskbridge/constants"
	"github.com/taskbridge/taskbridge/internal/common"
)

// Store is the read-side view of the shared connector collection. A nil
// store means no shared collection exists in the deployment.
type Store interface {
	GetConnector(ctx context.Context, id string) (Connector, bool, error)
}

// Resolver obtains the connector needed to reach a model's backend.
type Resolver struct {
	store Store
	log   *slog.Logger
}

func NewResolver(store Store, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, log: logger}
}

// Resolve prefers the model's inline connector; otherwise fetches by id from
// the shared collection. A missing connector is a NotFound naming the id.
func (r *Resolver) Resolve(ctx context.Context, inline *Connector, connectorID string) (Connector, error) {
	if inline != nil {
		return *inline, nil
	}
	if connectorID == "" || r.store == nil {
		return Connector{}, common.NotFoundf("can't find connector %s", connectorID)
	}
	c, ok, err := r.store.GetConnector(ctx, connectorID)
	if err != nil {
		r.log.Error("connector.resolve.fetch_failed", "connector_id", connectorID, "error", err)
		return Connector{}, common.Internal("failed to get connector "+connectorID, err)
	}
	if !ok {
		return Connector{}, common.NotFoundf("can't find connector %s", connectorID)
	}
	return c, nil
}

// EnsureAction returns a connector guaranteed to carry a usable action of
// the given type. When the action is absent, or defines no request body
// template, a default is synthesized onto an in-memory copy; the stored
// connector is never modified.
func (r *Resolver) EnsureAction(c Connector, actionType string) Connector {
	if a, ok := c.FindAction(actionType); ok && a.RequestBody != "" {
		return c
	}
	synthesized := SynthesizeAction(c, actionType)
	r.log.Info("connector.resolve.action_synthesized",
		"connector", c.Name,
		"action_type", actionType,
	)
	return c.WithAction(synthesized)
}

// SynthesizeAction derives a default request template for actionType from
// the connector's submit action (same endpoint, same headers) and a job-name
// keyed request body.
func SynthesizeAction(c Connector, actionType string) Action {
	base, ok := c.FindAction(constants.ActionBatchPredict)
	if !ok && len(c.Actions) > 0 {
		base = c.Actions[0]
	}
	url := base.URL
	if url == "" {
		url = c.Parameters["endpoint"]
	}
	body := defaultStatusRequestBody()
	return Action{
		ActionType:  actionType,
		Method:      "POST",
		URL:         url,
		Headers:     cloneHeaders(base.Headers),
		RequestBody: body,
	}
}

func defaultStatusRequestBody() string {
	b, _ := json.Marshal(map[string]string{
		"TransformJobName": "${parameter.TransformJobName}",
	})
	return string(b)
}

func cloneHeaders(h map[string]string) map[string]string {
	if h == nil {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}
