// Package connector models how taskbridge reaches a remote execution
// backend: a protocol, connection parameters, encrypted credentials, and a
// set of named actions (request templates).
package connector

// Action is one named request template on a connector.
type Action struct {
	ActionType  string            `json:"action_type"`
	Method      string            `json:"method"`
	URL         string            `json:"url"`
	Headers     map[string]string `json:"headers,omitempty"`
	RequestBody string            `json:"request_body,omitempty"`
}

// Connector describes one remote backend. Connectors are value types: a
// fetched connector is never mutated in place, modifications produce a local
// copy used only for the current call and are never written back to the
// store.
type Connector struct {
	ID         string            `json:"id,omitempty"`
	Name       string            `json:"name"`
	Protocol   string            `json:"protocol"`
	Parameters map[string]string `json:"parameters,omitempty"`
	Credential map[string]string `json:"credential,omitempty"` // encrypted values
	Actions    []Action          `json:"actions,omitempty"`
}

// FindAction returns the first action of the given type.
func (c Connector) FindAction(actionType string) (Action, bool) {
	for _, a := range c.Actions {
		if a.ActionType == actionType {
			return a, true
		}
	}
	return Action{}, false
}

// WithAction returns a copy of the connector carrying the action. An
// existing action of the same type is replaced so lookups cannot land on a
// stale template. The receiver's action slice is not shared with the copy.
func (c Connector) WithAction(a Action) Connector {
	actions := make([]Action, 0, len(c.Actions)+1)
	replaced := false
	for _, existing := range c.Actions {
		if existing.ActionType == a.ActionType {
			actions = append(actions, a)
			replaced = true
			continue
		}
		actions = append(actions, existing)
	}
	if !replaced {
		actions = append(actions, a)
	}
	c.Actions = actions
	return c
}
