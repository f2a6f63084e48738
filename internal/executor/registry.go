package executor

import (
	"sync"

	"github.com/taskbridge/taskbridge/constants"
	"github.com/taskbridge/taskbridge/internal/common"
	"github.com/taskbridge/taskbridge/internal/connector"
)

// Factory builds a per-invocation executor for a connector. The decrypted
// credentials are scoped to this single invocation.
type Factory func(conn connector.Connector, creds map[string]string) (Executor, error)

// Registry maps connector protocols to executor factories. Implementations
// register at startup; an unregistered protocol is a configuration error,
// reported fast rather than guessed around.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register installs a factory for a protocol name, replacing any previous
// registration.
func (r *Registry) Register(protocol string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[protocol] = f
}

// New builds an executor for the connector's protocol.
func (r *Registry) New(conn connector.Connector, creds map[string]string) (Executor, error) {
	r.mu.RLock()
	f, ok := r.factories[conn.Protocol]
	r.mu.RUnlock()
	if !ok {
		return nil, common.Configuration("no executor registered for connector protocol \""+conn.Protocol+"\"", nil)
	}
	return f(conn, creds)
}

// DefaultRegistry returns a registry with the built-in protocols.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(constants.ProtocolHTTP, func(conn connector.Connector, creds map[string]string) (Executor, error) {
		return NewHTTPExecutor(conn, creds), nil
	})
	return r
}
