package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/taskbridge/taskbridge/constants"
	"github.com/taskbridge/taskbridge/internal/connector"
)

// MemoryStore is the in-process Store backend, used for local runs and
// tests. Reads hand out copies so callers can never mutate stored state
// behind the store's back.
type MemoryStore struct {
	mu         sync.RWMutex
	tasks      map[string]*TaskRecord
	models     map[string]*ModelRecord
	groups     map[string]*ModelGroupRecord
	connectors map[string]connector.Connector
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:      make(map[string]*TaskRecord),
		models:     make(map[string]*ModelRecord),
		groups:     make(map[string]*ModelGroupRecord),
		connectors: make(map[string]connector.Connector),
	}
}

func (s *MemoryStore) GetTask(_ context.Context, id string) (*TaskRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, false, nil
	}
	return t.Clone(), true, nil
}

func (s *MemoryStore) ListTasks(_ context.Context, tenantID string, limit int) ([]TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]TaskRecord, 0, len(s.tasks))
	for _, t := range s.tasks {
		if tenantID != "" && t.TenantID != tenantID {
			continue
		}
		out = append(out, *t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) PartialUpdateTask(_ context.Context, id string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("task %s not found", id)
	}
	for key, value := range fields {
		switch key {
		case FieldState:
			switch v := value.(type) {
			case constants.TaskState:
				t.State = v
			case string:
				t.State = constants.TaskState(v)
			default:
				return fmt.Errorf("unsupported value for field %s", key)
			}
		case FieldError:
			str, ok := value.(string)
			if !ok {
				return fmt.Errorf("unsupported value for field %s", key)
			}
			t.Error = str
		case FieldRemoteJob:
			m, ok := value.(map[string]any)
			if !ok {
				return fmt.Errorf("unsupported value for field %s", key)
			}
			if t.RemoteJob == nil {
				t.RemoteJob = make(map[string]any, len(m))
			}
			for k, v := range m {
				t.RemoteJob[k] = v
			}
		default:
			return fmt.Errorf("unknown task field %s", key)
		}
	}
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) GetModel(_ context.Context, id string) (*ModelRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.models[id]
	if !ok {
		return nil, false, nil
	}
	cp := *m
	if m.Connector != nil {
		conn := *m.Connector
		cp.Connector = &conn
	}
	return &cp, true, nil
}

func (s *MemoryStore) GetConnector(_ context.Context, id string) (connector.Connector, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.connectors[id]
	return c, ok, nil
}

func (s *MemoryStore) GetModelGroup(_ context.Context, id string) (*ModelGroupRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[id]
	if !ok {
		return nil, false, nil
	}
	cp := *g
	cp.Owners = append([]string(nil), g.Owners...)
	return &cp, true, nil
}

func (s *MemoryStore) Close() error { return nil }

// Seed helpers for local mode and tests.

func (s *MemoryStore) PutTask(t *TaskRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	s.tasks[t.ID] = t.Clone()
}

func (s *MemoryStore) PutModel(m *ModelRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models[m.ID] = m
}

func (s *MemoryStore) PutModelGroup(g *ModelGroupRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[g.ID] = g
}

func (s *MemoryStore) PutConnector(c connector.Connector) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectors[c.ID] = c
}
