// Package access decides whether a caller may touch the model group that
// owns a task's model. "Denied" is a first-class answer, distinct from an
// inability to evaluate the policy at all.
package access

import (
	"context"
	"log/slog"

	"github.com/taskbridge/taskbridge/internal/common"
	"github.com/taskbridge/taskbridge/internal/repository"
)

// Gate validates model-group access for an identity. A (false, nil) return
// means denied; a non-nil error means the check itself could not be
// evaluated and must not be reported to callers as a denial.
type Gate interface {
	Validate(ctx context.Context, id common.Identity, tenantID, modelGroupID string) (bool, error)
}

// StoreGate evaluates membership against the persisted model group record.
// A model with no group record is treated as unrestricted, matching
// deployments that never configured access control.
type StoreGate struct {
	groups repository.GroupStore
	log    *slog.Logger
}

func NewStoreGate(groups repository.GroupStore, logger *slog.Logger) *StoreGate {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreGate{groups: groups, log: logger}
}

func (g *StoreGate) Validate(ctx context.Context, id common.Identity, tenantID, modelGroupID string) (bool, error) {
	if modelGroupID == "" {
		return true, nil
	}
	group, ok, err := g.groups.GetModelGroup(ctx, modelGroupID)
	if err != nil {
		g.log.Error("access.validate.lookup_failed", "model_group_id", modelGroupID, "error", err)
		return false, common.Internal("failed to evaluate model group access", err)
	}
	if !ok {
		return true, nil
	}
	if group.TenantID != "" && tenantID != "" && group.TenantID != tenantID {
		return false, nil
	}
	if group.Public || id.IsAdmin() {
		return true, nil
	}
	for _, owner := range group.Owners {
		if owner == id.Subject && id.Subject != "" {
			return true, nil
		}
	}
	return false, nil
}

// GateFunc adapts a function to Gate; used by tests and embedded setups.
type GateFunc func(ctx context.Context, id common.Identity, tenantID, modelGroupID string) (bool, error)

func (f GateFunc) Validate(ctx context.Context, id common.Identity, tenantID, modelGroupID string) (bool, error) {
	return f(ctx, id, tenantID, modelGroupID)
}
