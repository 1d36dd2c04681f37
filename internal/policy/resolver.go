package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tradewire/agentcore/internal/store"
	"github.com/tradewire/agentcore/pkg/schema"
)

// Resolver produces a tenant's effective policy by overlaying the active
// stored policy document onto the static defaults.
type Resolver struct {
	store    store.Store
	defaults Policy
}

// NewResolver creates a Resolver backed by the given store.
func NewResolver(s store.Store) *Resolver {
	return &Resolver{store: s, defaults: Defaults()}
}

// Defaults returns the base policy applied to tenants with no stored policy.
func (r *Resolver) Defaults() Policy {
	return r.defaults
}

// ForTenant resolves the effective policy for a tenant. A tenant with no
// active stored policy gets the defaults. Fields present in the stored
// document replace defaults; map entries are merged per key.
func (r *Resolver) ForTenant(ctx context.Context, tenantID string) (Policy, error) {
	p := r.defaults

	stored, err := r.store.GetActivePolicy(ctx, tenantID)
	if err != nil {
		var acErr *schema.AgentCoreError
		if errors.As(err, &acErr) && acErr.Code == schema.ErrCodeNotFound {
			return p, nil
		}
		return p, fmt.Errorf("resolve policy for tenant %q: %w", tenantID, err)
	}

	if err := json.Unmarshal(stored.Policy, &p); err != nil {
		return r.defaults, schema.NewErrorf(schema.ErrCodeStore,
			"tenant %q has malformed active policy (version %d)", tenantID, stored.Version).WithCause(err)
	}
	return p, nil
}

// Activate validates and stores a new policy version for the tenant,
// making it the single active version transactionally.
func (r *Resolver) Activate(ctx context.Context, tenantID string, doc json.RawMessage) (*store.TenantPolicy, error) {
	var probe Policy
	if err := json.Unmarshal(doc, &probe); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "policy document is not valid JSON").WithCause(err)
	}
	return r.store.ActivatePolicy(ctx, tenantID, doc)
}
