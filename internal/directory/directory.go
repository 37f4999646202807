// Package directory is the actor and role resolution collaborator: who gets a
// new item, who it escalates to, and who may decide it.
package directory

import (
	"context"
	"fmt"
	"os"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"

	id "gatekeeper/pkg/domain"
	dErrors "gatekeeper/pkg/domain-errors"
)

// Directory resolves actors for a tenant. A false or an error from MayDecide
// is an authorization failure.
type Directory interface {
	ResolveDefaultApprover(ctx context.Context, tenantID id.TenantID, kind string) (id.ActorID, error)
	EscalationChain(ctx context.Context, tenantID id.TenantID, kind string) ([]id.ActorID, error)
	MayDecide(ctx context.Context, actor id.ActorID, tenantID id.TenantID, approvalID id.ApprovalID) (bool, error)
}

// AnyKind keys the roster entry used when a kind has no specific entry.
const AnyKind = "*"

// Roster is one tenant's approver configuration.
type Roster struct {
	DefaultApprovers map[string]id.ActorID   `yaml:"default_approvers"`
	EscalationChains map[string][]id.ActorID `yaml:"escalation_chains"`
	// Deciders may decide any item of the tenant. When empty, every actor named
	// in DefaultApprovers or EscalationChains may decide.
	Deciders []id.ActorID `yaml:"deciders"`
}

// Static serves rosters held in memory, typically loaded from the seed file.
type Static struct {
	mu      sync.RWMutex
	rosters map[id.TenantID]Roster
}

func NewStatic() *Static {
	return &Static{rosters: make(map[id.TenantID]Roster)}
}

// SetRoster replaces a tenant's roster.
func (s *Static) SetRoster(tenantID id.TenantID, r Roster) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rosters[tenantID] = r
}

func (s *Static) roster(tenantID id.TenantID) (Roster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rosters[tenantID]
	if !ok {
		return Roster{}, dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("no approver roster for tenant %s", tenantID))
	}
	return r, nil
}

func (s *Static) ResolveDefaultApprover(_ context.Context, tenantID id.TenantID, kind string) (id.ActorID, error) {
	r, err := s.roster(tenantID)
	if err != nil {
		return "", err
	}
	if actor, ok := r.DefaultApprovers[kind]; ok && !actor.IsZero() {
		return actor, nil
	}
	if actor, ok := r.DefaultApprovers[AnyKind]; ok && !actor.IsZero() {
		return actor, nil
	}
	return "", dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("no default approver for kind %q", kind))
}

func (s *Static) EscalationChain(_ context.Context, tenantID id.TenantID, kind string) ([]id.ActorID, error) {
	r, err := s.roster(tenantID)
	if err != nil {
		return nil, err
	}
	if chain, ok := r.EscalationChains[kind]; ok {
		return slices.Clone(chain), nil
	}
	return slices.Clone(r.EscalationChains[AnyKind]), nil
}

func (s *Static) MayDecide(_ context.Context, actor id.ActorID, tenantID id.TenantID, _ id.ApprovalID) (bool, error) {
	if actor.IsZero() {
		return false, nil
	}
	r, err := s.roster(tenantID)
	if err != nil {
		return false, err
	}
	if len(r.Deciders) > 0 {
		return slices.Contains(r.Deciders, actor), nil
	}
	for _, a := range r.DefaultApprovers {
		if a == actor {
			return true, nil
		}
	}
	for _, chain := range r.EscalationChains {
		if slices.Contains(chain, actor) {
			return true, nil
		}
	}
	return false, nil
}

// SeedTenant is one tenant entry of the seed file.
type SeedTenant struct {
	TenantID id.TenantID `yaml:"tenant_id"`
	Roster   `yaml:",inline"`
}

// LoadFile reads rosters from a YAML seed file with a top-level "tenants" list.
func LoadFile(path string, into *Static) error {
	body, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}
	var doc struct {
		Tenants []SeedTenant `yaml:"tenants"`
	}
	if err := yaml.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("parse seed file: %w", err)
	}
	for _, t := range doc.Tenants {
		if t.TenantID.IsNil() {
			return fmt.Errorf("parse seed file: tenant entry without tenant_id")
		}
		into.SetRoster(t.TenantID, t.Roster)
	}
	return nil
}
