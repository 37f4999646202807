// Package store persists per-tenant settings.
package store

import (
	"context"
	"sort"
	"sync"

	"gatekeeper/internal/tenant/models"
	id "gatekeeper/pkg/domain"
	"gatekeeper/pkg/platform/sentinel"
)

// InMemory is a settings store for tests and single-process deployments.
type InMemory struct {
	mu       sync.RWMutex
	settings map[id.TenantID]models.Settings
}

func NewInMemory() *InMemory {
	return &InMemory{settings: make(map[id.TenantID]models.Settings)}
}

func (s *InMemory) Get(_ context.Context, tenantID id.TenantID) (*models.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.settings[tenantID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &v, nil
}

func (s *InMemory) Put(_ context.Context, settings *models.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[settings.TenantID] = *settings
	return nil
}

// ListTenants returns every tenant with stored settings, in stable order.
func (s *InMemory) ListTenants(_ context.Context) ([]id.TenantID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]id.TenantID, 0, len(s.settings))
	for tenantID := range s.settings {
		out = append(out, tenantID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}
