// Package store is the system of record for approval items. Every query is
// tenant scoped and every update is a compare-and-swap on Version.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"gatekeeper/internal/approval/models"
	id "gatekeeper/pkg/domain"
	"gatekeeper/pkg/platform/sentinel"
)

const defaultListLimit = 100

// InMemory is an approval store for tests and single-process deployments.
type InMemory struct {
	mu    sync.RWMutex
	items map[id.ApprovalID]*models.Item
	keys  map[id.TenantID]map[string]id.ApprovalID
}

func NewInMemory() *InMemory {
	return &InMemory{
		items: make(map[id.ApprovalID]*models.Item),
		keys:  make(map[id.TenantID]map[string]id.ApprovalID),
	}
}

func (s *InMemory) Create(_ context.Context, item *models.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[item.ID]; ok {
		return sentinel.ErrAlreadyUsed
	}
	byKey := s.keys[item.TenantID]
	if byKey == nil {
		byKey = make(map[string]id.ApprovalID)
		s.keys[item.TenantID] = byKey
	}
	if _, ok := byKey[item.IdempotencyKey]; ok {
		return sentinel.ErrAlreadyUsed
	}
	byKey[item.IdempotencyKey] = item.ID
	s.items[item.ID] = item.Clone()
	return nil
}

func (s *InMemory) Get(_ context.Context, tenantID id.TenantID, approvalID id.ApprovalID) (*models.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[approvalID]
	if !ok || item.TenantID != tenantID {
		return nil, sentinel.ErrNotFound
	}
	return item.Clone(), nil
}

func (s *InMemory) GetByIdempotencyKey(_ context.Context, tenantID id.TenantID, key string) (*models.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	approvalID, ok := s.keys[tenantID][key]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.items[approvalID].Clone(), nil
}

// Update writes item if the stored version still equals expectedVersion.
// On success item.Version is advanced.
func (s *InMemory) Update(_ context.Context, item *models.Item, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.items[item.ID]
	if !ok || current.TenantID != item.TenantID {
		return sentinel.ErrNotFound
	}
	if current.Version != expectedVersion {
		return sentinel.ErrConflict
	}
	item.Version = expectedVersion + 1
	s.items[item.ID] = item.Clone()
	return nil
}

func (s *InMemory) List(_ context.Context, tenantID id.TenantID, filter models.ListFilter) ([]*models.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Item
	for _, item := range s.items {
		if item.TenantID != tenantID {
			continue
		}
		if filter.Status != "" && item.Status != filter.Status {
			continue
		}
		if !filter.AssignedTo.IsZero() && item.AssignedTo != filter.AssignedTo {
			continue
		}
		if !filter.IncludeArchived && item.ArchivedAt != nil {
			continue
		}
		out = append(out, item.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return truncate(out, filter.Limit), nil
}

// ListDue returns open, unarchived items whose deadline is at or before now,
// earliest deadline first.
func (s *InMemory) ListDue(_ context.Context, tenantID id.TenantID, now time.Time, limit int) ([]*models.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Item
	for _, item := range s.items {
		if item.TenantID == tenantID && item.IsDue(now) {
			out = append(out, item.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueAt.Before(out[j].DueAt) })
	return truncate(out, limit), nil
}

// ArchiveDecided archives terminal items last updated before cutoff.
func (s *InMemory) ArchiveDecided(_ context.Context, tenantID id.TenantID, cutoff, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, item := range s.items {
		if item.TenantID != tenantID || !item.Status.IsTerminal() || item.ArchivedAt != nil || !item.UpdatedAt.Before(cutoff) {
			continue
		}
		if err := item.Archive(now); err != nil {
			continue
		}
		item.Version++
		n++
	}
	return n, nil
}

// ActiveTenants lists tenants owning at least one unarchived item.
func (s *InMemory) ActiveTenants(_ context.Context) ([]id.TenantID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[id.TenantID]struct{})
	var out []id.TenantID
	for _, item := range s.items {
		if item.ArchivedAt != nil {
			continue
		}
		if _, ok := seen[item.TenantID]; ok {
			continue
		}
		seen[item.TenantID] = struct{}{}
		out = append(out, item.TenantID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

func truncate(items []*models.Item, limit int) []*models.Item {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if len(items) > limit {
		return items[:limit]
	}
	return items
}
