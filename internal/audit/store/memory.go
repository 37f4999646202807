package store

import (
	"context"
	"sort"
	"sync"

	"gatekeeper/internal/audit/models"
	id "gatekeeper/pkg/domain"
)

// InMemory is an append-only audit log keyed by event id.
type InMemory struct {
	mu      sync.RWMutex
	records map[id.EventID]*models.Record
}

func NewInMemory() *InMemory {
	return &InMemory{records: make(map[id.EventID]*models.Record)}
}

// Append stores rec unless a record for the same event exists. It reports
// whether rec was inserted.
func (s *InMemory) Append(_ context.Context, rec *models.Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.EventID]; ok {
		return false, nil
	}
	cp := *rec
	s.records[rec.EventID] = &cp
	return true, nil
}

// ListByApproval returns an item's records, oldest first.
func (s *InMemory) ListByApproval(_ context.Context, tenantID id.TenantID, approvalID id.ApprovalID) ([]*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Record
	for _, rec := range s.records {
		if rec.TenantID == tenantID && rec.ApprovalItemID == approvalID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].RecordedAt.Before(out[j].RecordedAt)
		}
		return out[i].OccurredAt.Before(out[j].OccurredAt)
	})
	return out, nil
}

// Count returns the number of stored records.
func (s *InMemory) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
