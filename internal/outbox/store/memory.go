package store

import (
	"context"
	"sync"
	"time"

	"gatekeeper/internal/outbox/models"
	id "gatekeeper/pkg/domain"
	"gatekeeper/pkg/platform/sentinel"
)

// InMemory keeps outbox entries in insertion order.
type InMemory struct {
	mu      sync.Mutex
	seq     int64
	entries []*models.Entry
	notify  chan struct{}
}

func NewInMemory() *InMemory {
	return &InMemory{notify: make(chan struct{}, 1)}
}

func (s *InMemory) Append(_ context.Context, entries ...*models.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		for _, existing := range s.entries {
			if existing.ID == e.ID {
				return sentinel.ErrAlreadyUsed
			}
		}
	}
	for _, e := range entries {
		s.seq++
		e.Seq = s.seq
		cp := *e
		s.entries = append(s.entries, &cp)
	}
	select {
	case s.notify <- struct{}{}:
	default:
	}
	return nil
}

// Notifications wakes the relay after each append, like the Postgres trigger.
func (s *InMemory) Notifications() <-chan struct{} {
	return s.notify
}

func (s *InMemory) FetchUnpublished(_ context.Context, limit int) ([]*models.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Entry
	for _, e := range s.entries {
		if e.IsPublished() {
			continue
		}
		cp := *e
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *InMemory) MarkPublished(_ context.Context, ids []id.EventID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[id.EventID]struct{}, len(ids))
	for _, eventID := range ids {
		want[eventID] = struct{}{}
	}
	for _, e := range s.entries {
		if _, ok := want[e.ID]; ok && e.PublishedAt == nil {
			t := at
			e.PublishedAt = &t
		}
	}
	return nil
}

func (s *InMemory) Purge(_ context.Context, publishedBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.entries[:0]
	purged := 0
	for _, e := range s.entries {
		if e.PublishedAt != nil && e.PublishedAt.Before(publishedBefore) {
			purged++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return purged, nil
}

// All returns every entry, published or not, in sequence order.
func (s *InMemory) All() []*models.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Entry, len(s.entries))
	for i, e := range s.entries {
		cp := *e
		out[i] = &cp
	}
	return out
}
