// Package store keeps per-group delivery state: events parked for retry and
// events that exhausted their retries.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"gatekeeper/internal/dispatcher/models"
	id "gatekeeper/pkg/domain"
	"gatekeeper/pkg/platform/sentinel"
)

type retryKey struct {
	group string
	event id.EventID
}

// InMemoryRetries parks failed events per consumer group.
type InMemoryRetries struct {
	mu      sync.Mutex
	seq     int64
	entries map[retryKey]*models.RetryEntry
}

func NewInMemoryRetries() *InMemoryRetries {
	return &InMemoryRetries{entries: make(map[retryKey]*models.RetryEntry)}
}

func (s *InMemoryRetries) Park(_ context.Context, entry *models.RetryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := retryKey{entry.Group, entry.Event.ID}
	if _, ok := s.entries[key]; ok {
		return sentinel.ErrAlreadyUsed
	}
	s.seq++
	entry.Seq = s.seq
	s.entries[key] = cloneEntry(entry)
	return nil
}

func (s *InMemoryRetries) HasPending(_ context.Context, group string, itemID id.ApprovalID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.entries {
		if k.group == group && e.ItemID() == itemID {
			return true, nil
		}
	}
	return false, nil
}

// DueHeads returns, per approval item, the oldest parked entry when it is due.
// Entries behind a head are never returned.
func (s *InMemoryRetries) DueHeads(_ context.Context, group string, now time.Time, limit int) ([]*models.RetryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	heads := make(map[id.ApprovalID]*models.RetryEntry)
	for k, e := range s.entries {
		if k.group != group {
			continue
		}
		if h, ok := heads[e.ItemID()]; !ok || e.Seq < h.Seq {
			heads[e.ItemID()] = e
		}
	}
	var out []*models.RetryEntry
	for _, h := range heads {
		if !h.NextRetryAt.After(now) {
			out = append(out, cloneEntry(h))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].NextRetryAt.Equal(out[j].NextRetryAt) {
			return out[i].Seq < out[j].Seq
		}
		return out[i].NextRetryAt.Before(out[j].NextRetryAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryRetries) Update(_ context.Context, entry *models.RetryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := retryKey{entry.Group, entry.Event.ID}
	existing, ok := s.entries[key]
	if !ok {
		return sentinel.ErrNotFound
	}
	updated := cloneEntry(entry)
	updated.Seq = existing.Seq
	s.entries[key] = updated
	return nil
}

func (s *InMemoryRetries) Remove(_ context.Context, group string, eventID id.EventID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, retryKey{group, eventID})
	return nil
}

// Count returns the number of parked entries for the group.
func (s *InMemoryRetries) Count(_ context.Context, group string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.entries {
		if k.group == group {
			n++
		}
	}
	return n, nil
}

func cloneEntry(e *models.RetryEntry) *models.RetryEntry {
	c := *e
	c.History = append([]models.Attempt(nil), e.History...)
	return &c
}

// InMemoryDeadLetters holds dead letters until resolved.
type InMemoryDeadLetters struct {
	mu      sync.Mutex
	letters map[id.DeadLetterID]*models.DeadLetter
}

func NewInMemoryDeadLetters() *InMemoryDeadLetters {
	return &InMemoryDeadLetters{letters: make(map[id.DeadLetterID]*models.DeadLetter)}
}

// Add stores the dead letter. An event that dies again for the same group
// reopens its existing dead letter and keeps that id.
func (s *InMemoryDeadLetters) Add(_ context.Context, dl *models.DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.letters {
		if existing.Group == dl.Group && existing.Event.ID == dl.Event.ID {
			dl.ID = existing.ID
			dl.ReplayCount = existing.ReplayCount
			dl.ReplayedAt = existing.ReplayedAt
			break
		}
	}
	s.letters[dl.ID] = cloneLetter(dl)
	return nil
}

func (s *InMemoryDeadLetters) Get(_ context.Context, letterID id.DeadLetterID) (*models.DeadLetter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dl, ok := s.letters[letterID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneLetter(dl), nil
}

// List returns dead letters oldest first. An empty group lists every group.
func (s *InMemoryDeadLetters) List(_ context.Context, group string, includeResolved bool) ([]*models.DeadLetter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.DeadLetter
	for _, dl := range s.letters {
		if group != "" && dl.Group != group {
			continue
		}
		if dl.IsResolved() && !includeResolved {
			continue
		}
		out = append(out, cloneLetter(dl))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeadAt.Before(out[j].DeadAt) })
	return out, nil
}

func (s *InMemoryDeadLetters) MarkReplayed(_ context.Context, letterID id.DeadLetterID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dl, ok := s.letters[letterID]
	if !ok {
		return sentinel.ErrNotFound
	}
	dl.ReplayCount++
	dl.ReplayedAt = &at
	return nil
}

// Resolve closes an open dead letter. Resolving twice is a conflict.
func (s *InMemoryDeadLetters) Resolve(_ context.Context, letterID id.DeadLetterID, actor id.ActorID, note string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dl, ok := s.letters[letterID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if dl.IsResolved() {
		return sentinel.ErrConflict
	}
	dl.ResolvedAt = &at
	dl.ResolvedBy = actor
	dl.ResolutionNote = note
	return nil
}

func cloneLetter(dl *models.DeadLetter) *models.DeadLetter {
	c := *dl
	c.History = append([]models.Attempt(nil), dl.History...)
	return &c
}
