package eventlog

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"gatekeeper/internal/events"
)

const (
	defaultMemoryPartitions = 4
	defaultPollBatch        = 100
)

type memRecord struct {
	timestamp time.Time
	payload   []byte
	replay    bool
	group     string
}

// Memory is an in-process log with real partitions and group cursors. Events
// are stored encoded so consumers see exactly what a broker would return.
type Memory struct {
	mu         sync.Mutex
	partitions [][]memRecord
	committed  map[string][]int64
	active     map[string]bool
	wake       chan struct{}
	clock      func() time.Time
	closed     bool
}

type MemoryOption func(*Memory)

func WithPartitions(n int) MemoryOption {
	return func(m *Memory) {
		if n > 0 {
			m.partitions = make([][]memRecord, n)
		}
	}
}

func WithClock(clock func() time.Time) MemoryOption {
	return func(m *Memory) {
		if clock != nil {
			m.clock = clock
		}
	}
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		partitions: make([][]memRecord, defaultMemoryPartitions),
		committed:  make(map[string][]int64),
		active:     make(map[string]bool),
		wake:       make(chan struct{}),
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) partitionFor(key []byte) int {
	h := fnv.New32a()
	_, _ = h.Write(key)
	return int(h.Sum32() % uint32(len(m.partitions)))
}

func (m *Memory) Append(ctx context.Context, evs ...events.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	encoded := make([][]byte, len(evs))
	for i, e := range evs {
		b, err := events.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode event %s: %w", e.ID, err)
		}
		encoded[i] = b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	now := m.clock().UTC()
	for i, e := range evs {
		p := m.partitionFor(e.PartitionKey())
		m.partitions[p] = append(m.partitions[p], memRecord{
			timestamp: now,
			payload:   encoded[i],
			replay:    e.Replay,
			group:     e.ReplayGroup,
		})
	}
	close(m.wake)
	m.wake = make(chan struct{})
	return nil
}

// Consumer returns the group's consumer. Only one may be open per group.
func (m *Memory) Consumer(group string) (Consumer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if m.active[group] {
		return nil, fmt.Errorf("eventlog: group %q already has a consumer", group)
	}
	if _, ok := m.committed[group]; !ok {
		m.committed[group] = make([]int64, len(m.partitions))
	}
	m.active[group] = true
	position := make([]int64, len(m.partitions))
	copy(position, m.committed[group])
	return &memConsumer{log: m, group: group, position: position}, nil
}

func (m *Memory) ReadRange(ctx context.Context, from, to time.Time, fn func(Record) error) error {
	m.mu.Lock()
	var recs []Record
	for p, part := range m.partitions {
		for off, r := range part {
			if r.timestamp.Before(from) || !r.timestamp.Before(to) {
				continue
			}
			recs = append(recs, decodeMem(int32(p), int64(off), r))
		}
	}
	m.mu.Unlock()

	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Timestamp.Before(recs[j].Timestamp) })
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.wake)
}

// Committed returns the group's committed offset per partition.
func (m *Memory) Committed(group string) []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int64, len(m.partitions))
	copy(out, m.committed[group])
	return out
}

// Len returns the number of records in the log.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, part := range m.partitions {
		n += len(part)
	}
	return n
}

func decodeMem(p int32, off int64, r memRecord) Record {
	rec := Record{Partition: p, Offset: off, Timestamp: r.timestamp}
	e, err := events.Unmarshal(r.payload)
	if err != nil {
		rec.Err = err
		return rec
	}
	e.Replay = r.replay
	e.ReplayGroup = r.group
	rec.Event = e
	return rec
}

type memConsumer struct {
	log      *Memory
	group    string
	position []int64
	closed   bool
}

func (c *memConsumer) Poll(ctx context.Context) ([]Record, error) {
	for {
		c.log.mu.Lock()
		if c.closed || c.log.closed {
			c.log.mu.Unlock()
			return nil, ErrClosed
		}
		var out []Record
		for p, part := range c.log.partitions {
			for c.position[p] < int64(len(part)) && len(out) < defaultPollBatch {
				off := c.position[p]
				out = append(out, decodeMem(int32(p), off, part[off]))
				c.position[p]++
			}
		}
		wake := c.log.wake
		c.log.mu.Unlock()

		if len(out) > 0 {
			return out, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wake:
		}
	}
}

func (c *memConsumer) Commit(_ context.Context, recs ...Record) error {
	c.log.mu.Lock()
	defer c.log.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	committed := c.log.committed[c.group]
	for _, r := range recs {
		if next := r.Offset + 1; next > committed[r.Partition] {
			committed[r.Partition] = next
		}
	}
	return nil
}

func (c *memConsumer) Close() {
	c.log.mu.Lock()
	defer c.log.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	delete(c.log.active, c.group)
}
