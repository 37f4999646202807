package eventlog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"gatekeeper/internal/events"
	id "gatekeeper/pkg/domain"
)

type MemoryLogSuite struct {
	suite.Suite
	log    *Memory
	now    time.Time
	tenant id.TenantID
}

func TestMemoryLogSuite(t *testing.T) {
	suite.Run(t, new(MemoryLogSuite))
}

func (s *MemoryLogSuite) SetupTest() {
	s.now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.tenant = id.TenantID(uuid.New())
	s.log = NewMemory(WithPartitions(3), WithClock(func() time.Time { return s.now }))
}

func (s *MemoryLogSuite) event(item id.ApprovalID, status string) events.Event {
	e, err := events.New(events.TypeReminded, s.tenant, item, "", s.now, events.Reminded{
		Title: "campaign", Status: status, AssignedTo: "approver-a",
	})
	s.Require().NoError(err)
	return e
}

func (s *MemoryLogSuite) pollAll(c Consumer, want int) []Record {
	var out []Record
	for len(out) < want {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		recs, err := c.Poll(ctx)
		cancel()
		s.Require().NoError(err)
		out = append(out, recs...)
	}
	return out
}

func (s *MemoryLogSuite) TestOneItemKeepsAppendOrder() {
	item := id.NewApprovalID()
	other := id.NewApprovalID()
	first, second, third := s.event(item, "one"), s.event(other, "x"), s.event(item, "two")
	s.Require().NoError(s.log.Append(context.Background(), first, second))
	s.Require().NoError(s.log.Append(context.Background(), third))

	c, err := s.log.Consumer("audit")
	s.Require().NoError(err)
	defer c.Close()

	var forItem []id.EventID
	for _, r := range s.pollAll(c, 3) {
		s.Require().NoError(r.Err)
		if r.Event.ApprovalItemID == item {
			forItem = append(forItem, r.Event.ID)
		}
	}
	s.Equal([]id.EventID{first.ID, third.ID}, forItem)
}

func (s *MemoryLogSuite) TestGroupsHaveIndependentCursors() {
	e := s.event(id.NewApprovalID(), "pending")
	s.Require().NoError(s.log.Append(context.Background(), e))

	audit, err := s.log.Consumer("audit")
	s.Require().NoError(err)
	defer audit.Close()
	notify, err := s.log.Consumer("notifications")
	s.Require().NoError(err)
	defer notify.Close()

	a := s.pollAll(audit, 1)
	n := s.pollAll(notify, 1)
	s.Equal(e.ID, a[0].Event.ID)
	s.Equal(e.ID, n[0].Event.ID)

	s.Require().NoError(audit.Commit(context.Background(), a...))
	s.Equal(int64(1), sum(s.log.Committed("audit")))
	s.Equal(int64(0), sum(s.log.Committed("notifications")))
}

func (s *MemoryLogSuite) TestUncommittedRecordsAreRedelivered() {
	first, second := s.event(id.NewApprovalID(), "a"), s.event(id.NewApprovalID(), "b")
	s.Require().NoError(s.log.Append(context.Background(), first, second))

	c, err := s.log.Consumer("audit")
	s.Require().NoError(err)
	recs := s.pollAll(c, 2)
	var committed Record
	for _, r := range recs {
		if r.Event.ID == first.ID {
			committed = r
		}
	}
	s.Require().NoError(c.Commit(context.Background(), committed))
	c.Close()

	c, err = s.log.Consumer("audit")
	s.Require().NoError(err)
	defer c.Close()
	again := s.pollAll(c, 1)
	s.Require().Len(again, 1)
	s.Equal(second.ID, again[0].Event.ID)
}

func (s *MemoryLogSuite) TestOneConsumerPerGroup() {
	c, err := s.log.Consumer("audit")
	s.Require().NoError(err)
	_, err = s.log.Consumer("audit")
	s.Error(err)
	c.Close()
	c, err = s.log.Consumer("audit")
	s.Require().NoError(err)
	c.Close()
}

func (s *MemoryLogSuite) TestPollBlocksUntilAppend() {
	c, err := s.log.Consumer("audit")
	s.Require().NoError(err)
	defer c.Close()

	done := make(chan []Record, 1)
	go func() {
		recs, _ := c.Poll(context.Background())
		done <- recs
	}()

	e := s.event(id.NewApprovalID(), "pending")
	s.Require().NoError(s.log.Append(context.Background(), e))
	select {
	case recs := <-done:
		s.Require().Len(recs, 1)
		s.Equal(e.ID, recs[0].Event.ID)
	case <-time.After(2 * time.Second):
		s.Fail("poll did not wake up")
	}
}

func (s *MemoryLogSuite) TestPollReturnsContextError() {
	c, err := s.log.Consumer("audit")
	s.Require().NoError(err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Poll(ctx)
	s.ErrorIs(err, context.DeadlineExceeded)
}

func (s *MemoryLogSuite) TestClosedLog() {
	c, err := s.log.Consumer("audit")
	s.Require().NoError(err)
	s.log.Close()

	_, err = c.Poll(context.Background())
	s.ErrorIs(err, ErrClosed)
	err = s.log.Append(context.Background(), s.event(id.NewApprovalID(), "x"))
	s.ErrorIs(err, ErrClosed)
}

func (s *MemoryLogSuite) TestReplayMetadataSurvives() {
	e := s.event(id.NewApprovalID(), "pending").AsReplay("notifications")
	s.Require().NoError(s.log.Append(context.Background(), e))

	c, err := s.log.Consumer("audit")
	s.Require().NoError(err)
	defer c.Close()
	recs := s.pollAll(c, 1)
	s.True(recs[0].Event.Replay)
	s.Equal("notifications", recs[0].Event.ReplayGroup)
}

func (s *MemoryLogSuite) TestReadRangeIsHalfOpen() {
	early := s.event(id.NewApprovalID(), "early")
	s.Require().NoError(s.log.Append(context.Background(), early))
	s.now = s.now.Add(time.Hour)
	inside := s.event(id.NewApprovalID(), "inside")
	s.Require().NoError(s.log.Append(context.Background(), inside))
	s.now = s.now.Add(time.Hour)
	late := s.event(id.NewApprovalID(), "late")
	s.Require().NoError(s.log.Append(context.Background(), late))

	from := s.now.Add(-time.Hour)
	var seen []id.EventID
	err := s.log.ReadRange(context.Background(), from, s.now, func(r Record) error {
		seen = append(seen, r.Event.ID)
		return nil
	})
	s.Require().NoError(err)
	s.Equal([]id.EventID{inside.ID}, seen)
}

func (s *MemoryLogSuite) TestReadRangeStopsOnCallbackError() {
	for i := 0; i < 3; i++ {
		s.Require().NoError(s.log.Append(context.Background(), s.event(id.NewApprovalID(), "x")))
	}
	stop := errors.New("stop")
	calls := 0
	err := s.log.ReadRange(context.Background(), s.now.Add(-time.Minute), s.now.Add(time.Minute), func(Record) error {
		calls++
		return stop
	})
	s.ErrorIs(err, stop)
	s.Equal(1, calls)
}

func TestDecodeMemFlagsCorruptRecords(t *testing.T) {
	rec := decodeMem(0, 7, memRecord{payload: []byte("{not json")})
	require.Error(t, rec.Err)
	assert.Equal(t, int64(7), rec.Offset)
}

func sum(xs []int64) int64 {
	var n int64
	for _, x := range xs {
		n += x
	}
	return n
}
