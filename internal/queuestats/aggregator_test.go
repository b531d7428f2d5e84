package queuestats_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callwatch/callwatch/internal/event"
	"github.com/callwatch/callwatch/internal/queuestats"
)

func TestJoinLeaveCounting(t *testing.T) {
	a := queuestats.New()

	a.OnEvent(event.QueueJoin{UniqueID: "1.1", Queue: "support"})
	a.OnEvent(event.QueueJoin{UniqueID: "1.2", Queue: "support"})
	assert.Equal(t, 2, a.Queues()["support"].WaitingCount)

	a.OnEvent(event.QueueLeave{UniqueID: "1.1", Queue: "support"})
	assert.Equal(t, 1, a.Queues()["support"].WaitingCount)
}

func TestWaitingCountNeverNegative(t *testing.T) {
	a := queuestats.New()

	// leaves with no matching joins, in any order
	a.OnEvent(event.QueueLeave{UniqueID: "1.1", Queue: "support"})
	a.OnEvent(event.QueueLeave{UniqueID: "1.2", Queue: "support"})
	a.OnEvent(event.QueueJoin{UniqueID: "1.3", Queue: "support"})
	a.OnEvent(event.QueueLeave{UniqueID: "1.3", Queue: "support"})
	a.OnEvent(event.QueueLeave{UniqueID: "1.4", Queue: "support"})

	assert.Equal(t, 0, a.Queues()["support"].WaitingCount)
}

func TestAbandonIncrementsAbandonedAndDecrementsWaiting(t *testing.T) {
	a := queuestats.New()

	a.OnEvent(event.QueueJoin{UniqueID: "X2", Queue: "Sales"})
	a.OnEvent(event.QueueAbandon{UniqueID: "X2", Queue: "Sales"})

	q := a.Queues()["Sales"]
	assert.Equal(t, 0, q.WaitingCount)
	assert.Equal(t, 1, q.AbandonedCount)
}

func TestParamsSnapshotReplacesCountersWholesale(t *testing.T) {
	a := queuestats.New()
	a.OnEvent(event.QueueJoin{UniqueID: "1.1", Queue: "support"})

	a.OnEvent(event.QueueParams{
		Queue:            "support",
		Waiting:          5,
		Completed:        120,
		Abandoned:        30,
		ServiceLevelPerf: 86.5,
		HoldTimeSeconds:  42,
	})

	q := a.Queues()["support"]
	assert.Equal(t, 5, q.WaitingCount)
	assert.Equal(t, 120, q.CompletedCount)
	assert.Equal(t, 30, q.AbandonedCount)
	assert.InDelta(t, 86.5, q.ServiceLevelPercent, 0.001)
	assert.Equal(t, 42, q.AvgWaitTimeSeconds)
}

func TestSummarySnapshotReplacesWaitingAndHoldOnly(t *testing.T) {
	a := queuestats.New()
	a.OnEvent(event.QueueParams{Queue: "support", Waiting: 5, Completed: 120, Abandoned: 30})

	a.OnEvent(event.QueueSummary{Queue: "support", Waiting: 2, HoldTimeSeconds: 15})

	q := a.Queues()["support"]
	assert.Equal(t, 2, q.WaitingCount)
	assert.Equal(t, 15, q.AvgWaitTimeSeconds)
	assert.Equal(t, 120, q.CompletedCount, "summary must not touch completed")
	assert.Equal(t, 30, q.AbandonedCount, "summary must not touch abandoned")
}

func TestMemberUpsert(t *testing.T) {
	a := queuestats.New()

	a.OnEvent(event.QueueMemberStatus{
		Queue: "support", Interface: "SIP/2001", Name: "Agent One",
		Status: 1, CallsTaken: 3,
	})
	a.OnEvent(event.QueueMemberStatus{
		Queue: "support", Interface: "SIP/2001", Name: "Agent One",
		Status: 2, Paused: true, CallsTaken: 4,
		LastCall: time.Unix(1700000000, 0).UTC(),
	})

	q := a.Queues()["support"]
	require.Len(t, q.Members, 1)
	m := q.Members["SIP/2001"]
	assert.Equal(t, 2, m.StatusCode)
	assert.True(t, m.Paused)
	assert.Equal(t, 4, m.CallsTaken)
}

func TestAbandonRate(t *testing.T) {
	q := queuestats.Queue{CompletedCount: 0, AbandonedCount: 0}
	assert.Equal(t, 0.0, q.AbandonRate())

	q = queuestats.Queue{CompletedCount: 90, AbandonedCount: 10}
	assert.Equal(t, 10.0, q.AbandonRate())

	q = queuestats.Queue{CompletedCount: 2, AbandonedCount: 1}
	assert.Equal(t, 33.3, q.AbandonRate())
}

func TestQueuesReturnsCopies(t *testing.T) {
	a := queuestats.New()
	a.OnEvent(event.QueueMemberStatus{Queue: "support", Interface: "SIP/2001", Status: 1})

	snap := a.Queues()
	snap["support"].Members["SIP/2001"] = queuestats.Member{Interface: "SIP/2001", StatusCode: 99}

	assert.Equal(t, 1, a.Queues()["support"].Members["SIP/2001"].StatusCode,
		"mutating a returned snapshot must not affect owned state")
}
