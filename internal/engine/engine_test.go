package engine_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callwatch/callwatch/internal/ami"
	"github.com/callwatch/callwatch/internal/billing"
	"github.com/callwatch/callwatch/internal/cdr"
	"github.com/callwatch/callwatch/internal/engine"
	"github.com/callwatch/callwatch/internal/presence"
	"github.com/callwatch/callwatch/internal/publisher"
	"github.com/callwatch/callwatch/internal/reconcile"
	"github.com/callwatch/callwatch/internal/session"
	"github.com/callwatch/callwatch/internal/snapshot"
)

func steppingClock(start time.Time, step time.Duration) session.Clock {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := now
		now = now.Add(step)
		return t
	}
}

type fakeTrunks struct {
	trunk billing.Trunk
}

func (f fakeTrunks) FindByName(_ context.Context, name string) (billing.Trunk, bool, error) {
	if name != f.trunk.Name {
		return billing.Trunk{}, false, nil
	}
	return f.trunk, true, nil
}

type fakeLedger struct {
	mu     sync.Mutex
	deltas []string
}

func (f *fakeLedger) ApplyBalanceDelta(_ context.Context, accountCode string, _ int, _ int64, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deltas = append(f.deltas, accountCode)
	return nil
}

func (f *fakeLedger) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.deltas)
}

type fakeRegistry struct{}

func (fakeRegistry) GetRegistrationStatus(context.Context, string) (presence.Registration, error) {
	return presence.Registration{Registered: true}, nil
}

func startEngine(t *testing.T, eng *engine.Engine) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = eng.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestInboundQueueCallAnsweredAndReconciled(t *testing.T) {
	store := cdr.NewMemory()
	eng := engine.New(engine.Config{}, reconcile.New(store), nil, nil,
		session.WithClock(steppingClock(time.Unix(1700000000, 0), 10*time.Second)))
	startEngine(t, eng)

	eng.Submit(ami.NewEvent("Event", "Newchannel",
		"Uniqueid", "1700000000.42", "Channel", "PJSIP/trunk-in-00000001",
		"CallerIDNum", "15551234567", "Exten", "100", "Context", "from-trunk"))
	eng.Submit(ami.NewEvent("Event", "QueueCallerJoin",
		"Uniqueid", "1700000000.42", "Queue", "support", "Position", "1",
		"CallerIDNum", "15551234567"))
	eng.Submit(ami.NewEvent("Event", "QueueCallerLeave",
		"Uniqueid", "1700000000.42", "Queue", "support"))
	eng.Submit(ami.NewEvent("Event", "Newstate",
		"Uniqueid", "1700000000.42", "ChannelStateDesc", "Up"))
	eng.Submit(ami.NewEvent("Event", "Hangup",
		"Uniqueid", "1700000000.42", "Cause", "16", "CallerIDNum", "15551234567"))

	require.Eventually(t, func() bool {
		_, ok, _ := store.FindByUniqueID(context.Background(), "1700000000.42")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	rec, ok, err := store.FindByUniqueID(context.Background(), "1700000000.42")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, cdr.DispositionAnswered, rec.Disposition)
	assert.Greater(t, rec.BillableSeconds, 0)
	assert.Equal(t, "15551234567", rec.CallerNumber)

	assert.Empty(t, eng.ActiveCalls())
	queues := eng.QueueStats()
	require.Contains(t, queues, "support")
	assert.Equal(t, 0, queues["support"].WaitingCount)
}

func TestAbandonedQueueCall(t *testing.T) {
	store := cdr.NewMemory()
	eng := engine.New(engine.Config{}, reconcile.New(store), nil, nil,
		session.WithClock(steppingClock(time.Unix(1700000000, 0), 5*time.Second)))
	startEngine(t, eng)

	eng.Submit(ami.NewEvent("Event", "Newchannel",
		"Uniqueid", "1700000000.77", "Channel", "PJSIP/trunk-in-00000002",
		"CallerIDNum", "15559876543", "Exten", "200", "Context", "from-trunk"))
	eng.Submit(ami.NewEvent("Event", "QueueCallerJoin",
		"Uniqueid", "1700000000.77", "Queue", "sales", "Position", "1",
		"CallerIDNum", "15559876543"))
	eng.Submit(ami.NewEvent("Event", "QueueCallerAbandon",
		"Uniqueid", "1700000000.77", "Queue", "sales", "Position", "1", "HoldTime", "23"))

	require.Eventually(t, func() bool {
		_, ok, _ := store.FindByUniqueID(context.Background(), "1700000000.77")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	rec, _, err := store.FindByUniqueID(context.Background(), "1700000000.77")
	require.NoError(t, err)
	assert.Equal(t, cdr.DispositionNoAnswer, rec.Disposition)
	assert.Zero(t, rec.BillableSeconds)

	assert.Empty(t, eng.ActiveCalls())
	queues := eng.QueueStats()
	require.Contains(t, queues, "sales")
	assert.Equal(t, 0, queues["sales"].WaitingCount)
	assert.Equal(t, 1, queues["sales"].AbandonedCount)
}

func TestOutboundAnsweredCallIsBilled(t *testing.T) {
	store := cdr.NewMemory()
	ledger := &fakeLedger{}
	svc := billing.New(fakeTrunks{trunk: billing.Trunk{
		Name:               "carrier-a",
		AccountCode:        "ACME",
		Currency:           "USD",
		RatePerMinuteMinor: 150,
		IncrementSeconds:   6,
	}}, ledger)

	eng := engine.New(engine.Config{}, reconcile.New(store), svc, nil,
		session.WithClock(steppingClock(time.Unix(1700000000, 0), 30*time.Second)))
	startEngine(t, eng)

	eng.Submit(ami.NewEvent("Event", "Newchannel",
		"Uniqueid", "1700000000.90", "Channel", "PJSIP/carrier-a-00000003",
		"CallerIDNum", "2001", "Exten", "15550001111", "Context", "from-internal"))
	eng.Submit(ami.NewEvent("Event", "Newstate",
		"Uniqueid", "1700000000.90", "ChannelStateDesc", "Up"))
	eng.Submit(ami.NewEvent("Event", "Hangup",
		"Uniqueid", "1700000000.90", "Cause", "16", "CallerIDNum", "2001"))

	require.Eventually(t, func() bool {
		return ledger.calls() == 1
	}, 2*time.Second, 10*time.Millisecond)

	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	assert.Equal(t, []string{"ACME"}, ledger.deltas)
}

func TestAbandonedCallIsNotBilled(t *testing.T) {
	store := cdr.NewMemory()
	ledger := &fakeLedger{}
	svc := billing.New(fakeTrunks{trunk: billing.Trunk{Name: "carrier-a"}}, ledger)

	eng := engine.New(engine.Config{}, reconcile.New(store), svc, nil,
		session.WithClock(steppingClock(time.Unix(1700000000, 0), 5*time.Second)))
	startEngine(t, eng)

	eng.Submit(ami.NewEvent("Event", "Newchannel",
		"Uniqueid", "1700000000.91", "Channel", "PJSIP/carrier-a-00000004",
		"CallerIDNum", "2002", "Exten", "15550002222", "Context", "from-internal"))
	eng.Submit(ami.NewEvent("Event", "Hangup",
		"Uniqueid", "1700000000.91", "Cause", "21", "CallerIDNum", "2002"))

	require.Eventually(t, func() bool {
		_, ok, _ := store.FindByUniqueID(context.Background(), "1700000000.91")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	rec, _, err := store.FindByUniqueID(context.Background(), "1700000000.91")
	require.NoError(t, err)
	assert.Equal(t, cdr.DispositionFailed, rec.Disposition)
	assert.Zero(t, ledger.calls())
}

func TestMutationsTriggerBroadcast(t *testing.T) {
	store := cdr.NewMemory()
	pub := publisher.NewMockPublisher()

	eng := engine.New(engine.Config{BroadcastInterval: time.Hour}, reconcile.New(store), nil, nil,
		session.WithClock(steppingClock(time.Unix(1700000000, 0), time.Second)))
	builder := snapshot.NewBuilder(eng, eng, store, fakeRegistry{}, []string{"2001"})
	eng.AttachBroadcaster(snapshot.NewBroadcaster(builder, pub, "callwatch/snapshot"))
	startEngine(t, eng)

	eng.Submit(ami.NewEvent("Event", "Newchannel",
		"Uniqueid", "1700000000.55", "Channel", "PJSIP/trunk-in-00000009",
		"CallerIDNum", "15551112222", "Exten", "100", "Context", "from-trunk"))

	require.Eventually(t, func() bool {
		return len(pub.Messages()) >= 1
	}, 2*time.Second, 10*time.Millisecond)

	msg, ok := pub.Last()
	require.True(t, ok)
	assert.Equal(t, "callwatch/snapshot", msg.Topic)

	var snap snapshot.Snapshot
	require.NoError(t, json.Unmarshal(msg.Payload, &snap))
	require.Len(t, snap.ActiveCalls, 1)
	assert.Equal(t, "1700000000.55", snap.ActiveCalls[0].ID)
}

func TestIgnoredEventsLeaveStateUntouched(t *testing.T) {
	store := cdr.NewMemory()
	eng := engine.New(engine.Config{}, reconcile.New(store), nil, nil)
	startEngine(t, eng)

	eng.Submit(ami.NewEvent("Event", "VarSet", "Uniqueid", "1700000000.99"))
	eng.Submit(ami.NewEvent("Response", "Success", "Message", "Authentication accepted"))

	assert.Eventually(t, func() bool {
		return len(eng.ActiveCalls()) == 0 && len(eng.QueueStats()) == 0
	}, time.Second, 10*time.Millisecond)
}
