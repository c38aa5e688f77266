package runnerproxy

import (
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowbench/internal/pack"
)

func newTestProxy(t *testing.T, index pack.Index) *Proxy {
	t.Helper()
	p := New(slog.New(slog.NewTextHandler(io.Discard, nil)), index)
	t.Cleanup(p.Close)
	return p
}

func TestEmitPreservesSubmissionOrder(t *testing.T) {
	p := newTestProxy(t, pack.Index{})

	for i := range 10 {
		p.Submit(EmitActivity{Flow: fmt.Sprintf("flow-%02d", i)})
	}

	require.Eventually(t, func() bool {
		return len(p.Events()) == 10
	}, 2*time.Second, 10*time.Millisecond)

	events := p.Events()
	for i, event := range events {
		assert.Equal(t, fmt.Sprintf("flow-%02d", i), event.Flow)
	}
}

func TestRingEvictsOldestPastCap(t *testing.T) {
	p := newTestProxy(t, pack.Index{})

	for i := range ringCap + 1 {
		p.Submit(EmitActivity{Flow: fmt.Sprintf("flow-%03d", i)})
	}

	require.Eventually(t, func() bool {
		events := p.Events()
		return len(events) == ringCap && events[0].Flow == "flow-001"
	}, 2*time.Second, 10*time.Millisecond)

	events := p.Events()
	assert.Equal(t, fmt.Sprintf("flow-%03d", ringCap), events[len(events)-1].Flow)
}

func TestEmitSynthesizesEchoResult(t *testing.T) {
	p := newTestProxy(t, pack.Index{})

	payload := map[string]any{"order": float64(42)}
	p.Submit(EmitActivity{Flow: "checkout", Tenant: "acme", Team: "ops", User: "bob", Payload: payload})

	require.Eventually(t, func() bool {
		return len(p.Events()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	event := p.Events()[0]
	assert.Equal(t, "checkout", event.Flow)
	assert.Equal(t, "acme", event.Tenant)
	assert.Equal(t, "ops", event.Team)
	assert.Equal(t, "bob", event.User)
	assert.NotZero(t, event.TimestampMS)
	assert.Equal(t, map[string]any{
		"flow":   "checkout",
		"echo":   payload,
		"status": "ok",
	}, event.Result)
}

func TestClearCannotOvertakeEarlierEmits(t *testing.T) {
	p := newTestProxy(t, pack.Index{})

	p.Submit(EmitActivity{Flow: "before"})
	p.Submit(ClearEvents{})
	p.Submit(EmitActivity{Flow: "after"})

	require.Eventually(t, func() bool {
		events := p.Events()
		return len(events) == 1 && events[0].Flow == "after"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestReloadReplacesSnapshot(t *testing.T) {
	p := newTestProxy(t, pack.Index{Entries: []pack.Entry{{ID: "old"}}})

	assert.Equal(t, "old", p.Snapshot().Entries[0].ID)

	p.Submit(ReloadIndex{
		Index:    pack.Index{Entries: []pack.Entry{{ID: "fresh"}, {ID: "fresh:ops"}}},
		Defaults: Defaults{Tenant: "acme", Team: "ops"},
	})

	require.Eventually(t, func() bool {
		return len(p.Snapshot().Entries) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "fresh", p.Snapshot().Entries[0].ID)
}

func TestSubmitAfterCloseDoesNotPanic(t *testing.T) {
	p := New(slog.New(slog.NewTextHandler(io.Discard, nil)), pack.Index{})
	p.Close()

	assert.NotPanics(t, func() {
		p.Submit(EmitActivity{Flow: "late"})
		p.Submit(ClearEvents{})
	})
	assert.Empty(t, p.Events())
}

func TestEventsReturnsCopy(t *testing.T) {
	p := newTestProxy(t, pack.Index{})
	p.Submit(EmitActivity{Flow: "original"})

	require.Eventually(t, func() bool {
		return len(p.Events()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	events := p.Events()
	events[0].Flow = "mutated"
	assert.Equal(t, "original", p.Events()[0].Flow)
}
