package state

import (
	"context"
	"sync"
	"testing"
	"time"

	"tradedesk/internal/task"
	"tradedesk/internal/testkit"
	"tradedesk/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	c  *Container
	bc *testkit.Broadcaster
	ps *testkit.Persister
	nt *testkit.Notifier
}

func newFixture(initial map[string]any, timers ...string) fixture {
	f := fixture{bc: &testkit.Broadcaster{}, ps: &testkit.Persister{}, nt: &testkit.Notifier{}}
	f.c = NewContainer("shoonya", initial, Deps{
		Collection:  "state",
		Broadcaster: f.bc,
		Persister:   f.ps,
		Notifier:    f.nt,
	}, timers...)
	return f
}

func TestSetState_MergeIsSequential(t *testing.T) {
	t.Parallel()

	a := map[string]any{"x": 1, "y": "a"}
	b := map[string]any{"y": "b", "z": true}

	one := newFixture(map[string]any{"w": 0})
	one.c.SetState(a, false)
	one.c.SetState(b, false)

	merged := map[string]any{}
	for k, v := range a {
		merged[k] = v
	}
	for k, v := range b {
		merged[k] = v
	}
	two := newFixture(map[string]any{"w": 0})
	two.c.SetState(merged, false)

	assert.Equal(t, two.c.GetState(), one.c.GetState())
	assert.Equal(t, "b", one.c.GetState()["y"])
	assert.Equal(t, 0, one.c.GetState()["w"])
}

func TestSetState_BroadcastsPartialUnderID(t *testing.T) {
	t.Parallel()

	f := newFixture(map[string]any{"loggedIn": false})
	f.c.SetState(map[string]any{"loggedIn": true}, false)

	sent := f.bc.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "shoonya", sent[0].Key)
	assert.Equal(t, map[string]any{"loggedIn": true}, sent[0].Payload)
	assert.Empty(t, f.ps.Writes())
}

func TestSetState_PersistFlagIsStripped(t *testing.T) {
	t.Parallel()

	f := newFixture(nil)
	f.c.SetState(map[string]any{"tradeCount": 3, PersistFlag: true}, false)

	_, inState := f.c.GetState()[PersistFlag]
	assert.False(t, inState)

	writes := f.ps.Writes()
	require.Len(t, writes, 1)
	assert.Equal(t, "state", writes[0].Collection)
	assert.Equal(t, "shoonya", writes[0].Key)
	assert.Equal(t, map[string]any{"tradeCount": 3}, writes[0].Doc)

	payload := f.bc.Sent()[0].Payload.(map[string]any)
	_, inPayload := payload[PersistFlag]
	assert.False(t, inPayload)
}

func TestSetState_FullReplaceResetsToInitialShape(t *testing.T) {
	t.Parallel()

	f := newFixture(map[string]any{"positions": []any{}, "tradeCount": 0})
	f.c.SetState(map[string]any{"tradeCount": 7, "extra": "x"}, false)
	f.c.SetState(map[string]any{"positions": []any{"p"}}, true)

	got := f.c.GetState()
	assert.Equal(t, 0, got["tradeCount"])
	assert.Equal(t, []any{"p"}, got["positions"])
	assert.NotContains(t, got, "extra")
	assert.Equal(t, "shoonya", got["id"])

	last := f.bc.Sent()[1].Payload.(map[string]any)
	assert.Equal(t, got, last)
}

func TestSetState_IDIsImmutable(t *testing.T) {
	t.Parallel()

	f := newFixture(nil)
	f.c.SetState(map[string]any{"id": "other"}, false)
	assert.Equal(t, "shoonya", f.c.GetState()["id"])
}

func TestGetState_ReturnsCopy(t *testing.T) {
	t.Parallel()

	f := newFixture(map[string]any{"a": 1})
	s := f.c.GetState()
	s["a"] = 2
	assert.Equal(t, 1, f.c.GetState()["a"])
}

func TestSetIntervalAndUpdate_ReplacesStaleTaskWithOneNotice(t *testing.T) {
	t.Parallel()

	f := newFixture(nil, "riskInterval")
	first := task.Every(time.Hour, func() {})
	second := task.Every(time.Hour, func() {})
	t.Cleanup(second.Cancel)

	f.c.SetIntervalAndUpdate("riskInterval", first)
	f.c.SetIntervalAndUpdate("riskInterval", second)

	assert.False(t, first.Active())
	assert.True(t, second.Active())
	assert.True(t, f.c.TimerActive("riskInterval"))
	assert.Equal(t, 1, f.nt.Count(types.LevelError))
	assert.Equal(t, true, f.c.GetState()["riskInterval"])

	f.c.ClearIntervalAndUpdate("riskInterval")
	assert.False(t, second.Active())
	assert.Equal(t, false, f.c.GetState()["riskInterval"])
}

func TestSetIntervalAndUpdate_ExpiredTaskIsNotAnAnomaly(t *testing.T) {
	t.Parallel()

	f := newFixture(nil)
	done := task.After(time.Millisecond, func() {})
	require.Eventually(t, func() bool { return !done.Active() }, time.Second, time.Millisecond)

	f.c.SetIntervalAndUpdate("once", done)
	next := task.Every(time.Hour, func() {})
	t.Cleanup(next.Cancel)
	f.c.SetIntervalAndUpdate("once", next)

	assert.Zero(t, f.nt.Count(types.LevelError))
}

func TestLoad_ResetsTimerMirrors(t *testing.T) {
	t.Parallel()

	f := newFixture(map[string]any{"loggedIn": false}, "riskInterval")
	f.c.Load(map[string]any{"loggedIn": true, "riskInterval": true, "id": "x", PersistFlag: true})

	got := f.c.GetState()
	assert.Equal(t, true, got["loggedIn"])
	assert.Equal(t, false, got["riskInterval"])
	assert.Equal(t, "shoonya", got["id"])
	assert.NotContains(t, got, PersistFlag)
	assert.Empty(t, f.bc.Sent())
}

func TestFullReplacePersistenceSkipsMirrors(t *testing.T) {
	t.Parallel()

	f := newFixture(map[string]any{"a": 1}, "riskInterval")
	f.c.SetState(map[string]any{"a": 2, PersistFlag: true}, true)

	writes := f.ps.Writes()
	require.Len(t, writes, 1)
	assert.NotContains(t, writes[0].Doc, "riskInterval")
	assert.Equal(t, 2, writes[0].Doc["a"])
}

func TestOnChange_RunsOutsideLock(t *testing.T) {
	t.Parallel()

	f := newFixture(nil)
	var seen []map[string]any
	f.c.OnChange(func(p map[string]any) {
		seen = append(seen, p)
		_ = f.c.GetState()
	})

	f.c.SetState(map[string]any{"watchlist": []any{"NSE|22"}, PersistFlag: true}, false)
	require.Len(t, seen, 1)
	assert.NotContains(t, seen[0], PersistFlag)
}

func TestSetState_ConcurrentWritersKeepBroadcastOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(map[string]any{"n": 0})
	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f.c.SetState(map[string]any{"n": i}, false)
		}(i)
	}
	wg.Wait()

	sent := f.bc.Sent()
	require.Len(t, sent, 50)
	last := sent[len(sent)-1].Payload.(map[string]any)["n"]
	assert.Equal(t, last, f.c.GetState()["n"])
}

func TestDefaultHooksAreNoops(t *testing.T) {
	t.Parallel()

	f := newFixture(nil)
	assert.NoError(t, f.c.StartingFunctionsAtInitialize(context.Background()))
	assert.NoError(t, f.c.UpdateDbAtInitOfDay(context.Background()))
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	a := NewContainer("app", nil, Deps{})
	b := NewContainer("shoonya", nil, Deps{})
	require.NoError(t, r.Register(a))
	require.NoError(t, r.Register(b))
	assert.Error(t, r.Register(NewContainer("app", nil, Deps{})))

	got, ok := r.Get("shoonya")
	require.True(t, ok)
	assert.Equal(t, "shoonya", got.ID())

	_, ok = r.Get("missing")
	assert.False(t, ok)

	all := r.All()
	require.Len(t, all, 2)
	assert.Equal(t, "app", all[0].ID())
	assert.Equal(t, "shoonya", all[1].ID())
}
