package persist

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestGateway(t *testing.T) *Gateway {
	t.Helper()
	gw, err := Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Close() })
	return gw
}

func TestGateway_GetByIDMissing(t *testing.T) {
	gw := setupTestGateway(t)

	doc, err := gw.GetByID(context.Background(), "state", "shoonya")
	require.NoError(t, err)
	assert.Nil(t, doc)
}

func TestGateway_UpsertMerges(t *testing.T) {
	gw := setupTestGateway(t)
	ctx := context.Background()

	require.NoError(t, gw.Upsert(ctx, "state", "shoonya", map[string]any{"loggedIn": true, "tradeCount": 2}))
	require.NoError(t, gw.Upsert(ctx, "state", "shoonya", map[string]any{"tradeCount": 3}))

	doc, err := gw.GetByID(ctx, "state", "shoonya")
	require.NoError(t, err)
	assert.Equal(t, true, doc["loggedIn"])
	assert.Equal(t, float64(3), doc["tradeCount"])
}

func TestGateway_UpsertIsIdempotent(t *testing.T) {
	gw := setupTestGateway(t)
	ctx := context.Background()
	partial := map[string]any{"accessToken": "abc"}

	require.NoError(t, gw.Upsert(ctx, "state", "kite", partial))
	first, err := gw.GetByID(ctx, "state", "kite")
	require.NoError(t, err)

	require.NoError(t, gw.Upsert(ctx, "state", "kite", partial))
	second, err := gw.GetByID(ctx, "state", "kite")
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestGateway_KeysAreIsolated(t *testing.T) {
	gw := setupTestGateway(t)
	ctx := context.Background()

	require.NoError(t, gw.Upsert(ctx, "state", "app", map[string]any{"a": 1}))
	require.NoError(t, gw.Upsert(ctx, "archive", "app", map[string]any{"b": 2}))

	doc, err := gw.GetByID(ctx, "state", "app")
	require.NoError(t, err)
	assert.NotContains(t, doc, "b")
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open("mongo", "x")
	assert.Error(t, err)
}

type recordingUpserter struct {
	mu    sync.Mutex
	calls []string
	block chan struct{}
	err   error
}

func (r *recordingUpserter) Upsert(_ context.Context, collection, key string, _ map[string]any) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, collection+"/"+key)
	return r.err
}

func (r *recordingUpserter) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func TestWriter_DrainsInOrder(t *testing.T) {
	up := &recordingUpserter{}
	w := NewWriter(up, 8, nil)
	w.Start()

	w.UpsertAsync("state", "a", nil)
	w.UpsertAsync("state", "b", nil)
	require.NoError(t, w.Close(context.Background()))

	assert.Equal(t, []string{"state/a", "state/b"}, up.Calls())
}

func TestWriter_DropsWhenFull(t *testing.T) {
	up := &recordingUpserter{block: make(chan struct{})}
	var mu sync.Mutex
	var reported []error
	w := NewWriter(up, 1, func(_ context.Context, err error) {
		mu.Lock()
		defer mu.Unlock()
		reported = append(reported, err)
	})

	// not started: the queue holds exactly one job
	w.UpsertAsync("state", "a", nil)
	w.UpsertAsync("state", "b", nil)

	mu.Lock()
	require.Len(t, reported, 1)
	var dropped *DroppedWriteError
	assert.True(t, errors.As(reported[0], &dropped))
	assert.Equal(t, "b", dropped.Key)
	mu.Unlock()

	close(up.block)
	w.Start()
	require.NoError(t, w.Close(context.Background()))
	assert.Equal(t, []string{"state/a"}, up.Calls())
}

func TestWriter_ReportsFailures(t *testing.T) {
	up := &recordingUpserter{err: errors.New("disk full")}
	errs := make(chan error, 1)
	w := NewWriter(up, 4, func(_ context.Context, err error) { errs <- err })
	w.Start()

	w.UpsertAsync("state", "app", map[string]any{"x": 1})

	select {
	case err := <-errs:
		assert.EqualError(t, err, "disk full")
	case <-time.After(time.Second):
		t.Fatal("expected failure to be reported")
	}
	require.NoError(t, w.Close(context.Background()))
}

func TestWriter_UpsertAfterCloseDoesNotPanic(t *testing.T) {
	w := NewWriter(&recordingUpserter{}, 1, nil)
	require.NoError(t, w.Close(context.Background()))
	assert.NotPanics(t, func() { w.UpsertAsync("state", "a", nil) })
}
