package notify

import (
	"context"
	"errors"
	"testing"

	"tradedesk/internal/testkit"
	"tradedesk/internal/tradelog"
	"tradedesk/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type panicBroadcaster struct{}

func (panicBroadcaster) Broadcast(string, any) { panic("socket gone") }

type failingJournal struct{ entries []tradelog.Entry }

func (f *failingJournal) Append(e tradelog.Entry) error {
	f.entries = append(f.entries, e)
	return errors.New("read-only filesystem")
}

func TestSink_BroadcastsAndJournals(t *testing.T) {
	bc := &testkit.Broadcaster{}
	j := &failingJournal{}
	s := New(bc, j)

	s.Success(context.Background(), "order COMPLETE")
	s.Error(context.Background(), "order REJECTED")

	got := bc.ForKey(Event)
	require.Len(t, got, 2)
	first := got[0].(types.Notification)
	assert.Equal(t, types.LevelSuccess, first.Level)
	assert.Equal(t, "order COMPLETE", first.Description)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, types.LevelError, got[1].(types.Notification).Level)

	require.Len(t, j.entries, 2)
	assert.Equal(t, tradelog.KindNotification, j.entries[0].Kind)
}

func TestSink_NeverPanics(t *testing.T) {
	s := New(panicBroadcaster{}, nil)
	assert.NotPanics(t, func() { s.Info(context.Background(), "hello") })
}

func TestSink_NilCollaborators(t *testing.T) {
	s := New(nil, nil)
	assert.NotPanics(t, func() { s.Error(context.Background(), "no hub yet") })
}
