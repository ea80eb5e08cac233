package brokerobs

import (
	"context"
	"testing"

	"tradedesk/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSession struct {
	err      error
	restored types.Session
}

func (s *stubSession) Venue() string              { return "shoonya" }
func (s *stubSession) Restore(sess types.Session) { s.restored = sess }
func (s *stubSession) Login(context.Context, map[string]string) (types.Session, error) {
	return types.Session{Token: "t", UserID: "u"}, s.err
}
func (s *stubSession) Logout(context.Context) error { return s.err }
func (s *stubSession) Verify(context.Context) error { return s.err }
func (s *stubSession) Positions(context.Context) ([]types.Position, error) {
	return []types.Position{{InstrumentID: "NSE|22"}}, s.err
}
func (s *stubSession) FundInfo(context.Context) (types.FundInfo, error) {
	return types.FundInfo{OpenBalance: 1}, s.err
}
func (s *stubSession) TradeCount(context.Context) (int, error) { return 3, s.err }
func (s *stubSession) CloseAllPositions(context.Context) error { return s.err }

func TestWrap_PassesThrough(t *testing.T) {
	inner := &stubSession{}
	s := Wrap(inner)
	ctx := context.Background()

	assert.Equal(t, "shoonya", s.Venue())
	sess, err := s.Login(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "t", sess.Token)

	s.Restore(sess)
	assert.Equal(t, sess, inner.restored)

	ps, err := s.Positions(ctx)
	require.NoError(t, err)
	assert.Len(t, ps, 1)

	n, err := s.TradeCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestWrap_PreservesErrors(t *testing.T) {
	inner := &stubSession{err: types.NewAuthError("shoonya", "verify", "Session Expired")}
	s := Wrap(inner)
	ctx := context.Background()

	_, err := s.Login(ctx, nil)
	assert.True(t, types.IsAuth(err))
	assert.True(t, types.IsAuth(s.Verify(ctx)))

	_, err = s.FundInfo(ctx)
	assert.True(t, types.IsAuth(err))
	assert.True(t, types.IsAuth(s.CloseAllPositions(ctx)))
}
