package platform

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"jobhost/internal/errors"
	"jobhost/pkg/logx"
)

func TestLocalSessions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := NewLocal(LocalConfig{User: "svc", MaxSessions: 1}, logx.Nop())

	s, err := l.Login(ctx)
	require.NoError(t, err)
	require.Equal(t, "svc", s.User())
	require.NotEmpty(t, s.ID())

	_, err = l.Login(ctx)
	require.ErrorIs(t, err, ErrSessionLimit)

	require.NoError(t, l.Logout(ctx, s))
	require.ErrorIs(t, l.Logout(ctx, s), ErrUnknownSession)

	st := l.Stats()
	require.Equal(t, 0, st.ActiveSessions)
	require.EqualValues(t, 1, st.Logins)
	require.EqualValues(t, 1, st.Logouts)
}

func TestLocalServiceHandles(t *testing.T) {
	t.Parallel()
	l := NewLocal(LocalConfig{Facades: []Kind{"User", KindLookup}}, logx.Nop())

	h, err := l.Service(KindUser)
	require.NoError(t, err)
	require.Equal(t, KindUser, h.Kind())
	require.Equal(t, 1, l.Stats().OpenHandles)
	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
	require.Equal(t, 0, l.Stats().OpenHandles)

	_, err = l.Service(KindForm)
	require.True(t, errors.IsNotFound(err))
	_, err = l.Service("bogus")
	require.ErrorIs(t, err, ErrUnknownFacade)
}

func TestLocalMetadataIsolation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := NewLocal(LocalConfig{Metadata: map[string]string{"a": "1"}}, logx.Nop())

	rc, err := l.CreateSession(ctx, SessionOptions{Isolation: IsolationReadCommitted})
	require.NoError(t, err)
	ser, err := l.CreateSession(ctx, SessionOptions{Isolation: IsolationSerializable})
	require.NoError(t, err)

	l.SetMetadata("a", "2")

	v, ok, err := rc.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "2", v)

	v, _, err = ser.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, "1", v)

	keys, err := rc.Keys(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, keys)

	require.NoError(t, rc.Close())
	_, _, err = rc.Get(ctx, "a")
	require.ErrorIs(t, err, errors.ErrClosed)
}

func TestLocalClosed(t *testing.T) {
	t.Parallel()
	l := NewLocal(LocalConfig{}, logx.Nop())
	require.NoError(t, l.Close())
	_, err := l.Login(context.Background())
	require.ErrorIs(t, err, errors.ErrClosed)
	_, err = l.Service(KindUser)
	require.ErrorIs(t, err, errors.ErrClosed)
}
