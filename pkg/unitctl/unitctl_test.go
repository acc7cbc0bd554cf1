package unitctl

import (
	"testing"

	"github.com/stretchr/testify/require"

	"jobhost/internal/errors"
)

func TestUnitName(t *testing.T) {
	cases := map[string]string{
		"":             "",
		"nginx":        "nginx.service",
		" nginx ":      "nginx.service",
		"ssh.socket":   "ssh.socket",
		"backup.timer": "backup.timer",
		"app.v2":       "app.v2.service",
	}
	for in, want := range cases {
		require.Equal(t, want, UnitName(in), in)
	}
}

func TestParseAction(t *testing.T) {
	a, err := ParseAction("")
	require.NoError(t, err)
	require.Equal(t, ActionCheck, a)

	a, err = ParseAction(" Restart ")
	require.NoError(t, err)
	require.Equal(t, ActionRestart, a)
	require.True(t, a.WantsActive())
	require.False(t, ActionStop.WantsActive())

	_, err = ParseAction("reload")
	require.Error(t, err)
	require.Contains(t, errors.FlattenHints(err), "restart")
}

func TestNoSuchUnit(t *testing.T) {
	require.False(t, isNoSuchUnit(nil))
	require.True(t, isNoSuchUnit(errors.New("org.freedesktop.systemd1.NoSuchUnit: Unit x.service not loaded.")))
	require.False(t, isNoSuchUnit(errors.New("access denied")))
}
