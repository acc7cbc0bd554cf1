package debugsrv

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	logx "jobhost/pkg/logx"
)

func get(t *testing.T, url string, header http.Header) (int, string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestReconfigureEnableDisable(t *testing.T) {
	prevMutex := runtime.SetMutexProfileFraction(-1)
	t.Cleanup(func() {
		runtime.SetMutexProfileFraction(prevMutex)
		runtime.SetBlockProfileRate(0)
	})

	svc := New(Config{}, logx.Nop(), func() any { return map[string]int{"jobs": 3} })
	ctx := context.Background()
	t.Cleanup(func() { svc.Stop(ctx) })

	require.NoError(t, svc.Reconfigure(ctx, Config{Enabled: true, Addr: "127.0.0.1:0", MutexProfileFraction: 7}))
	addr := svc.Addr()
	require.NotEmpty(t, addr)
	require.Equal(t, 7, runtime.SetMutexProfileFraction(-1))

	code, body := get(t, "http://"+addr+"/healthz", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", body)

	code, body = get(t, "http://"+addr+"/state", nil)
	require.Equal(t, http.StatusOK, code)
	var state map[string]int
	require.NoError(t, json.Unmarshal([]byte(body), &state))
	require.Equal(t, 3, state["jobs"])

	code, _ = get(t, "http://"+addr+"/debug/pprof/", nil)
	require.Equal(t, http.StatusOK, code)

	require.NoError(t, svc.Reconfigure(ctx, Config{Enabled: false}))
	require.Empty(t, svc.Addr())
}

func TestTokenAndPrefix(t *testing.T) {
	svc := New(Config{}, logx.Nop(), nil)
	ctx := context.Background()
	t.Cleanup(func() { svc.Stop(ctx) })

	require.NoError(t, svc.Reconfigure(ctx, Config{Enabled: true, Addr: "127.0.0.1:0", Token: "s3cret", Prefix: "prof"}))
	base := "http://" + svc.Addr()

	code, _ := get(t, base+"/healthz", nil)
	require.Equal(t, http.StatusUnauthorized, code)
	code, _ = get(t, base+"/healthz?token=s3cret", nil)
	require.Equal(t, http.StatusOK, code)
	code, _ = get(t, base+"/prof/", http.Header{"Authorization": {"Bearer s3cret"}})
	require.Equal(t, http.StatusOK, code)
	code, _ = get(t, base+"/state?token=s3cret", nil)
	require.Equal(t, http.StatusNotFound, code)
}

func TestRefusesInsecureBind(t *testing.T) {
	svc := New(Config{}, logx.Nop(), nil)
	err := svc.Reconfigure(context.Background(), Config{Enabled: true, Addr: "0.0.0.0:0"})
	require.Error(t, err)
	require.Empty(t, svc.Addr())
}

func TestNormalizePrefix(t *testing.T) {
	require.Equal(t, DefaultPrefix, normalizePrefix(""))
	require.Equal(t, "/prof/", normalizePrefix("prof"))
	require.Equal(t, "/a/b/", normalizePrefix("/a/b"))
	require.True(t, isLoopbackAddr("localhost:1"))
	require.True(t, isLoopbackAddr("[::1]:1"))
	require.False(t, isLoopbackAddr(":6060"))
}
