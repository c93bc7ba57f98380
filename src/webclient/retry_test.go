package webclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDoWithRetryRecoversFrom5xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	hc := NewDefault(time.Second)
	status, body, err := DoWithRetry(context.Background(), 3, time.Millisecond, func(ctx context.Context) (int, []byte, error) {
		return Get(ctx, hc, srv.URL)
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, `{"ok":true}`, string(body))
	require.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestDoWithRetryDoesNotRetry4xx(t *testing.T) {
	calls := 0
	status, _, err := DoWithRetry(context.Background(), 5, time.Millisecond, func(context.Context) (int, []byte, error) {
		calls++
		return http.StatusNotFound, nil, nil
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, 1, calls)
}

func TestDoWithRetryStopsAtDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err := DoWithRetry(ctx, 100, 5*time.Millisecond, func(context.Context) (int, []byte, error) {
		return 0, nil, errors.New("connection refused")
	})
	require.Error(t, err)
}
