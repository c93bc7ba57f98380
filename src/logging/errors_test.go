package logging

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

type netTimeout struct{}

func (netTimeout) Error() string   { return "i/o timeout" }
func (netTimeout) Timeout() bool   { return true }
func (netTimeout) Temporary() bool { return true }

func TestIsTimeout(t *testing.T) {
	require.True(t, IsTimeout(context.DeadlineExceeded))
	require.True(t, IsTimeout(fmt.Errorf("list txs: %w", context.DeadlineExceeded)))
	require.True(t, IsTimeout(fmt.Errorf("get: %w", netTimeout{})))
	require.False(t, IsTimeout(errors.New("connection refused")))
	require.False(t, IsTimeout(nil))
}

func TestIsRateLimit(t *testing.T) {
	require.True(t, IsRateLimit(errors.New("ledger: status 429")))
	require.False(t, IsRateLimit(errors.New("status 500")))
}
