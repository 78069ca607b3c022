package governance

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTimeoutManager_Defaults(t *testing.T) {
	tm := NewTimeoutManager(TimeoutConfig{})
	assert.Equal(t, DefaultRequestTimeout, tm.Config().RequestTimeout)
	assert.Equal(t, DefaultTimeoutConfig(), tm.Config())
}

func TestTimeoutManager_Configure(t *testing.T) {
	tm := NewTimeoutManager(DefaultTimeoutConfig())

	require.Error(t, tm.Configure(TimeoutConfig{}))
	require.NoError(t, tm.Configure(TimeoutConfig{RequestTimeout: time.Second}))
	assert.Equal(t, time.Second, tm.Config().RequestTimeout)
}

func TestTimeoutManager_WithRequestTimeout(t *testing.T) {
	tm := NewTimeoutManager(TimeoutConfig{RequestTimeout: 10 * time.Millisecond})

	ctx, cancel := tm.WithRequestTimeout(context.Background())
	defer cancel()

	<-ctx.Done()
	assert.True(t, IsTimeout(ctx.Err()))
}

func TestIsTimeout(t *testing.T) {
	assert.False(t, IsTimeout(nil))
	assert.False(t, IsTimeout(errors.New("connection refused")))
	assert.True(t, IsTimeout(fmt.Errorf("fetch: %w", context.DeadlineExceeded)))
	assert.True(t, IsTimeout(ErrRequestTimeout))
}
