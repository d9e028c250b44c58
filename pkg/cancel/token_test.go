package cancel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCancelIsIdempotent(t *testing.T) {
	token := NewToken()

	var fired int
	token.OnCancel(func() { fired++ })

	assert.False(t, token.Cancelled())
	token.Cancel()
	token.Cancel()
	token.Cancel()

	assert.True(t, token.Cancelled())
	assert.Equal(t, 1, fired, "callback must run exactly once")
}

func TestOnCancelAfterCancelFiresImmediately(t *testing.T) {
	token := NewToken()
	token.Cancel()

	var fired bool
	token.OnCancel(func() { fired = true })
	assert.True(t, fired)
}

func TestOnCancelOrder(t *testing.T) {
	token := NewToken()

	var order []string
	token.OnCancel(func() { order = append(order, "stream") })
	token.OnCancel(func() { order = append(order, "pacer") })

	token.Cancel()
	assert.Equal(t, []string{"stream", "pacer"}, order)
}

func TestDoneChannelCloses(t *testing.T) {
	token := NewToken()

	select {
	case <-token.Done():
		t.Fatal("done channel closed before cancel")
	default:
	}

	token.Cancel()

	select {
	case <-token.Done():
	case <-time.After(time.Second):
		t.Fatal("done channel never closed")
	}
}

func TestContextAbortsOnCancel(t *testing.T) {
	token := NewToken()
	ctx, cleanup := token.Context(context.Background())
	defer cleanup()

	require.NoError(t, ctx.Err())
	token.Cancel()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("derived context never cancelled")
	}
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}

func TestContextCleanupDoesNotCancelToken(t *testing.T) {
	token := NewToken()
	_, cleanup := token.Context(context.Background())
	cleanup()

	assert.False(t, token.Cancelled())
}
