package usecase

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFutureAwait(t *testing.T) {
	f := Go(context.Background(), func(ctx context.Context) (int, error) {
		return 42, nil
	})

	v, err := f.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	select {
	case <-f.Done():
	default:
		t.Fatal("future should be done after Await")
	}
}

func TestFutureAwaitHonoursContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	f := Go(context.Background(), func(ctx context.Context) (int, error) {
		<-release
		return 1, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := f.Await(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestThenShortCircuits(t *testing.T) {
	called := false
	first := Resolved(0, fmt.Errorf("boom"))
	second := Then(context.Background(), first, func(ctx context.Context, v int) (string, error) {
		called = true
		return "unreachable", nil
	})

	_, err := second.Await(context.Background())
	assert.EqualError(t, err, "boom")
	assert.False(t, called)
}

func TestThenPipelines(t *testing.T) {
	f := Then(context.Background(), Resolved(2, nil), func(ctx context.Context, v int) (int, error) {
		return v * 10, nil
	})
	v, err := f.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 20, v)
}
