package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ctxKey struct{}

func TestSpawnOutlivesCaller(t *testing.T) {
	r := NewRegistry()

	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), ctxKey{}, "v"))
	release := make(chan struct{})
	result := make(chan error, 1)
	value := make(chan any, 1)

	task := r.Spawn(ctx, uuid.New(), func(ctx context.Context) {
		<-release
		result <- ctx.Err()
		value <- ctx.Value(ctxKey{})
	})

	cancel()
	assert.Equal(t, 1, r.Running())
	close(release)

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	require.NoError(t, task.Wait(waitCtx))

	assert.NoError(t, <-result)
	assert.Equal(t, "v", <-value)
	assert.Equal(t, 0, r.Running())
}

func TestSpawnRecoversPanic(t *testing.T) {
	r := NewRegistry()
	id := uuid.New()

	r.Spawn(context.Background(), id, func(context.Context) { panic("boom") })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.WaitAll(ctx))
	assert.Equal(t, 0, r.Running())
}

func TestRegistryWait(t *testing.T) {
	r := NewRegistry()
	id := uuid.New()
	release := make(chan struct{})

	r.Spawn(context.Background(), id, func(context.Context) { <-release })

	short, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Wait(short, id), context.DeadlineExceeded)

	close(release)
	ctx, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	require.NoError(t, r.Wait(ctx, id))

	assert.NoError(t, r.Wait(ctx, uuid.New()))
}

func TestWaitAllTimesOut(t *testing.T) {
	r := NewRegistry()
	release := make(chan struct{})
	defer close(release)

	r.Spawn(context.Background(), uuid.New(), func(context.Context) { <-release })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.WaitAll(ctx), context.DeadlineExceeded)
}
