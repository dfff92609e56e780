package core

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextJobIsFIFO(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := env.createJob(t)
	env.createJob(t)
	env.createJob(t)

	next, err := env.engine.NextJob(ctx, env.location)
	require.NoError(t, err)
	assert.Equal(t, first.ID, next.ID)

	// Pulling removes it from the queue.
	_, err = env.engine.Assign(ctx, next.ID, uuid.New())
	require.NoError(t, err)

	next, err = env.engine.NextJob(ctx, env.location)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, next.ID)
}

func TestNextJobEmptyQueue(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.engine.NextJob(context.Background(), env.location)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestMoveToTop(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := env.createJob(t)
	second := env.createJob(t)
	third := env.createJob(t)

	moved, err := env.engine.MoveToTop(ctx, third.ID, uuid.New(), "urgent collection")
	require.NoError(t, err)
	require.NotNil(t, moved.QueuePosition)
	assert.Equal(t, *first.QueuePosition-1, *moved.QueuePosition)

	// The others keep their positions.
	firstNow, err := env.engine.GetJob(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, *first.QueuePosition, *firstNow.QueuePosition)
	secondNow, err := env.engine.GetJob(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, *second.QueuePosition, *secondNow.QueuePosition)

	next, err := env.engine.NextJob(ctx, env.location)
	require.NoError(t, err)
	assert.Equal(t, third.ID, next.ID)
}

func TestMoveToTopRepeated(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.createJob(t)
	second := env.createJob(t)
	third := env.createJob(t)

	_, err := env.engine.MoveToTop(ctx, second.ID, uuid.New(), "")
	require.NoError(t, err)
	moved, err := env.engine.MoveToTop(ctx, third.ID, uuid.New(), "")
	require.NoError(t, err)

	// Positions keep descending below the previous minimum.
	next, err := env.engine.NextJob(ctx, env.location)
	require.NoError(t, err)
	assert.Equal(t, moved.ID, next.ID)
}

func TestMoveToTopRequiresQueuedStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	job := env.createJob(t)
	_, err := env.engine.Assign(ctx, job.ID, uuid.New())
	require.NoError(t, err)

	_, err = env.engine.MoveToTop(ctx, job.ID, uuid.New(), "")
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, StatusAssigned, invalid.Current)
}

func TestQueueIsPerLocation(t *testing.T) {
	env := newTestEnv(t)
	other := newTestEnv(t)
	ctx := context.Background()

	mine := env.createJob(t)
	theirs := other.createJob(t)

	next, err := env.engine.NextJob(ctx, env.location)
	require.NoError(t, err)
	assert.Equal(t, mine.ID, next.ID)

	next, err = other.engine.NextJob(ctx, other.location)
	require.NoError(t, err)
	assert.Equal(t, theirs.ID, next.ID)
}

func TestQueueStats(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.createJob(t)
	job := env.createJob(t)
	_, err := env.engine.Assign(ctx, job.ID, uuid.New())
	require.NoError(t, err)

	stats, err := env.engine.QueueStats(ctx, env.location)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Waiting)
	assert.Equal(t, 1, stats.InProgress)
	assert.Equal(t, 1, stats.ByStatus[StatusQueued])
	assert.Equal(t, 1, stats.ByStatus[StatusAssigned])
}
