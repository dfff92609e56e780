package core

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schuttebj/linc-print-backend/internal/db"
)

// interruptCleanup simulates a crash between the completion commit and the
// file cleanup: the job is COMPLETED on record but its directory survives.
func interruptCleanup(t *testing.T, env *testEnv, jobID uuid.UUID) *Job {
	t.Helper()
	ctx := context.Background()

	job := env.advance(t, mustGet(t, env, jobID), StatusQualityCheck)
	_, err := db.GetDB().ExecContext(ctx,
		`UPDATE print_jobs SET status = ?, quality_check_result = ?,
			quality_check_completed_at = ?, completed_at = ?
		 WHERE id = ?`,
		StatusCompleted, QAPassed, time.Now().UTC(), time.Now().UTC(), job.ID)
	require.NoError(t, err)

	return mustGet(t, env, jobID)
}

func mustGet(t *testing.T, env *testEnv, id uuid.UUID) *Job {
	t.Helper()
	job, err := env.engine.GetJob(context.Background(), id)
	require.NoError(t, err)
	return job
}

func TestReconcileCleanups(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	job := interruptCleanup(t, env, env.createJob(t).ID)
	require.Equal(t, StatusCompleted, job.Status)
	require.False(t, job.FilesDeletedAfterQA)
	require.False(t, env.store.VerifyRemoved(job.ID, job.CreatedAt))

	cleaned, err := env.engine.ReconcileCleanups(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, cleaned)

	job = mustGet(t, env, job.ID)
	assert.True(t, job.FilesDeletedAfterQA)
	assert.True(t, env.store.VerifyRemoved(job.ID, job.CreatedAt))

	// A second pass finds nothing to do.
	cleaned, err = env.engine.ReconcileCleanups(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, cleaned)
}

func TestRepairMissingReprints(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	job := env.advance(t, env.createJob(t), StatusQualityCheck)

	// Simulate a legacy record: verdict written without the spawn.
	_, err := db.GetDB().ExecContext(ctx,
		`UPDATE print_jobs SET status = ?, quality_check_result = ? WHERE id = ?`,
		StatusReprintRequired, QAFailedData, job.ID)
	require.NoError(t, err)

	spawned, err := env.engine.RepairMissingReprints(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, spawned)

	child, err := env.engine.ChildJob(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, child)
	assert.Equal(t, StatusQueued, child.Status)
	assert.Equal(t, PriorityHigh, child.Priority)
	assert.Equal(t, 1, child.ReprintCount)

	// Repair is idempotent once a child exists.
	spawned, err = env.engine.RepairMissingReprints(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, spawned)
}

func TestScanOrphans(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	live := env.createJob(t)

	// A directory with no record at all.
	strayID := uuid.New()
	strayDir := env.store.JobDir(strayID, time.Now())
	require.NoError(t, os.MkdirAll(strayDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(strayDir, "front.png"), []byte("x"), 0o644))

	orphans, err := env.engine.ScanOrphans(ctx)
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, strayID.String(), orphans[0].JobID)
	assert.Equal(t, "no job record", orphans[0].Reason)

	// The live job's directory is accounted for.
	for _, o := range orphans {
		assert.NotEqual(t, live.ID.String(), o.JobID)
	}
}

func TestVerifyCleanup(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	job := env.advance(t, env.createJob(t), StatusQualityCheck)
	done, _, err := env.engine.CompleteQualityCheck(ctx, job.ID, QAPassed, "", uuid.New())
	require.NoError(t, err)

	verified, err := env.engine.VerifyCleanup(ctx, done)
	require.NoError(t, err)
	assert.True(t, verified)

	// Files reappearing after a recorded cleanup flags the job.
	dir := env.store.JobDir(done.ID, done.CreatedAt)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "front.png"), []byte("x"), 0o644))

	verified, err = env.engine.VerifyCleanup(ctx, done)
	require.NoError(t, err)
	assert.False(t, verified)

	flagged := mustGet(t, env, done.ID)
	assert.True(t, flagged.ManualCleanupNeeded)

	// A job without a recorded cleanup is a caller error.
	queued := env.createJob(t)
	_, err = env.engine.VerifyCleanup(ctx, queued)
	assert.Error(t, err)
}
