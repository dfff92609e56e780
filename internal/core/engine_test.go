package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schuttebj/linc-print-backend/internal/db"
	"github.com/schuttebj/linc-print-backend/internal/platform/logger"
	"github.com/schuttebj/linc-print-backend/internal/render"
	"github.com/schuttebj/linc-print-backend/internal/store"
)

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "lincprint-core-test")
	if err != nil {
		panic(err)
	}
	if err := db.Init(db.Config{Path: filepath.Join(dir, "test.db")}); err != nil {
		panic(err)
	}

	code := m.Run()

	db.Close()
	os.RemoveAll(dir)
	os.Exit(code)
}

type fakeRenderer struct {
	mu    sync.Mutex
	fail  bool
	calls int
}

func (f *fakeRenderer) Render(data render.CardData) (render.Artifacts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return render.Artifacts{}, errors.New("render exploded")
	}
	payload := []byte("artifact for " + data.JobNumber)
	return render.Artifacts{
		FrontPNG:    payload,
		BackPNG:     payload,
		FrontPDF:    payload,
		BackPDF:     payload,
		CombinedPDF: payload,
	}, nil
}

type eventRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *eventRecorder) SendJobEvent(event string, job *Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) has(event string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == event {
			return true
		}
	}
	return false
}

type testEnv struct {
	engine   *Engine
	store    *store.Store
	renderer *fakeRenderer
	events   *eventRecorder
	location uuid.UUID
	seq      int
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.New(t.TempDir(), logger.Nop())
	require.NoError(t, err)

	renderer := &fakeRenderer{}
	events := &eventRecorder{}
	engine := NewEngine(db.GetDB(), st, renderer, events, logger.Nop())

	return &testEnv{
		engine:   engine,
		store:    st,
		renderer: renderer,
		events:   events,
		location: uuid.New(),
	}
}

func (env *testEnv) createRequest() CreateJobRequest {
	env.seq++
	return CreateJobRequest{
		PersonID:             uuid.New(),
		LocationID:           env.location,
		PrimaryApplicationID: uuid.New(),
		CardNumber:           fmt.Sprintf("MG%06d", env.seq),
		LicenseData:          json.RawMessage(`[{"category":"B","issue_date":"2025-01-15"}]`),
		PersonData:           json.RawMessage(`{"surname":"RAKOTO","first_name":"Jean","birth_date":"1990-04-02"}`),
		CreatedBy:            uuid.New(),
	}
}

func (env *testEnv) createJob(t *testing.T) *Job {
	t.Helper()
	job, err := env.engine.CreateJob(context.Background(), env.createRequest())
	require.NoError(t, err)
	return job
}

// advance walks a job from QUEUED to the requested status through the
// normal transitions.
func (env *testEnv) advance(t *testing.T, job *Job, target Status) *Job {
	t.Helper()
	ctx := context.Background()
	operator := uuid.New()

	steps := []struct {
		status Status
		fn     func() (*Job, error)
	}{
		{StatusAssigned, func() (*Job, error) { return env.engine.Assign(ctx, job.ID, operator) }},
		{StatusPrinting, func() (*Job, error) { return env.engine.StartPrinting(ctx, job.ID, operator) }},
		{StatusPrinted, func() (*Job, error) { return env.engine.CompletePrinting(ctx, job.ID, operator) }},
		{StatusQualityCheck, func() (*Job, error) { return env.engine.StartQualityCheck(ctx, job.ID, operator) }},
	}

	current := job
	for _, step := range steps {
		if current.Status == target {
			return current
		}
		next, err := step.fn()
		require.NoError(t, err)
		require.Equal(t, step.status, next.Status)
		current = next
	}
	return current
}

func TestCreateJob(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := env.createJob(t)
	second := env.createJob(t)

	assert.Equal(t, StatusQueued, first.Status)
	assert.Equal(t, PriorityNormal, first.Priority)
	require.NotNil(t, first.QueuePosition)
	require.NotNil(t, second.QueuePosition)
	assert.Equal(t, 1, *first.QueuePosition)
	assert.Equal(t, 2, *second.QueuePosition)

	assert.Regexp(t, `^PJ\d{8}[0-9A-F]{6}001$`, first.JobNumber)
	assert.Equal(t, first.JobNumber[:len(first.JobNumber)-3], second.JobNumber[:len(second.JobNumber)-3])
	assert.Equal(t, "002", second.JobNumber[len(second.JobNumber)-3:])

	assert.True(t, first.FilesGenerated)
	assert.NotEmpty(t, first.FrontImagePath)
	assert.NotEmpty(t, first.CombinedPDFPath)
	assert.True(t, env.store.VerifyPresent(first.ID, first.CreatedAt))

	assert.True(t, env.events.has("job_queued"))

	history, err := env.engine.History(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Nil(t, history[0].FromStatus)
	assert.Equal(t, string(StatusQueued), history[0].ToStatus)
}

func TestCreateJobValidation(t *testing.T) {
	env := newTestEnv(t)

	req := env.createRequest()
	req.CardNumber = ""
	_, err := env.engine.CreateJob(context.Background(), req)
	assert.Error(t, err)

	req = env.createRequest()
	req.Priority = Priority("SOMEDAY")
	_, err = env.engine.CreateJob(context.Background(), req)
	assert.Error(t, err)

	req = env.createRequest()
	req.LicenseData = json.RawMessage(`{not json`)
	_, err = env.engine.CreateJob(context.Background(), req)
	assert.Error(t, err)
}

func TestCreateJobRenderFailureLeavesJobQueued(t *testing.T) {
	env := newTestEnv(t)
	env.renderer.fail = true

	job, err := env.engine.CreateJob(context.Background(), env.createRequest())
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, job.Status)
	assert.False(t, job.FilesGenerated)

	// Rendering recovers on demand.
	env.renderer.fail = false
	data, err := env.engine.RetrieveArtifact(context.Background(), job.ID, store.ArtifactFrontImage)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestAssign(t *testing.T) {
	env := newTestEnv(t)
	job := env.createJob(t)
	operator := uuid.New()

	assigned, err := env.engine.Assign(context.Background(), job.ID, operator)
	require.NoError(t, err)

	assert.Equal(t, StatusAssigned, assigned.Status)
	assert.Nil(t, assigned.QueuePosition)
	require.NotNil(t, assigned.AssignedTo)
	assert.Equal(t, operator, *assigned.AssignedTo)
	assert.NotNil(t, assigned.AssignedAt)
}

func TestAssignRaceHasOneWinner(t *testing.T) {
	env := newTestEnv(t)
	job := env.createJob(t)

	const contenders = 8
	results := make(chan error, contenders)

	var wg sync.WaitGroup
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.engine.Assign(context.Background(), job.ID, uuid.New())
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	winners, losers := 0, 0
	for err := range results {
		if err == nil {
			winners++
			continue
		}
		losers++
		assert.ErrorIs(t, err, ErrAlreadyAssigned)
	}
	assert.Equal(t, 1, winners)
	assert.Equal(t, contenders-1, losers)
}

func TestInvalidTransitions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	job := env.createJob(t)
	operator := uuid.New()

	_, err := env.engine.StartPrinting(ctx, job.ID, operator)
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, StatusQueued, invalid.Current)
	assert.Equal(t, StatusPrinting, invalid.Requested)

	_, _, err = env.engine.CompleteQualityCheck(ctx, job.ID, QAPassed, "", operator)
	assert.ErrorAs(t, err, &invalid)

	_, err = env.engine.GetJob(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestQualityCheckPassDestroysFiles(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	operator := uuid.New()

	job := env.advance(t, env.createJob(t), StatusQualityCheck)

	done, reprint, err := env.engine.CompleteQualityCheck(ctx, job.ID, QAPassed, "crisp print", operator)
	require.NoError(t, err)
	assert.Nil(t, reprint)

	assert.Equal(t, StatusCompleted, done.Status)
	assert.NotNil(t, done.CompletedAt)
	require.NotNil(t, done.QualityCheckResult)
	assert.Equal(t, QAPassed, *done.QualityCheckResult)

	assert.True(t, done.FilesDeletedAfterQA)
	assert.NotNil(t, done.FilesDeletedAt)
	assert.Greater(t, done.FilesBytesFreed, int64(0))
	assert.False(t, done.ManualCleanupNeeded)
	assert.True(t, env.store.VerifyRemoved(job.ID, job.CreatedAt))

	_, err = env.engine.RetrieveArtifact(ctx, job.ID, store.ArtifactFrontImage)
	assert.ErrorIs(t, err, ErrGone)

	assert.True(t, env.events.has("qa_passed"))
	assert.True(t, env.events.has("cleanup_completed"))

	stats, err := env.engine.QueueStats(ctx, env.location)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.JobsProcessed)
}

func TestQualityCheckFailSpawnsReprint(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	operator := uuid.New()

	// A bystander job marks the queue tail.
	bystander := env.createJob(t)

	job := env.advance(t, env.createJob(t), StatusQualityCheck)

	parent, reprint, err := env.engine.CompleteQualityCheck(ctx, job.ID, QAFailedDamage, "corner chipped", operator)
	require.NoError(t, err)
	require.NotNil(t, reprint)

	assert.Equal(t, StatusReprintRequired, parent.Status)
	require.NotNil(t, parent.QualityCheckResult)
	assert.Equal(t, QAFailedDamage, *parent.QualityCheckResult)
	assert.False(t, parent.FilesDeletedAfterQA)

	assert.Equal(t, StatusQueued, reprint.Status)
	assert.Equal(t, PriorityUrgent, reprint.Priority)
	require.NotNil(t, reprint.ParentJobID)
	assert.Equal(t, parent.ID, *reprint.ParentJobID)
	assert.Equal(t, 1, reprint.ReprintCount)
	assert.Equal(t, parent.CardNumber, reprint.CardNumber)
	assert.JSONEq(t, string(parent.PersonData), string(reprint.PersonData))

	// Appended at the tail, not forced past waiting jobs.
	require.NotNil(t, reprint.QueuePosition)
	require.NotNil(t, bystander.QueuePosition)
	assert.Greater(t, *reprint.QueuePosition, *bystander.QueuePosition)

	assert.True(t, env.events.has("qa_failed"))
	assert.True(t, env.events.has("reprint_created"))
}

func TestQualityCheckFailDataEscalatesToHigh(t *testing.T) {
	env := newTestEnv(t)
	job := env.advance(t, env.createJob(t), StatusQualityCheck)

	_, reprint, err := env.engine.CompleteQualityCheck(
		context.Background(), job.ID, QAFailedData, "wrong birth date", uuid.New())
	require.NoError(t, err)
	require.NotNil(t, reprint)
	assert.Equal(t, PriorityHigh, reprint.Priority)
}

func TestCancel(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	operator := uuid.New()

	job := env.createJob(t)
	cancelled, err := env.engine.Cancel(ctx, job.ID, operator, "applicant withdrew")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.Nil(t, cancelled.QueuePosition)

	// Printing jobs cannot be withdrawn.
	active := env.advance(t, env.createJob(t), StatusPrinting)
	_, err = env.engine.Cancel(ctx, active.ID, operator, "")
	var invalid *InvalidTransitionError
	assert.ErrorAs(t, err, &invalid)
}

func TestRetrieveArtifactRegeneratesMissingFiles(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	job := env.createJob(t)

	require.NoError(t, os.RemoveAll(env.store.JobDir(job.ID, job.CreatedAt)))

	data, err := env.engine.RetrieveArtifact(ctx, job.ID, store.ArtifactBackPDF)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
	assert.True(t, env.store.VerifyPresent(job.ID, job.CreatedAt))
}

func TestJobNumberSequencePerLocation(t *testing.T) {
	env := newTestEnv(t)
	other := newTestEnv(t)

	a := env.createJob(t)
	b := other.createJob(t)

	// Different locations restart the sequence.
	assert.Equal(t, "001", a.JobNumber[len(a.JobNumber)-3:])
	assert.Equal(t, "001", b.JobNumber[len(b.JobNumber)-3:])
	assert.NotEqual(t, a.JobNumber, b.JobNumber)
}

func TestListJobsFilter(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	job := env.createJob(t)
	env.createJob(t)

	byLocation, err := env.engine.ListJobs(ctx, JobFilter{LocationID: &env.location})
	require.NoError(t, err)
	assert.Len(t, byLocation, 2)

	byPerson, err := env.engine.ListJobs(ctx, JobFilter{PersonID: &job.PersonID})
	require.NoError(t, err)
	require.Len(t, byPerson, 1)
	assert.Equal(t, job.ID, byPerson[0].ID)

	queued, err := env.engine.ListJobs(ctx, JobFilter{LocationID: &env.location, Status: StatusQueued})
	require.NoError(t, err)
	assert.Len(t, queued, 2)
}
