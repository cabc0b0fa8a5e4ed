package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"contact-radar/internal/blob"
	"contact-radar/internal/export"
	"contact-radar/internal/lock"
	"contact-radar/internal/model"
	"contact-radar/internal/progress"
	"contact-radar/internal/provider"
	"contact-radar/internal/query"
	"contact-radar/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"gorm.io/datatypes"
)

type harness struct {
	engine   *Engine
	jobs     *memJobs
	provider *stubProvider
	blobs    blob.Store
	progress *progress.Store
	notified []string
	locker   *lock.MemoryLocker
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithThreshold(t, 0)
}

// newHarnessWithThreshold 以给定的行内快照阈值构造引擎，0 表示默认值。
func newHarnessWithThreshold(t *testing.T, threshold int) *harness {
	t.Helper()
	blobs, err := blob.NewFSStore(filepath.Join(t.TempDir(), "blobs"), blob.NewSigner("k", ""))
	require.NoError(t, err)

	h := &harness{
		jobs:     newMemJobs(),
		provider: newStubProvider(),
		blobs:    blobs,
		locker:   lock.NewMemoryLocker(),
	}
	logger := arbor.NewLogger()
	h.progress = progress.NewStore(h.jobs, blobs, threshold, logger)
	h.engine = New(Deps{
		Jobs:     h.jobs,
		Provider: h.provider,
		Progress: h.progress,
		Exporter: export.New(blobs, export.Config{}, logger),
		Locker:   h.locker,
		Notifier: notifyFunc(func(_ context.Context, job *model.Job) error {
			h.notified = append(h.notified, job.ID)
			return nil
		}),
		Logger: logger,
	}, Config{Timeout: "10s"})
	return h
}

func (h *harness) addJob(t *testing.T, term string, loc model.Location, target int) *model.Job {
	t.Helper()
	first := query.Initial(term, loc)
	handle, err := h.provider.Submit(context.Background(), first.Query, provider.Options{})
	require.NoError(t, err)
	job := &model.Job{
		ID:              fmt.Sprintf("job-%d", len(h.jobs.jobs)+1),
		UserID:          "u1",
		Name:            term + " export",
		SearchTerm:      term,
		Target:          target,
		State:           model.JobStatePending,
		RequestID:       handle,
		History:         datatypes.NewJSONSlice([]model.QueryEntry{first}),
		LastMergedIndex: -1,
	}
	job.SetLocation(loc)
	h.jobs.put(job)
	return job
}

func page(from, to int) json.RawMessage {
	var recs []map[string]any
	for i := from; i <= to; i++ {
		recs = append(recs, map[string]any{"place_id": fmt.Sprint(i), "name": fmt.Sprintf("Biz %d", i)})
	}
	// Nested one level deeper, as the provider does.
	b, _ := json.Marshal([]any{recs})
	return b
}

func TestSpecificLocationCompletesAfterOneQuery(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	job := h.addJob(t, "dentists", model.Location{Kind: model.LocationStructured, City: "Austin", State: "TX", Country: "US"}, 50)
	h.provider.succeed(job.RequestID, page(1, 10))

	res, err := h.engine.Advance(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Status)

	got := h.jobs.get(job.ID)
	assert.Equal(t, model.JobStateCompleted, got.State)
	assert.Equal(t, 10, got.Statistics().UniqueContacts)
	assert.Equal(t, 100, got.ExportProgress)
	assert.NotNil(t, got.CompletedAt)
	assert.Equal(t, []string{job.ID}, h.notified)
	assert.Len(t, h.provider.submitted, 1, "no further queries for a specific location")

	data, err := h.blobs.Get(context.Background(), got.Files()["json"])
	require.NoError(t, err)
	var records []map[string]any
	require.NoError(t, json.Unmarshal(data, &records))
	assert.Len(t, records, 10)
}

func TestSimpleLocationReachesTargetOnFirstPage(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	job := h.addJob(t, "dentists", model.Location{Kind: model.LocationSimple}, 10)
	h.provider.succeed(job.RequestID, page(1, 10))

	res, err := h.engine.Advance(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Status)

	got := h.jobs.get(job.ID)
	assert.Equal(t, model.JobStateCompleted, got.State)
	assert.Equal(t, 10, got.Statistics().UniqueContacts)
	assert.Equal(t, 1, got.Statistics().QueriesProcessed)
	assert.Len(t, h.provider.submitted, 1)
}

func TestAccumulatesAcrossTicksAboveInlineThreshold(t *testing.T) {
	t.Parallel()

	h := newHarnessWithThreshold(t, 3)
	loc := model.Location{Kind: model.LocationStructured, City: model.AllCities, State: "TX", Country: "US", Cities: []string{"Austin", "Dallas", "Houston"}}
	job := h.addJob(t, "dentists", loc, 1000)

	for i, want := range []int{5, 10, 15} {
		h.provider.succeed(h.jobs.get(job.ID).RequestID, page(i*5+1, i*5+5))
		res, err := h.engine.Advance(context.Background(), job.ID)
		require.NoError(t, err)
		require.Equal(t, OutcomeProcessing, res.Status)

		got := h.jobs.get(job.ID)
		assert.Equal(t, want, got.Statistics().UniqueContacts, "tick %d", i+1)
		assert.Equal(t, blob.CheckpointPath(job.ID), got.CheckpointPath)
	}

	set, _ := h.progress.Load(context.Background(), job.ID)
	assert.Equal(t, 15, set.Len())
}

func TestUniqueContactsMatchesAccumulatedSet(t *testing.T) {
	t.Parallel()

	for _, threshold := range []int{0, 4} {
		threshold := threshold
		t.Run(fmt.Sprintf("threshold=%d", threshold), func(t *testing.T) {
			t.Parallel()

			h := newHarnessWithThreshold(t, threshold)
			loc := model.Location{Kind: model.LocationStructured, City: model.AllCities, State: "TX", Country: "US", Cities: []string{"Austin", "Dallas", "Houston"}}
			job := h.addJob(t, "dentists", loc, 1000)

			// 相邻结果页有重叠，最后一页与之前完全重复。
			pages := []json.RawMessage{page(1, 6), page(4, 9), page(9, 12), page(1, 12)}
			for i, p := range pages {
				h.provider.succeed(h.jobs.get(job.ID).RequestID, p)
				_, err := h.engine.Advance(context.Background(), job.ID)
				require.NoError(t, err)

				got := h.jobs.get(job.ID)
				set, _ := h.progress.Load(context.Background(), job.ID)
				assert.Equal(t, set.Len(), got.Statistics().UniqueContacts, "tick %d", i+1)
			}
			assert.Equal(t, 12, h.jobs.get(job.ID).Statistics().UniqueContacts)
		})
	}
}

func TestExpandsStatesUntilVariations(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	loc := model.Location{Kind: model.LocationStructured, State: model.AllStates, States: []string{"CA", "TX"}, Country: "US"}
	job := h.addJob(t, "clinics", loc, 1000)
	h.provider.succeedAll(page(1, 5))

	var issued []string
	for i := 0; i < 3; i++ {
		res, err := h.engine.Advance(context.Background(), job.ID)
		require.NoError(t, err)
		assert.Equal(t, OutcomeProcessing, res.Status)
		issued = append(issued, h.provider.lastQuery())
	}
	assert.Equal(t, []string{"clinics, CA, US", "clinics, TX, US", "clinics businesses, US"}, issued)

	got := h.jobs.get(job.ID)
	assert.Equal(t, model.JobStateProcessing, got.State)
	assert.Empty(t, got.Loc().States)
	assert.Equal(t, 3, got.CurrentQueryIndex)
	assert.Equal(t, 3, got.Statistics().QueriesProcessed)
	assert.Equal(t, 15, got.Statistics().TotalResults)
	assert.Equal(t, 5, got.Statistics().UniqueContacts)
}

func TestTargetShortCircuit(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	job := h.addJob(t, "dentists", model.Location{Kind: model.LocationStructured, City: model.AllCities, State: "TX", Country: "US", Cities: []string{"Austin", "Dallas"}}, 15)
	h.provider.succeed(job.RequestID, page(1, 10))

	res, err := h.engine.Advance(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, OutcomeProcessing, res.Status)

	h.provider.succeed(h.jobs.get(job.ID).RequestID, page(6, 15))
	res, err = h.engine.Advance(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Status)
	assert.Equal(t, 15, h.jobs.get(job.ID).Statistics().UniqueContacts)
	assert.Equal(t, []string{"Dallas"}, h.jobs.get(job.ID).Loc().Cities)
}

func TestRunningQueryIsNoop(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	job := h.addJob(t, "dentists", model.Location{Kind: model.LocationSimple}, 10)

	res, err := h.engine.Advance(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessing, res.Status)
	assert.Equal(t, model.JobStatePending, h.jobs.get(job.ID).State)
	assert.Zero(t, h.jobs.saves)
}

func TestFailedQueryRecoversWithNextCity(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	loc := model.Location{Kind: model.LocationStructured, City: model.AllCities, State: "TX", Country: "US", Cities: []string{"Austin"}}
	job := h.addJob(t, "dentists", loc, 100)
	h.provider.fail(job.RequestID, "quota")

	res, err := h.engine.Advance(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessing, res.Status)
	assert.Equal(t, "dentists, Austin, TX, US", h.provider.lastQuery())

	got := h.jobs.get(job.ID)
	assert.Equal(t, model.JobStateProcessing, got.State)
	assert.Empty(t, got.Loc().Cities)
	assert.Equal(t, 1, got.CurrentQueryIndex)
}

func TestFailedQueryWithNothingLeftFailsJob(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	job := h.addJob(t, "dentists", model.Location{}, 100)
	stored := h.jobs.get(job.ID)
	for _, v := range query.Variations {
		stored.History = append(stored.History, model.QueryEntry{Query: "dentists " + v, Source: model.SourceVariation, Value: v})
	}
	stored.CurrentQueryIndex = len(stored.History) - 1
	h.jobs.put(stored)
	h.provider.fail(job.RequestID, "bad request")

	res, err := h.engine.Advance(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Status)
	assert.Contains(t, res.Message, "bad request")

	got := h.jobs.get(job.ID)
	assert.Equal(t, model.JobStateFailed, got.State)
	assert.Empty(t, got.Files())
	assert.Equal(t, []string{job.ID}, h.notified)
}

func TestProviderErrorLeavesJobUntouched(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	job := h.addJob(t, "dentists", model.Location{Kind: model.LocationSimple}, 10)
	h.provider.statusErr = errors.New("502 bad gateway")

	_, err := h.engine.Advance(context.Background(), job.ID)
	require.Error(t, err)
	assert.Equal(t, model.JobStatePending, h.jobs.get(job.ID).State)
	assert.Zero(t, h.jobs.saves)
}

func TestResubmitsRecordedQueryAfterSubmitFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	job := h.addJob(t, "dentists", model.Location{Kind: model.LocationStructured, City: model.AllCities, State: "TX", Country: "US", Cities: []string{"Austin"}}, 100)
	h.provider.succeed(job.RequestID, page(1, 3))
	h.provider.submitErr = errors.New("timeout")

	_, err := h.engine.Advance(context.Background(), job.ID)
	require.Error(t, err)
	got := h.jobs.get(job.ID)
	require.Len(t, got.History, 2)
	assert.Equal(t, 0, got.CurrentQueryIndex)
	assert.Equal(t, 3, got.Statistics().UniqueContacts)

	h.provider.submitErr = nil
	before := len(h.provider.statusCalls)
	res, err := h.engine.Advance(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessing, res.Status)
	assert.Equal(t, before, len(h.provider.statusCalls), "pending query is resubmitted without polling")
	assert.Equal(t, "dentists, Austin, TX, US", h.provider.lastQuery())
	assert.Equal(t, 1, h.jobs.get(job.ID).CurrentQueryIndex)
	assert.Len(t, h.jobs.get(job.ID).History, 2)
}

func TestRemergeAfterSaveFailureIsIdempotent(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	job := h.addJob(t, "dentists", model.Location{Kind: model.LocationStructured, City: model.AllCities, State: "TX", Country: "US", Cities: []string{"Austin"}}, 100)
	h.provider.succeed(job.RequestID, page(1, 8))
	h.jobs.failSaves = 1

	_, err := h.engine.Advance(context.Background(), job.ID)
	require.Error(t, err)

	_, err = h.engine.Advance(context.Background(), job.ID)
	require.NoError(t, err)

	got := h.jobs.get(job.ID)
	assert.Equal(t, 8, got.Statistics().UniqueContacts)
	assert.Equal(t, 8, got.Statistics().TotalResults)
	assert.Len(t, got.History, 2)

	h.jobs.mu.Lock()
	offset := h.jobs.progress[job.ID].Offset
	h.jobs.mu.Unlock()
	assert.Equal(t, 8, offset, "offset counts the page once")
}

func TestTerminalJobIsReturnedAsIs(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	job := h.addJob(t, "dentists", model.Location{Kind: model.LocationSimple}, 10)
	stored := h.jobs.get(job.ID)
	stored.State = model.JobStateCompleted
	stored.Message = "done"
	h.jobs.put(stored)

	res, err := h.engine.Advance(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Status)
	assert.Empty(t, h.provider.statusCalls)
}

func TestConcurrentAdvanceIsSkipped(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	job := h.addJob(t, "dentists", model.Location{Kind: model.LocationSimple}, 10)
	release, err := h.locker.Acquire(context.Background(), "job:"+job.ID, time.Minute)
	require.NoError(t, err)
	defer release()

	res, err := h.engine.Advance(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessing, res.Status)
	assert.Empty(t, h.provider.statusCalls)
}

func TestMissingJob(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	_, err := h.engine.Advance(context.Background(), "nope")
	assert.True(t, IsNotFound(err))
}

// --- stubs ---

type notifyFunc func(ctx context.Context, job *model.Job) error

func (f notifyFunc) JobFinished(ctx context.Context, job *model.Job) error { return f(ctx, job) }

type memJobs struct {
	mu        sync.Mutex
	jobs      map[string]model.Job
	progress  map[string]storage.Progress
	saves     int
	failSaves int
}

func newMemJobs() *memJobs {
	return &memJobs{jobs: map[string]model.Job{}, progress: map[string]storage.Progress{}}
}

func clone(j model.Job) *model.Job {
	j.History = append(datatypes.JSONSlice[model.QueryEntry](nil), j.History...)
	j.SetLocation(j.Loc().Clone())
	return &j
}

func (m *memJobs) put(job *model.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = *clone(*job)
}

func (m *memJobs) get(id string) *model.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := m.jobs[id]
	return clone(j)
}

func (m *memJobs) GetJob(_ context.Context, id string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, storage.ErrJobNotFound
	}
	return clone(j), nil
}

func (m *memJobs) SaveJob(_ context.Context, job *model.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSaves > 0 {
		m.failSaves--
		return errors.New("db unavailable")
	}
	if _, ok := m.jobs[job.ID]; !ok {
		return storage.ErrJobNotFound
	}
	m.saves++
	m.jobs[job.ID] = *clone(*job)
	return nil
}

func (m *memJobs) FinalizeJob(ctx context.Context, job *model.Job) (bool, error) {
	m.mu.Lock()
	current, ok := m.jobs[job.ID]
	m.mu.Unlock()
	if !ok {
		return false, storage.ErrJobNotFound
	}
	if current.State.IsTerminal() {
		return false, nil
	}
	return true, m.SaveJob(ctx, job)
}

func (m *memJobs) SetExportProgress(_ context.Context, id string, pct int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := m.jobs[id]
	j.ExportProgress = pct
	m.jobs[id] = j
	return nil
}

func (m *memJobs) LoadProgress(_ context.Context, id string) (storage.Progress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return storage.Progress{}, storage.ErrJobNotFound
	}
	return m.progress[id], nil
}

func (m *memJobs) UpdateProgress(_ context.Context, id string, p storage.Progress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return storage.ErrJobNotFound
	}
	m.progress[id] = p
	return nil
}

type stubProvider struct {
	mu          sync.Mutex
	statuses    map[string]provider.Status
	fallback    *provider.Status
	submitted   []string
	statusCalls []string
	submitErr   error
	statusErr   error
}

func newStubProvider() *stubProvider {
	return &stubProvider{statuses: map[string]provider.Status{}}
}

func (s *stubProvider) succeed(handle string, data json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[handle] = provider.Status{Handle: handle, State: provider.StateSucceeded, Data: data}
}

func (s *stubProvider) succeedAll(data json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback = &provider.Status{State: provider.StateSucceeded, Data: data}
}

func (s *stubProvider) fail(handle, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[handle] = provider.Status{Handle: handle, State: provider.StateFailed, Message: msg}
}

func (s *stubProvider) Submit(_ context.Context, q string, _ provider.Options) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.submitErr != nil {
		return "", s.submitErr
	}
	s.submitted = append(s.submitted, q)
	return fmt.Sprintf("req-%d", len(s.submitted)), nil
}

func (s *stubProvider) Status(_ context.Context, handle string) (provider.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusCalls = append(s.statusCalls, handle)
	if s.statusErr != nil {
		return provider.Status{}, s.statusErr
	}
	if st, ok := s.statuses[handle]; ok {
		return st, nil
	}
	if s.fallback != nil {
		st := *s.fallback
		st.Handle = handle
		return st, nil
	}
	return provider.Status{Handle: handle, State: provider.StateRunning}, nil
}

func (s *stubProvider) lastQuery() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.submitted) == 0 {
		return ""
	}
	return s.submitted[len(s.submitted)-1]
}
