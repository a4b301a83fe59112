package reconciler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sumoctl/controller/internal/domain"
	"github.com/sumoctl/controller/internal/orchestrator"
)

// fakeStore is an in-memory JobStore sufficient to exercise each pass in
// isolation, grounded in spec.md §9's "in-memory fake backing the test
// suite" hint for the orchestrator seam (the store gets the same treatment
// here for symmetry).
type fakeStore struct {
	jobs    map[uuid.UUID]domain.Job
	updates []domain.JobUpdate
}

func newFakeStore(jobs ...domain.Job) *fakeStore {
	s := &fakeStore{jobs: map[uuid.UUID]domain.Job{}}
	for _, j := range jobs {
		s.jobs[j.JobID] = j
	}
	return s
}

func (s *fakeStore) JobsNeedingTimestampBackfill(ctx context.Context) ([]domain.Job, error) {
	var out []domain.Job
	for _, j := range s.jobs {
		if j.Status.Terminal() && (j.StartedAt == nil || j.FinishedAt == nil) {
			out = append(out, j)
		}
	}
	return out, nil
}
func (s *fakeStore) JobsNeedingResultLocation(ctx context.Context) ([]domain.Job, error) {
	var out []domain.Job
	for _, j := range s.jobs {
		if j.Status.Terminal() && j.ResultLocation == nil {
			out = append(out, j)
		}
	}
	return out, nil
}
func (s *fakeStore) JobsWithPendingUpload(ctx context.Context) ([]domain.Job, error) {
	var out []domain.Job
	for _, j := range s.jobs {
		if j.Status == domain.StatusSucceeded && j.ResultLocation != nil && j.ResultFiles == nil {
			out = append(out, j)
		}
	}
	return out, nil
}
func (s *fakeStore) ActiveJobs(ctx context.Context) ([]domain.Job, error) {
	var out []domain.Job
	for _, j := range s.jobs {
		if j.Status == domain.StatusPending || j.Status == domain.StatusRunning {
			out = append(out, j)
		}
	}
	return out, nil
}
func (s *fakeStore) ApplyUpdate(ctx context.Context, u domain.JobUpdate) error {
	s.updates = append(s.updates, u)
	j := s.jobs[u.JobID]
	if u.Status != nil {
		j.Status = *u.Status
	}
	if u.StartedAt != nil {
		j.StartedAt = u.StartedAt
	}
	if u.FinishedAt != nil {
		j.FinishedAt = u.FinishedAt
	}
	if u.ResultLocation != nil {
		j.ResultLocation = u.ResultLocation
	}
	if u.ResultFiles != nil {
		j.ResultFiles = u.ResultFiles
	}
	s.jobs[u.JobID] = j
	return nil
}
func (s *fakeStore) JobExists(ctx context.Context, jobID uuid.UUID) (bool, error) {
	_, ok := s.jobs[jobID]
	return ok, nil
}

// fakeOrch is a minimal orchestrator.Port whose ReadWorkload/ListNamespaces/
// ListConfigBlobs/DeleteConfigBlob behavior is scripted per test.
type fakeOrch struct {
	mu            sync.Mutex
	workloads     map[string]orchestrator.WorkloadStatus
	namespaces    []string
	configBlobs   map[string][]orchestrator.ConfigBlob
	deletedBlobs  []string
}

// deleted returns a snapshot of deletedBlobs, safe to read concurrently with
// the deferred-cleanup goroutine under test.
func (f *fakeOrch) deleted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.deletedBlobs))
	copy(out, f.deletedBlobs)
	return out
}

func newFakeOrch() *fakeOrch {
	return &fakeOrch{workloads: map[string]orchestrator.WorkloadStatus{}, configBlobs: map[string][]orchestrator.ConfigBlob{}}
}

func key(ns, name string) string { return ns + "/" + name }

func (f *fakeOrch) Available() bool                                       { return true }
func (f *fakeOrch) EnsureNamespace(ctx context.Context, name string) error { return nil }
func (f *fakeOrch) ReadResourceQuota(ctx context.Context, namespace, name string) (map[string]string, error) {
	return nil, orchestrator.ErrNotFound
}
func (f *fakeOrch) ApplyResourceQuota(ctx context.Context, namespace, name string, hard map[string]string) error {
	return nil
}
func (f *fakeOrch) ReadLimitRange(ctx context.Context, namespace, name string) (map[string]string, error) {
	return nil, orchestrator.ErrNotFound
}
func (f *fakeOrch) ApplyLimitRange(ctx context.Context, namespace, name string, defaultReq, defaultLim, max map[string]string) error {
	return nil
}
func (f *fakeOrch) EnsureVolumeClaim(ctx context.Context, namespace, name string, sizeGi int, storageClass string) error {
	return nil
}
func (f *fakeOrch) DefaultStorageClass(ctx context.Context) (string, error) { return "standard", nil }
func (f *fakeOrch) CreateConfigBlob(ctx context.Context, namespace, name string, labels, data map[string]string) error {
	return nil
}
func (f *fakeOrch) DeleteConfigBlob(ctx context.Context, namespace, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedBlobs = append(f.deletedBlobs, key(namespace, name))
	return nil
}
func (f *fakeOrch) ListConfigBlobs(ctx context.Context, namespace string, labelSelector map[string]string) ([]orchestrator.ConfigBlob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.configBlobs[namespace], nil
}
func (f *fakeOrch) ListNamespaces(ctx context.Context) ([]string, error) { return f.namespaces, nil }
func (f *fakeOrch) CreateWorkload(ctx context.Context, spec orchestrator.WorkloadSpec) error {
	return nil
}
func (f *fakeOrch) ReadWorkload(ctx context.Context, namespace, name string) (orchestrator.WorkloadStatus, error) {
	st, ok := f.workloads[key(namespace, name)]
	if !ok {
		return orchestrator.WorkloadStatus{}, orchestrator.ErrNotFound
	}
	return st, nil
}
func (f *fakeOrch) DeleteWorkload(ctx context.Context, namespace, name string) error { return nil }
func (f *fakeOrch) ListPodsByLabel(ctx context.Context, namespace, labelSelector string) ([]orchestrator.PodInfo, error) {
	return nil, nil
}
func (f *fakeOrch) ReadPodLog(ctx context.Context, namespace, pod string, tailLines int64) (string, error) {
	return "", nil
}
func (f *fakeOrch) StreamPodLog(ctx context.Context, namespace, pod string) (io.ReadCloser, error) {
	return nil, nil
}
func (f *fakeOrch) ListNodes(ctx context.Context) ([]orchestrator.NodeInfo, error) { return nil, nil }
func (f *fakeOrch) ClusterJobCounts(ctx context.Context) (int, int, int, error)    { return 0, 0, 0, nil }

// fakePlanner records calls without touching the orchestrator.
type fakePlanner struct {
	backend      string
	uploadCalls  int
	cleanupCalls int
}

func (p *fakePlanner) Detect(ctx context.Context) string { return p.backend }
func (p *fakePlanner) LocationFor(backend string, job domain.Job, namespace, tenantID string) domain.StorageLocation {
	if backend == "volume" {
		return domain.StorageLocation{Backend: "volume", Path: "/results/" + job.JobID.String()}
	}
	return domain.StorageLocation{Backend: backend, Path: "sumo-results/" + tenantID + "/" + job.JobID.String()}
}
func (p *fakePlanner) StartUpload(ctx context.Context, job domain.Job, tenantID, backend string) error {
	p.uploadCalls++
	return nil
}
func (p *fakePlanner) CleanupVolume(ctx context.Context, job domain.Job) error {
	p.cleanupCalls++
	return nil
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// TestTransitionActiveJobsMarksMissingWorkloadFailed covers spec.md §8 S6:
// a RUNNING row whose workload 404s becomes FAILED within one sweep.
func TestTransitionActiveJobsMarksMissingWorkloadFailed(t *testing.T) {
	jobID := uuid.New()
	job := domain.Job{JobID: jobID, Namespace: "acme", WorkloadName: "sim-abcd1234", Status: domain.StatusRunning}
	store := newFakeStore(job)
	orch := newFakeOrch() // no workload registered -> ErrNotFound

	r := New(store, orch, &fakePlanner{}, testLogger(), time.Second, time.Minute, time.Hour, time.Hour)
	r.transitionActiveJobs(context.Background())

	got := store.jobs[jobID]
	if got.Status != domain.StatusFailed {
		t.Fatalf("Status = %q, want FAILED", got.Status)
	}
	if got.FinishedAt == nil {
		t.Error("FinishedAt should be set on the 404 transition")
	}
}

func TestTransitionActiveJobsPendingToRunning(t *testing.T) {
	jobID := uuid.New()
	job := domain.Job{JobID: jobID, Namespace: "acme", WorkloadName: "sim-abcd1234", Status: domain.StatusPending}
	store := newFakeStore(job)
	orch := newFakeOrch()
	orch.workloads[key("acme", "sim-abcd1234")] = orchestrator.WorkloadStatus{Active: 1}

	r := New(store, orch, &fakePlanner{}, testLogger(), time.Second, time.Minute, time.Hour, time.Hour)
	r.transitionActiveJobs(context.Background())

	got := store.jobs[jobID]
	if got.Status != domain.StatusRunning {
		t.Fatalf("Status = %q, want RUNNING", got.Status)
	}
	if got.StartedAt == nil {
		t.Error("StartedAt should be set on the PENDING->RUNNING edge")
	}
}

func TestTransitionActiveJobsFirstObservationStaysPending(t *testing.T) {
	// spec.md §8 Boundaries: first observation active=0,succeeded=0,failed=0
	// must not transition the row.
	jobID := uuid.New()
	job := domain.Job{JobID: jobID, Namespace: "acme", WorkloadName: "sim-abcd1234", Status: domain.StatusPending}
	store := newFakeStore(job)
	orch := newFakeOrch()
	orch.workloads[key("acme", "sim-abcd1234")] = orchestrator.WorkloadStatus{}

	r := New(store, orch, &fakePlanner{}, testLogger(), time.Second, time.Minute, time.Hour, time.Hour)
	r.transitionActiveJobs(context.Background())

	if got := store.jobs[jobID].Status; got != domain.StatusPending {
		t.Fatalf("Status = %q, want it to stay PENDING", got)
	}
	if len(store.updates) != 0 {
		t.Errorf("expected no update written, got %d", len(store.updates))
	}
}

func TestBackfillTimestampsFallsBackToSubmittedAt(t *testing.T) {
	jobID := uuid.New()
	submitted := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	job := domain.Job{JobID: jobID, Namespace: "acme", WorkloadName: "sim-abcd1234", Status: domain.StatusSucceeded, SubmittedAt: submitted}
	store := newFakeStore(job)
	orch := newFakeOrch() // workload gone -> 404

	r := New(store, orch, &fakePlanner{}, testLogger(), time.Second, time.Minute, time.Hour, time.Hour)
	r.backfillTimestamps(context.Background())

	got := store.jobs[jobID]
	if got.StartedAt == nil || !got.StartedAt.Equal(submitted) {
		t.Errorf("StartedAt = %v, want fallback to submitted_at %v", got.StartedAt, submitted)
	}
	if got.FinishedAt == nil {
		t.Error("FinishedAt should be backfilled even on a 404")
	}
}

func TestBackfillResultLocationTriggersUploadOnObjectStore(t *testing.T) {
	jobID := uuid.New()
	job := domain.Job{JobID: jobID, TenantID: "acme", Namespace: "acme", Status: domain.StatusSucceeded}
	store := newFakeStore(job)
	planner := &fakePlanner{backend: "s3"}

	r := New(store, newFakeOrch(), planner, testLogger(), time.Second, time.Minute, time.Hour, time.Hour)
	r.backfillResultLocation(context.Background())

	if planner.uploadCalls != 1 {
		t.Errorf("uploadCalls = %d, want 1 for an object-store backend", planner.uploadCalls)
	}
	if store.jobs[jobID].ResultLocation == nil {
		t.Error("ResultLocation should be set after backfill")
	}
}

func TestBackfillResultLocationVolumeBackendSkipsUpload(t *testing.T) {
	jobID := uuid.New()
	job := domain.Job{JobID: jobID, TenantID: "acme", Namespace: "acme", Status: domain.StatusSucceeded}
	store := newFakeStore(job)
	planner := &fakePlanner{backend: "volume"}

	r := New(store, newFakeOrch(), planner, testLogger(), time.Second, time.Minute, time.Hour, time.Hour)
	r.backfillResultLocation(context.Background())

	if planner.uploadCalls != 0 {
		t.Errorf("uploadCalls = %d, want 0 for the volume backend", planner.uploadCalls)
	}
}

// TestCompleteUploadsOrdering covers spec.md §8 property 6: cleanup is never
// triggered before the upload workload reports success.
func TestCompleteUploadsOrdering(t *testing.T) {
	jobID := uuid.New()
	loc := "sumo-results/acme/" + jobID.String()
	job := domain.Job{JobID: jobID, TenantID: "acme", Namespace: "acme", Status: domain.StatusSucceeded, ResultLocation: &loc}
	store := newFakeStore(job)
	orch := newFakeOrch()
	planner := &fakePlanner{backend: "s3"}
	r := New(store, orch, planner, testLogger(), time.Second, time.Minute, time.Hour, time.Hour)

	// Upload workload not yet registered (still running/absent): no cleanup.
	r.completeUploads(context.Background())
	if planner.cleanupCalls != 0 {
		t.Fatalf("cleanupCalls = %d before upload succeeded, want 0", planner.cleanupCalls)
	}
	if store.jobs[jobID].ResultFiles != nil {
		t.Fatal("ResultFiles should not be set before upload succeeds")
	}

	// Upload workload now reports success.
	uploadName := "upload-" + job.ShortID()
	orch.workloads[key("acme", uploadName)] = orchestrator.WorkloadStatus{Succeeded: 1}
	r.completeUploads(context.Background())

	if planner.cleanupCalls != 1 {
		t.Fatalf("cleanupCalls = %d after upload succeeded, want 1", planner.cleanupCalls)
	}
	if store.jobs[jobID].ResultFiles == nil || !store.jobs[jobID].ResultFiles.Uploaded {
		t.Fatal("ResultFiles should be marked uploaded after the upload workload succeeds")
	}
}

func TestSweepOrphanedConfigBlobsDeletesOnlyOldOrphans(t *testing.T) {
	store := newFakeStore() // no jobs at all -> every blob is an orphan candidate
	orch := newFakeOrch()
	orch.namespaces = []string{"acme", "kube-system"}

	orphanID := uuid.New()
	orch.configBlobs["acme"] = []orchestrator.ConfigBlob{
		{Name: "sumo-abcd1234", Namespace: "acme", Labels: map[string]string{"job-id": orphanID.String()}, Age: 2 * time.Hour},
		{Name: "sumo-fresh0000", Namespace: "acme", Labels: map[string]string{"job-id": uuid.New().String()}, Age: time.Minute},
	}
	orch.configBlobs["kube-system"] = []orchestrator.ConfigBlob{
		{Name: "should-never-be-touched", Namespace: "kube-system", Labels: map[string]string{"job-id": uuid.New().String()}, Age: 3 * time.Hour},
	}

	r := New(store, orch, &fakePlanner{}, testLogger(), time.Second, time.Minute, time.Hour, time.Hour)
	r.sweepOrphanedConfigBlobs(context.Background())

	if len(orch.deletedBlobs) != 1 || orch.deletedBlobs[0] != key("acme", "sumo-abcd1234") {
		t.Fatalf("deletedBlobs = %v, want exactly [acme/sumo-abcd1234]", orch.deletedBlobs)
	}
}

// TestTransitionActiveJobsSchedulesDeferredConfigBlobCleanup covers spec.md
// §4.5 pass 4 / §4.7: the terminal edge (here, a 404'd workload marked
// FAILED) schedules a worker that, after configBlobCleanupDelay, deletes
// every config blob in the job's namespace named sumo-<shortId>*, grounded
// in scaling.py's cleanup_configmaps.
func TestTransitionActiveJobsSchedulesDeferredConfigBlobCleanup(t *testing.T) {
	jobID := uuid.New()
	job := domain.Job{JobID: jobID, Namespace: "acme", WorkloadName: "sim-abcd1234", Status: domain.StatusRunning}
	store := newFakeStore(job)
	orch := newFakeOrch() // no workload registered -> ErrNotFound -> FAILED
	shortID := job.ShortID()
	orch.configBlobs["acme"] = []orchestrator.ConfigBlob{
		{Name: "sumo-" + shortID, Namespace: "acme"},
		{Name: "sumo-" + shortID + "-chunk1", Namespace: "acme"},
		{Name: "sumo-other-job", Namespace: "acme"},
	}

	r := New(store, orch, &fakePlanner{}, testLogger(), time.Second, time.Minute, time.Hour, 10*time.Millisecond)
	r.transitionActiveJobs(context.Background())

	deadline := time.After(2 * time.Second)
	for {
		deleted := orch.deleted()
		if len(deleted) == 2 {
			want := map[string]bool{
				key("acme", "sumo-"+shortID):          true,
				key("acme", "sumo-"+shortID+"-chunk1"): true,
			}
			for _, d := range deleted {
				if !want[d] {
					t.Fatalf("deleted unexpected blob %q; deletedBlobs = %v", d, deleted)
				}
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for deferred cleanup; deletedBlobs = %v", deleted)
		case <-time.After(10 * time.Millisecond):
		}
	}
}
