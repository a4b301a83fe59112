// Package reconciler runs the background sweeps that keep job rows in sync
// with orchestrator-reported workload state: timestamp backfill, result
// location backfill, upload completion, and active-job status transition.
// A fifth, independently-cadenced sweep garbage-collects orphaned config
// blobs. Passes write row by row, each update in its own store transaction
// (a pass as a whole is not applied atomically), grounded in the
// distilled implementation's sync_job_status()/cleanup_old_configmaps().
package reconciler

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sumoctl/controller/internal/domain"
	"github.com/sumoctl/controller/internal/orchestrator"
	"github.com/sumoctl/controller/internal/storageplanner"
)

// JobStore is the subset of internal/store.Store the reconciler needs.
type JobStore interface {
	JobsNeedingTimestampBackfill(ctx context.Context) ([]domain.Job, error)
	JobsNeedingResultLocation(ctx context.Context) ([]domain.Job, error)
	JobsWithPendingUpload(ctx context.Context) ([]domain.Job, error)
	ActiveJobs(ctx context.Context) ([]domain.Job, error)
	ApplyUpdate(ctx context.Context, u domain.JobUpdate) error
	JobExists(ctx context.Context, jobID uuid.UUID) (bool, error)
}

// Planner is the subset of internal/storageplanner.Planner the reconciler
// needs to decide and act on result placement.
type Planner interface {
	Detect(ctx context.Context) string
	LocationFor(backend string, job domain.Job, namespace, tenantID string) domain.StorageLocation
	StartUpload(ctx context.Context, job domain.Job, tenantID, backend string) error
	CleanupVolume(ctx context.Context, job domain.Job) error
}

// Reconciler drives the five passes against an orchestrator.Port and a
// JobStore.
type Reconciler struct {
	store                  JobStore
	orch                   orchestrator.Port
	planner                Planner
	logger                 *slog.Logger
	sweep                  time.Duration
	orphan                 time.Duration
	orphanAge              time.Duration
	configBlobCleanupDelay time.Duration
}

// New builds a Reconciler. sweepInterval governs passes 1-4; orphanInterval
// governs the independent config-blob garbage-collection loop.
// configBlobCleanupDelay governs the per-job deferred config-blob cleanup
// worker spawned when a job reaches a terminal status.
func New(store JobStore, orch orchestrator.Port, planner Planner, logger *slog.Logger, sweepInterval, orphanInterval, orphanAge, configBlobCleanupDelay time.Duration) *Reconciler {
	return &Reconciler{
		store:                  store,
		orch:                   orch,
		planner:                planner,
		logger:                 logger,
		sweep:                  sweepInterval,
		orphan:                 orphanInterval,
		orphanAge:              orphanAge,
		configBlobCleanupDelay: configBlobCleanupDelay,
	}
}

// Run drives both loops until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	go r.runOrphanSweep(ctx)
	r.runMainSweep(ctx)
}

func (r *Reconciler) runMainSweep(ctx context.Context) {
	ticker := time.NewTicker(r.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !r.orch.Available() {
				continue
			}
			r.backfillTimestamps(ctx)
			r.backfillResultLocation(ctx)
			r.completeUploads(ctx)
			r.transitionActiveJobs(ctx)
		}
	}
}

func (r *Reconciler) runOrphanSweep(ctx context.Context) {
	ticker := time.NewTicker(r.orphan)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !r.orch.Available() {
				continue
			}
			r.sweepOrphanedConfigBlobs(ctx)
		}
	}
}

// backfillTimestamps is pass 1: terminal jobs missing started_at/finished_at
// get them filled from the orchestrator's reported start time, falling back
// to submitted_at when the workload object is gone (404) or never reported
// a start.
func (r *Reconciler) backfillTimestamps(ctx context.Context) {
	jobs, err := r.store.JobsNeedingTimestampBackfill(ctx)
	if err != nil {
		r.logger.Error("reconciler: listing timestamp-backfill candidates failed", "error", err)
		return
	}

	for _, j := range jobs {
		u := domain.JobUpdate{JobID: j.JobID}
		wantUpdate := false

		status, err := r.orch.ReadWorkload(ctx, j.Namespace, j.WorkloadName)
		switch {
		case errors.Is(err, orchestrator.ErrNotFound):
			if j.FinishedAt == nil {
				now := time.Now().UTC()
				u.FinishedAt = &now
				wantUpdate = true
			}
			if j.StartedAt == nil {
				u.StartedAt = &j.SubmittedAt
				wantUpdate = true
			}
		case err != nil:
			r.logger.Debug("reconciler: could not read workload for timestamp backfill", "job_id", j.JobID, "error", err)
			continue
		default:
			if j.FinishedAt == nil {
				now := time.Now().UTC()
				u.FinishedAt = &now
				wantUpdate = true
			}
			if j.StartedAt == nil {
				if status.StartTime != nil {
					u.StartedAt = status.StartTime
				} else {
					u.StartedAt = &j.SubmittedAt
				}
				wantUpdate = true
			}
		}

		if !wantUpdate {
			continue
		}
		if err := r.store.ApplyUpdate(ctx, u); err != nil {
			r.logger.Error("reconciler: applying timestamp backfill failed", "job_id", j.JobID, "error", err)
			continue
		}
		r.logger.Info("reconciler: backfilled timestamps", "job_id", j.JobID)
	}
}

// backfillResultLocation is pass 2: terminal jobs missing result_location
// get a location decided and, for SUCCEEDED jobs on an object-store backend,
// an upload side-workload started.
func (r *Reconciler) backfillResultLocation(ctx context.Context) {
	jobs, err := r.store.JobsNeedingResultLocation(ctx)
	if err != nil {
		r.logger.Error("reconciler: listing result-location candidates failed", "error", err)
		return
	}

	backend := r.planner.Detect(ctx)

	for _, j := range jobs {
		loc := r.planner.LocationFor(backend, j, j.Namespace, j.TenantID)
		path := loc.Path

		if loc.IsObjectStore() && j.Status == domain.StatusSucceeded {
			if err := r.planner.StartUpload(ctx, j, j.TenantID, backend); err != nil {
				r.logger.Debug("reconciler: starting upload side-workload failed", "job_id", j.JobID, "error", err)
			}
		}

		if err := r.store.ApplyUpdate(ctx, domain.JobUpdate{JobID: j.JobID, ResultLocation: &path}); err != nil {
			r.logger.Error("reconciler: applying result-location backfill failed", "job_id", j.JobID, "error", err)
			continue
		}
		r.logger.Info("reconciler: backfilled result location", "job_id", j.JobID, "backend", backend)
	}
}

// completeUploads is pass 3: SUCCEEDED jobs whose result_location contains
// "results/" but with no result_files yet get checked against their upload
// side-workload (volume-backed rows have none and are skipped); success
// marks result_files and triggers volume cleanup.
func (r *Reconciler) completeUploads(ctx context.Context) {
	jobs, err := r.store.JobsWithPendingUpload(ctx)
	if err != nil {
		r.logger.Error("reconciler: listing pending-upload candidates failed", "error", err)
		return
	}

	backend := r.planner.Detect(ctx)

	for _, j := range jobs {
		uploadName := storageplanner.UploadWorkloadName(j.ShortID())
		status, err := r.orch.ReadWorkload(ctx, j.Namespace, uploadName)
		if errors.Is(err, orchestrator.ErrNotFound) {
			continue
		}
		if err != nil {
			r.logger.Debug("reconciler: could not read upload workload", "job_id", j.JobID, "error", err)
			continue
		}
		if status.Succeeded == 0 {
			continue
		}

		prefix := ""
		if j.ResultLocation != nil {
			prefix = *j.ResultLocation
		}
		rf := &domain.ResultFiles{StorageType: backend, Uploaded: true, Prefix: prefix}

		if err := r.store.ApplyUpdate(ctx, domain.JobUpdate{JobID: j.JobID, ResultFiles: rf}); err != nil {
			r.logger.Error("reconciler: applying result_files update failed", "job_id", j.JobID, "error", err)
			continue
		}
		r.logger.Info("reconciler: upload completed", "job_id", j.JobID)

		if err := r.planner.CleanupVolume(ctx, j); err != nil {
			r.logger.Debug("reconciler: cleanup side-workload failed", "job_id", j.JobID, "error", err)
		}
	}
}

// transitionActiveJobs is pass 4: PENDING/RUNNING jobs get their status
// synced against the orchestrator's reported workload conditions.
func (r *Reconciler) transitionActiveJobs(ctx context.Context) {
	jobs, err := r.store.ActiveJobs(ctx)
	if err != nil {
		r.logger.Error("reconciler: listing active jobs failed", "error", err)
		return
	}

	for _, j := range jobs {
		status, err := r.orch.ReadWorkload(ctx, j.Namespace, j.WorkloadName)
		if errors.Is(err, orchestrator.ErrNotFound) {
			now := time.Now().UTC()
			failed := domain.StatusFailed
			if err := r.store.ApplyUpdate(ctx, domain.JobUpdate{JobID: j.JobID, Status: &failed, FinishedAt: &now}); err != nil {
				r.logger.Error("reconciler: marking missing workload failed", "job_id", j.JobID, "error", err)
				continue
			}
			r.logger.Warn("reconciler: workload not found, marked FAILED", "job_id", j.JobID)
			r.scheduleConfigBlobCleanup(j)
			continue
		}
		if err != nil {
			r.logger.Error("reconciler: reading workload status failed", "job_id", j.JobID, "error", err)
			continue
		}

		newStatus := j.Status
		switch {
		case status.FailedCnd:
			newStatus = domain.StatusFailed
		case status.Complete:
			newStatus = domain.StatusSucceeded
		case status.Active > 0 && j.Status == domain.StatusPending:
			newStatus = domain.StatusRunning
		}

		if newStatus == j.Status {
			continue
		}

		u := domain.JobUpdate{JobID: j.JobID, Status: &newStatus}
		switch newStatus {
		case domain.StatusRunning:
			now := time.Now().UTC()
			u.StartedAt = &now
		case domain.StatusSucceeded, domain.StatusFailed:
			now := time.Now().UTC()
			u.FinishedAt = &now
			if j.StartedAt == nil {
				u.StartedAt = &now
			}
		}

		if err := r.store.ApplyUpdate(ctx, u); err != nil {
			r.logger.Error("reconciler: applying status transition failed", "job_id", j.JobID, "error", err)
			continue
		}
		r.logger.Info("reconciler: job status transitioned", "job_id", j.JobID, "from", j.Status, "to", newStatus)

		if newStatus == domain.StatusSucceeded || newStatus == domain.StatusFailed {
			r.scheduleConfigBlobCleanup(j)
		}
	}
}

// scheduleConfigBlobCleanup spawns the auxiliary, short-lived worker spec.md
// §4.7/§5 calls for: after configBlobCleanupDelay, delete every config blob
// in the job's namespace whose name begins with sumo-<shortId>, grounded in
// scaling.py's cleanup_configmaps (itself started as a daemon thread from
// sync_job_status on the terminal edge).
func (r *Reconciler) scheduleConfigBlobCleanup(j domain.Job) {
	go func() {
		time.Sleep(r.configBlobCleanupDelay)

		ctx := context.Background()
		blobs, err := r.orch.ListConfigBlobs(ctx, j.Namespace, nil)
		if err != nil {
			r.logger.Error("reconciler: listing config blobs for deferred cleanup failed", "job_id", j.JobID, "error", err)
			return
		}

		prefix := "sumo-" + j.ShortID()
		for _, b := range blobs {
			if !strings.HasPrefix(b.Name, prefix) {
				continue
			}
			if err := r.orch.DeleteConfigBlob(ctx, j.Namespace, b.Name); err != nil {
				r.logger.Warn("reconciler: deferred config blob cleanup failed", "job_id", j.JobID, "name", b.Name, "error", err)
				continue
			}
			r.logger.Info("reconciler: cleaned up config blob", "job_id", j.JobID, "name", b.Name)
		}
	}()
}

// sweepOrphanedConfigBlobs deletes config blobs labelled cleanup=true whose
// job-id no longer exists in the job table, once they are older than
// orphanAge. The age gate avoids racing a job's own submission, where the
// row write and the config-blob create are not atomic.
func (r *Reconciler) sweepOrphanedConfigBlobs(ctx context.Context) {
	namespaces, err := r.orch.ListNamespaces(ctx)
	if err != nil {
		r.logger.Error("reconciler: listing namespaces for orphan sweep failed", "error", err)
		return
	}

	for _, ns := range namespaces {
		if strings.HasPrefix(ns, "kube-") {
			continue
		}

		blobs, err := r.orch.ListConfigBlobs(ctx, ns, map[string]string{"cleanup": "true"})
		if err != nil {
			r.logger.Debug("reconciler: listing config blobs failed", "namespace", ns, "error", err)
			continue
		}

		for _, b := range blobs {
			if b.Age < r.orphanAge {
				continue
			}
			jobIDStr, ok := b.Labels["job-id"]
			if !ok {
				continue
			}
			jobID, err := uuid.Parse(jobIDStr)
			if err != nil {
				continue
			}

			exists, err := r.store.JobExists(ctx, jobID)
			if err != nil {
				r.logger.Debug("reconciler: checking job existence failed", "job_id", jobID, "error", err)
				continue
			}
			if exists {
				continue
			}

			if err := r.orch.DeleteConfigBlob(ctx, ns, b.Name); err != nil {
				r.logger.Debug("reconciler: deleting orphaned config blob failed", "namespace", ns, "name", b.Name, "error", err)
				continue
			}
			r.logger.Info("reconciler: deleted orphaned config blob", "namespace", ns, "name", b.Name)
		}
	}
}
