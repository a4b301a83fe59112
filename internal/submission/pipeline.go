package submission

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/sumoctl/controller/internal/apierr"
	"github.com/sumoctl/controller/internal/domain"
	"github.com/sumoctl/controller/internal/orchestrator"
)

const (
	simImage        = "ghcr.io/eclipse-sumo/sumo:latest"
	nodeSelectorKey = "node-type"
	nodeSelectorVal = "simulation"
)

// JobStore is the subset of internal/store.Store the pipeline needs.
type JobStore interface {
	CountActiveJobs(ctx context.Context, tenantID string) (int, error)
	InsertJob(ctx context.Context, j domain.Job) (domain.Job, error)
}

// Isolator ensures a tenant's namespace/quota/limit-range/volume exist
// before a workload is scheduled into it. Satisfied by internal/tenant.Provisioner.
type Isolator interface {
	EnsureIsolation(ctx context.Context, t domain.Tenant) error
}

// Pipeline validates a submission, enforces quota, shards the payload,
// emits a workload, and persists the job row.
type Pipeline struct {
	store               JobStore
	isolator            Isolator
	orch                orchestrator.Port
	maxFileSizeMB       int
	maxJobDurationHours int
	logger              *slog.Logger
}

// New builds a Pipeline.
func New(store JobStore, isolator Isolator, orch orchestrator.Port, maxFileSizeMB, maxJobDurationHours int, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		store:               store,
		isolator:            isolator,
		orch:                orch,
		maxFileSizeMB:       maxFileSizeMB,
		maxJobDurationHours: maxJobDurationHours,
		logger:              logger,
	}
}

// Request is one submission's input.
type Request struct {
	Tenant     domain.Tenant
	ScenarioID string
	CPURequest int
	MemoryGi   int
	Payload    []byte
}

// Result is the pipeline's output, mirroring the wire contract
// {job_id, status, config_file}.
type Result struct {
	JobID      uuid.UUID
	Status     domain.Status
	ConfigFile string
}

// Submit runs the full admission → persistence → materialisation sequence.
func (p *Pipeline) Submit(ctx context.Context, req Request) (Result, error) {
	if err := validateResourceRequest(req.CPURequest, req.MemoryGi, req.Tenant); err != nil {
		return Result{}, err
	}

	configFile, err := validateZIPPayload(req.Payload, p.maxFileSizeMB)
	if err != nil {
		return Result{}, err
	}

	active, err := p.store.CountActiveJobs(ctx, req.Tenant.TenantID)
	if err != nil {
		return Result{}, fmt.Errorf("counting active jobs: %w", err)
	}
	if active >= req.Tenant.MaxConcurrentJobs {
		return Result{}, apierr.Newf(apierr.KindTooManyJobs, "too many concurrent jobs (%d/%d)", active, req.Tenant.MaxConcurrentJobs)
	}

	jobID := uuid.New()
	job := domain.Job{
		JobID:        jobID,
		TenantID:     req.Tenant.TenantID,
		WorkloadName: fmt.Sprintf("sim-%s", shortID(jobID)),
		Namespace:    req.Tenant.Namespace,
		Status:       domain.StatusPending,
		ScenarioData: domain.ScenarioData{ScenarioID: req.ScenarioID, ConfigFile: configFile},
		CPURequest:   req.CPURequest,
		MemoryGi:     req.MemoryGi,
	}

	job, err = p.store.InsertJob(ctx, job)
	if err != nil {
		return Result{}, fmt.Errorf("inserting job row: %w", err)
	}

	if err := p.isolator.EnsureIsolation(ctx, req.Tenant); err != nil {
		// The row is left PENDING; the next reconciler sweep will
		// observe the orchestrator 404 and transition it to FAILED.
		return Result{}, apierr.Wrap(apierr.KindInternal, err, "provisioning tenant isolation failed")
	}

	if err := p.emitWorkload(ctx, req.Tenant, job, req.Payload); err != nil {
		return Result{}, apierr.Wrap(apierr.KindInternal, err, "emitting workload failed")
	}

	return Result{JobID: job.JobID, Status: job.Status, ConfigFile: configFile}, nil
}

func shortID(id uuid.UUID) string {
	s := id.String()
	if len(s) < 8 {
		return s
	}
	return s[:8]
}

func validateResourceRequest(cpuRequest, memoryGi int, t domain.Tenant) error {
	if cpuRequest < 1 || cpuRequest > t.MaxCPU {
		return apierr.Newf(apierr.KindInvalidInput, "CPU request (%d) must be between 1 and %d", cpuRequest, t.MaxCPU)
	}
	if memoryGi < 1 || memoryGi > t.MaxMemoryGi {
		return apierr.Newf(apierr.KindInvalidInput, "memory request (%d) must be between 1 and %d", memoryGi, t.MaxMemoryGi)
	}
	return nil
}

func validateZIPPayload(payload []byte, maxFileSizeMB int) (string, error) {
	if len(payload) == 0 {
		return "", apierr.New(apierr.KindInvalidInput, "empty payload")
	}

	maxBytes := maxFileSizeMB * 1024 * 1024
	if len(payload) > maxBytes {
		return "", apierr.Newf(apierr.KindPayloadTooLarge, "payload too large (max %d MiB)", maxFileSizeMB)
	}

	zr, err := zip.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return "", apierr.New(apierr.KindInvalidInput, "invalid zip file")
	}

	for _, f := range zr.File {
		if strings.HasSuffix(f.Name, ".sumocfg") {
			return f.Name, nil
		}
	}
	return "", apierr.New(apierr.KindInvalidInput, "no .sumocfg file found in zip")
}

// emitWorkload base64-encodes the payload, shards it if needed, creates the
// config blobs (rolling back all of them on partial failure), and creates
// the workload itself.
func (p *Pipeline) emitWorkload(ctx context.Context, t domain.Tenant, job domain.Job, payload []byte) error {
	sid := shortID(job.JobID)
	b64 := base64.StdEncoding.EncodeToString(payload)
	shards := Shard(b64)

	var created []string
	rollback := func() {
		for _, name := range created {
			if err := p.orch.DeleteConfigBlob(ctx, t.Namespace, name); err != nil {
				p.logger.Warn("submission: rollback failed to delete shard", "name", name, "error", err)
			}
		}
	}

	var volumes []orchestrator.VolumeMount
	var runScript string

	if len(shards) == 1 {
		name := SingleBlobName(sid)
		if err := p.orch.CreateConfigBlob(ctx, t.Namespace, name, map[string]string{"job-id": job.JobID.String(), "cleanup": "true"},
			map[string]string{"sumo_files.zip.b64": shards[0]}); err != nil {
			rollback()
			return fmt.Errorf("creating config blob: %w", err)
		}
		created = append(created, name)
		volumes = append(volumes, orchestrator.VolumeMount{Name: "sumo-files", MountPath: "/config", ConfigBlob: name})
		runScript = entryPointScript(1, job.JobID.String())
	} else {
		for i, chunk := range shards {
			name := ShardName(sid, i)
			if err := p.orch.CreateConfigBlob(ctx, t.Namespace, name, map[string]string{"job-id": job.JobID.String(), "cleanup": "true"},
				map[string]string{"chunk": chunk}); err != nil {
				rollback()
				return fmt.Errorf("creating config blob shard %d: %w", i, err)
			}
			created = append(created, name)
			volumes = append(volumes, orchestrator.VolumeMount{
				Name: fmt.Sprintf("sumo-chunk-%d", i), MountPath: fmt.Sprintf("/config/chunk%d", i), ConfigBlob: name,
			})
		}
		runScript = entryPointScript(len(shards), job.JobID.String())
	}

	volumes = append(volumes, orchestrator.VolumeMount{
		Name: "results", MountPath: "/results", VolumeClaim: "results-" + t.Namespace,
	})

	spec := orchestrator.WorkloadSpec{
		Name:                  job.WorkloadName,
		Namespace:             t.Namespace,
		Labels:                map[string]string{"job-id": job.JobID.String(), "tenant": t.TenantID},
		Image:                 simImage,
		Command:               []string{"/bin/sh", "-c"},
		Args:                  []string{runScript},
		Env:                   map[string]string{"SCENARIO_ID": job.ScenarioData.ScenarioID},
		CPU:                   job.CPURequest,
		MemoryGi:              job.MemoryGi,
		NodeSelector:          map[string]string{nodeSelectorKey: nodeSelectorVal},
		Volumes:               volumes,
		TTLSecondsAfterFinish: 120,
		ActiveDeadlineSeconds: int64(p.maxJobDurationHours) * 3600,
		BackoffLimit:          0,
	}

	if err := p.orch.CreateWorkload(ctx, spec); err != nil {
		rollback()
		return fmt.Errorf("creating workload: %w", err)
	}
	return nil
}
