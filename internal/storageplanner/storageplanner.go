// Package storageplanner chooses the result backend (shared volume vs.
// object store) for a job's output, and emits the upload and cleanup
// side-workloads that move results from the volume to the chosen backend.
package storageplanner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sumoctl/controller/internal/domain"
	"github.com/sumoctl/controller/internal/orchestrator"
)

const uploaderImage = "python:3.11-slim"
const cleanupImage = "busybox:latest"

// Config pins the operator-configured backend and its credentials.
type Config struct {
	StorageType string // "auto", "volume", "s3", "gcs", "azure"
	SizeGi      int
	Prefix      string

	S3Bucket  string
	S3Region  string
	GCSBucket string

	AzureStorageAccount string
	AzureContainer      string
}

// Planner implements detect/locationFor/startUpload/cleanupVolume.
type Planner struct {
	orch   orchestrator.Port
	cfg    Config
	logger *slog.Logger
}

// New builds a Planner.
func New(orch orchestrator.Port, cfg Config, logger *slog.Logger) *Planner {
	return &Planner{orch: orch, cfg: cfg, logger: logger}
}

// Detect returns one of {volume, s3, gcs, azure}. An operator-pinned value
// short-circuits node inspection entirely; §9 flags this detection as
// non-deterministic in heterogeneous clusters and recommends pinning it.
func (p *Planner) Detect(ctx context.Context) string {
	if p.cfg.StorageType != "" && p.cfg.StorageType != "auto" {
		return p.cfg.StorageType
	}

	if !p.orch.Available() {
		return "volume"
	}

	nodes, err := p.orch.ListNodes(ctx)
	if err != nil || len(nodes) == 0 {
		return "volume"
	}

	for _, n := range nodes {
		host := strings.ToLower(n.Hostname)
		hasLabelSubstr := func(sub string) bool {
			for k := range n.Labels {
				if strings.Contains(strings.ToLower(k), sub) {
					return true
				}
			}
			return false
		}

		switch {
		case strings.Contains(host, "gke") || hasLabelSubstr("gke"):
			if p.cfg.GCSBucket != "" {
				return "gcs"
			}
			return "volume"
		case strings.Contains(host, "eks") || strings.Contains(host, "ec2"):
			if p.cfg.S3Bucket != "" {
				return "s3"
			}
			return "volume"
		case strings.Contains(host, "aks") || hasLabelSubstr("azure"):
			if p.cfg.AzureStorageAccount != "" && p.cfg.AzureContainer != "" {
				return "azure"
			}
			return "volume"
		}
	}
	return "volume"
}

// LocationFor returns the storage location handle for a job, given the
// already-detected backend.
func (p *Planner) LocationFor(backend string, job domain.Job, namespace, tenantID string) domain.StorageLocation {
	jobID := job.JobID.String()
	switch backend {
	case "s3":
		return domain.StorageLocation{Backend: "s3", Path: fmt.Sprintf("%s/%s/%s/", p.prefix(), tenantID, jobID)}
	case "gcs":
		return domain.StorageLocation{Backend: "gcs", Path: fmt.Sprintf("%s/%s/%s/", p.prefix(), tenantID, jobID)}
	case "azure":
		return domain.StorageLocation{Backend: "azure", Path: fmt.Sprintf("%s/%s/%s/", p.prefix(), tenantID, jobID)}
	default:
		return domain.StorageLocation{Backend: "volume", Path: fmt.Sprintf("/results/%s", jobID)}
	}
}

func (p *Planner) prefix() string {
	if p.cfg.Prefix != "" {
		return p.cfg.Prefix
	}
	return "sumo-results"
}

// UploadWorkloadName is the deterministic name of a job's upload
// side-workload, used both to emit it and to later look it up.
func UploadWorkloadName(shortID string) string { return fmt.Sprintf("upload-%s", shortID) }

// CleanupWorkloadName is the deterministic name of a job's volume-cleanup
// side-workload.
func CleanupWorkloadName(shortID string) string { return fmt.Sprintf("cleanup-%s", shortID) }

// StartUpload emits a single-shot side-workload that copies
// /results/<job_id> to the object-store backend, carrying backend-specific
// credentials via environment.
func (p *Planner) StartUpload(ctx context.Context, job domain.Job, tenantID, backend string) error {
	sid := job.ShortID()
	scriptConfigMap := fmt.Sprintf("upload-script-%s", sid)
	uploadScript := p.uploadScript(backend, job.JobID.String(), tenantID)

	if err := p.orch.CreateConfigBlob(ctx, job.Namespace, scriptConfigMap, nil, map[string]string{"upload.sh": uploadScript}); err != nil {
		return fmt.Errorf("creating upload script config blob: %w", err)
	}

	spec := orchestrator.WorkloadSpec{
		Name:      UploadWorkloadName(sid),
		Namespace: job.Namespace,
		Labels:    map[string]string{"job-id": job.JobID.String(), "type": "upload"},
		Image:     uploaderImage,
		Command:   []string{"/bin/sh", "/config/upload.sh"},
		Env:       p.uploadEnv(backend),
		Volumes: []orchestrator.VolumeMount{
			{Name: "results", MountPath: "/results", VolumeClaim: "results-" + job.Namespace},
			{Name: "upload-script", MountPath: "/config", ConfigBlob: scriptConfigMap},
		},
		TTLSecondsAfterFinish: 60,
		BackoffLimit:          0,
	}

	return p.orch.CreateWorkload(ctx, spec)
}

// CleanupVolume emits a minimal side-workload that deletes
// /results/<job_id> from the shared volume. Callers must only invoke this
// after the upload side-workload has reported success.
func (p *Planner) CleanupVolume(ctx context.Context, job domain.Job) error {
	sid := job.ShortID()
	scriptConfigMap := fmt.Sprintf("cleanup-script-%s", sid)
	script := fmt.Sprintf("#!/bin/sh\nset -e\nif [ -d /results/%s ]; then rm -rf /results/%s; fi\n", job.JobID, job.JobID)

	if err := p.orch.CreateConfigBlob(ctx, job.Namespace, scriptConfigMap, nil, map[string]string{"cleanup.sh": script}); err != nil {
		return fmt.Errorf("creating cleanup script config blob: %w", err)
	}

	spec := orchestrator.WorkloadSpec{
		Name:      CleanupWorkloadName(sid),
		Namespace: job.Namespace,
		Labels:    map[string]string{"job-id": job.JobID.String(), "type": "cleanup"},
		Image:     cleanupImage,
		Command:   []string{"/bin/sh", "/config/cleanup.sh"},
		Volumes: []orchestrator.VolumeMount{
			{Name: "results", MountPath: "/results", VolumeClaim: "results-" + job.Namespace},
			{Name: "cleanup-script", MountPath: "/config", ConfigBlob: scriptConfigMap},
		},
		TTLSecondsAfterFinish: 60,
		BackoffLimit:          0,
	}

	return p.orch.CreateWorkload(ctx, spec)
}

func (p *Planner) uploadEnv(backend string) map[string]string {
	env := map[string]string{}
	switch backend {
	case "s3":
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			env["AWS_ACCESS_KEY_ID"] = v
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			env["AWS_SECRET_ACCESS_KEY"] = v
		}
		if v := os.Getenv("AWS_SESSION_TOKEN"); v != "" {
			env["AWS_SESSION_TOKEN"] = v
		}
	case "gcs":
		if v := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); v != "" {
			env["GOOGLE_APPLICATION_CREDENTIALS"] = v
		}
	case "azure":
		if v := os.Getenv("AZURE_STORAGE_CONNECTION_STRING"); v != "" {
			env["AZURE_STORAGE_CONNECTION_STRING"] = v
		}
	}
	return env
}

func (p *Planner) uploadScript(backend, jobID, tenantID string) string {
	prefix := fmt.Sprintf("%s/%s/%s/", p.prefix(), tenantID, jobID)
	resultsDir := fmt.Sprintf("/results/%s", jobID)

	switch backend {
	case "s3":
		return fmt.Sprintf(`#!/bin/sh
set -e
pip install -q boto3
python3 - <<'PYEOF'
import boto3, os
from pathlib import Path
s3 = boto3.client('s3', region_name=%q)
bucket = %q
prefix = %q
results_dir = Path(%q)
if results_dir.exists():
    for f in results_dir.rglob('*'):
        if f.is_file():
            rel = f.relative_to(results_dir)
            s3.upload_file(str(f), bucket, f"{prefix}{rel}")
PYEOF
`, p.cfg.S3Region, p.cfg.S3Bucket, prefix, resultsDir)
	case "gcs":
		return fmt.Sprintf(`#!/bin/sh
set -e
pip install -q google-cloud-storage
python3 - <<'PYEOF'
from google.cloud import storage
from pathlib import Path
client = storage.Client()
bucket = client.bucket(%q)
prefix = %q
results_dir = Path(%q)
if results_dir.exists():
    for f in results_dir.rglob('*'):
        if f.is_file():
            rel = f.relative_to(results_dir)
            bucket.blob(f"{prefix}{rel}").upload_from_filename(str(f))
PYEOF
`, p.cfg.GCSBucket, prefix, resultsDir)
	case "azure":
		return fmt.Sprintf(`#!/bin/sh
set -e
pip install -q azure-storage-blob
python3 - <<'PYEOF'
from azure.storage.blob import BlobServiceClient
from pathlib import Path
import os
conn = os.getenv("AZURE_STORAGE_CONNECTION_STRING")
svc = BlobServiceClient.from_connection_string(conn)
container = svc.get_container_client(%q)
prefix = %q
results_dir = Path(%q)
if results_dir.exists():
    for f in results_dir.rglob('*'):
        if f.is_file():
            rel = f.relative_to(results_dir)
            with open(f, "rb") as data:
                container.upload_blob(name=f"{prefix}{rel}", data=data, overwrite=True)
PYEOF
`, p.cfg.AzureContainer, prefix, resultsDir)
	default:
		return "#!/bin/sh\nexit 0\n"
	}
}
