// Package domain holds the narrow set of record types shared across the
// controller plane, replacing ad-hoc map passing between subsystems.
package domain

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DeriveNamespace lowercases a tenant ID and replaces underscores/spaces
// with hyphens to produce a valid orchestrator namespace name.
func DeriveNamespace(tenantID string) string {
	ns := strings.ToLower(tenantID)
	ns = strings.ReplaceAll(ns, "_", "-")
	ns = strings.ReplaceAll(ns, " ", "-")
	return ns
}

// Status is a job's position in its lifecycle. Transitions are monotone:
// Pending -> Running -> {Succeeded, Failed}; never backwards.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
)

// Terminal reports whether s is a terminal status.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Tenant is a registered submitter, isolated in its own orchestrator
// namespace with its own resource ceilings.
type Tenant struct {
	TenantID          string
	Namespace         string
	APIKey            string
	MaxCPU            int
	MaxMemoryGi       int
	MaxConcurrentJobs int
	CreatedAt         time.Time
}

// ScenarioData is the opaque submission metadata carried on a job row.
type ScenarioData struct {
	ScenarioID string `json:"scenario_id"`
	ConfigFile string `json:"config_file"`
}

// ResultFiles is the stub recorded once a terminal job's result upload (or
// volume placement) is confirmed.
type ResultFiles struct {
	StorageType string `json:"storage_type"`
	Uploaded    bool   `json:"uploaded"`
	Prefix      string `json:"prefix"`
}

// Job is one submitted simulation run.
type Job struct {
	JobID          uuid.UUID
	TenantID       string
	WorkloadName   string
	Namespace      string
	Status         Status
	ScenarioData   ScenarioData
	CPURequest     int
	MemoryGi       int
	SubmittedAt    time.Time
	StartedAt      *time.Time
	FinishedAt     *time.Time
	ResultLocation *string
	ResultFiles    *ResultFiles
}

// ShortID is the 8-character prefix used to derive orchestrator resource
// names (workload, config blob, side-workload names).
func (j Job) ShortID() string {
	s := j.JobID.String()
	if len(s) < 8 {
		return s
	}
	return s[:8]
}

// RawResultFiles marshals ResultFiles for storage as a JSON column, or nil
// when unset.
func (j Job) RawResultFiles() ([]byte, error) {
	if j.ResultFiles == nil {
		return nil, nil
	}
	return json.Marshal(j.ResultFiles)
}

// JobUpdate is a planned write produced by one reconciler pass. Passes
// compute JobUpdate values from a read-only snapshot; the store applies each
// one in its own transaction.
type JobUpdate struct {
	JobID          uuid.UUID
	Status         *Status
	StartedAt      *time.Time
	FinishedAt     *time.Time
	ResultLocation *string
	ResultFiles    *ResultFiles
}

// StorageLocation describes where a terminal job's results live or will
// live, independent of whether the backend is a shared volume or an object
// store.
type StorageLocation struct {
	Backend string // "volume", "s3", "gcs", "azure"
	Path    string // volume: "/results/<job_id>"; object store: "<prefix>/<tenant>/<job_id>/"
}

// IsObjectStore reports whether the location names an object-store backend
// rather than the shared result volume.
func (l StorageLocation) IsObjectStore() bool {
	return l.Backend != "volume" && l.Backend != ""
}
