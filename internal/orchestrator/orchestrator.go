// Package orchestrator is the thin, typed façade over the cluster API:
// namespaces, quotas, limit ranges, volume claims, config blobs, workloads,
// pods, and log streams. It is the seam the rest of the controller plane
// tests against — callers never import client-go directly.
package orchestrator

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned by Port operations when the requested object does
// not exist. Callers branch on this with errors.Is, distinguishing it from
// any other failure.
var ErrNotFound = errors.New("orchestrator: not found")

// ResourceLimits describes the CPU/memory/pod ceilings enforced on a
// tenant's namespace.
type ResourceLimits struct {
	MaxCPU            int
	MaxMemoryGi       int
	MaxConcurrentJobs int
}

// WorkloadSpec describes a one-shot container run.
type WorkloadSpec struct {
	Name                  string
	Namespace             string
	Labels                map[string]string
	Image                 string
	Command               []string
	Args                  []string
	Env                   map[string]string
	CPU                   int
	MemoryGi              int
	NodeSelector          map[string]string
	Volumes               []VolumeMount
	TTLSecondsAfterFinish int32
	ActiveDeadlineSeconds int64
	BackoffLimit          int32
}

// VolumeMount names either a config blob or a volume claim to mount into a
// workload's container at a path.
type VolumeMount struct {
	Name        string
	MountPath   string
	ConfigBlob  string // set for config-blob-backed mounts
	VolumeClaim string // set for persistent-volume-claim-backed mounts
}

// WorkloadStatus is the orchestrator's reported view of a workload.
type WorkloadStatus struct {
	Active    int32
	Succeeded int32
	Failed    int32
	StartTime *time.Time
	Complete  bool
	FailedCnd bool
}

// PodInfo identifies a workload's backing pod.
type PodInfo struct {
	Name  string
	Phase string // Pending, Running, Succeeded, Failed, Unknown
}

// NodeInfo summarises one cluster node for dashboard/diagnostic surfaces.
type NodeInfo struct {
	Name        string
	Labels      map[string]string
	Hostname    string
	Capacity    map[string]string
	Allocatable map[string]string
	PodsRunning int
	Conditions  []string
}

// ConfigBlob is a small namespaced key-value object (a ConfigMap-shaped
// resource) retrievable by mounting into a container filesystem.
type ConfigBlob struct {
	Name      string
	Namespace string
	Labels    map[string]string
	Data      map[string]string
	Age       time.Duration
}

// Port is the narrow capability interface the rest of the controller plane
// depends on. A fake-clientset-backed implementation satisfies it in tests;
// a client-go-backed implementation satisfies it in production.
type Port interface {
	// Available reports whether the port completed its credential probe
	// successfully. When false every other method returns a plain
	// "orchestrator unavailable" error that carries no apierr kind.
	Available() bool

	EnsureNamespace(ctx context.Context, name string) error

	ReadResourceQuota(ctx context.Context, namespace, name string) (map[string]string, error)
	ApplyResourceQuota(ctx context.Context, namespace, name string, hard map[string]string) error

	ReadLimitRange(ctx context.Context, namespace, name string) (max map[string]string, err error)
	ApplyLimitRange(ctx context.Context, namespace, name string, defaultReq, defaultLim, max map[string]string) error

	EnsureVolumeClaim(ctx context.Context, namespace, name string, sizeGi int, storageClass string) error
	DefaultStorageClass(ctx context.Context) (string, error)

	CreateConfigBlob(ctx context.Context, namespace, name string, labels map[string]string, data map[string]string) error
	DeleteConfigBlob(ctx context.Context, namespace, name string) error
	ListConfigBlobs(ctx context.Context, namespace string, labelSelector map[string]string) ([]ConfigBlob, error)
	ListNamespaces(ctx context.Context) ([]string, error)

	CreateWorkload(ctx context.Context, spec WorkloadSpec) error
	ReadWorkload(ctx context.Context, namespace, name string) (WorkloadStatus, error)
	DeleteWorkload(ctx context.Context, namespace, name string) error

	ListPodsByLabel(ctx context.Context, namespace, labelSelector string) ([]PodInfo, error)
	ReadPodLog(ctx context.Context, namespace, pod string, tailLines int64) (string, error)
	StreamPodLog(ctx context.Context, namespace, pod string) (io.ReadCloser, error)

	ListNodes(ctx context.Context) ([]NodeInfo, error)
	ClusterJobCounts(ctx context.Context) (total, active, succeeded int, err error)
}
