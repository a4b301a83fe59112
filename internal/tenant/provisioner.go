// Package tenant provisions the orchestrator-side isolation primitives that
// back a tenant's quota: namespace, resource quota, limit range, and result
// volume.
package tenant

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sumoctl/controller/internal/domain"
	"github.com/sumoctl/controller/internal/orchestrator"
)

// Provisioner ensures the four isolation objects exist and match a
// tenant's current limits. EnsureIsolation is idempotent: unchanged limits
// produce a read with no writes; changed limits patch the existing objects
// rather than recreating them.
type Provisioner struct {
	orch                orchestrator.Port
	resultStorageSizeGi int
	fallbackStorageClass string
	logger              *slog.Logger
}

// New builds a Provisioner.
func New(orch orchestrator.Port, resultStorageSizeGi int, fallbackStorageClass string, logger *slog.Logger) *Provisioner {
	return &Provisioner{
		orch:                 orch,
		resultStorageSizeGi:  resultStorageSizeGi,
		fallbackStorageClass: fallbackStorageClass,
		logger:               logger,
	}
}

// EnsureIsolation guarantees namespace/quota/limit-range/volume exist in
// t.Namespace and match t's current limits. Drift detection is a raw string
// comparison on the CPU/memory fields and the quota's pod count — the provisioner owns those fields
// exclusively, so this is safe (see DESIGN.md on normalisation).
func (p *Provisioner) EnsureIsolation(ctx context.Context, t domain.Tenant) error {
	if !p.orch.Available() {
		return fmt.Errorf("orchestrator unavailable, cannot provision tenant %s", t.TenantID)
	}

	if err := p.orch.EnsureNamespace(ctx, t.Namespace); err != nil {
		return fmt.Errorf("ensuring namespace: %w", err)
	}

	if err := p.ensureQuota(ctx, t); err != nil {
		return fmt.Errorf("ensuring resource quota: %w", err)
	}

	if err := p.ensureLimitRange(ctx, t); err != nil {
		return fmt.Errorf("ensuring limit range: %w", err)
	}

	if err := p.ensureResultVolume(ctx, t); err != nil {
		return fmt.Errorf("ensuring result volume: %w", err)
	}

	return nil
}

func (p *Provisioner) ensureQuota(ctx context.Context, t domain.Tenant) error {
	name := t.Namespace + "-quota"
	want := map[string]string{
		"requests.cpu":    fmt.Sprintf("%d", t.MaxCPU),
		"requests.memory": fmt.Sprintf("%dGi", t.MaxMemoryGi),
		"limits.cpu":      fmt.Sprintf("%d", t.MaxCPU),
		"limits.memory":   fmt.Sprintf("%dGi", t.MaxMemoryGi),
		"pods":            fmt.Sprintf("%d", t.MaxConcurrentJobs),
	}

	existing, err := p.orch.ReadResourceQuota(ctx, t.Namespace, name)
	if err != nil && err != orchestrator.ErrNotFound {
		return err
	}
	if err == nil && quotaMatches(existing, want) {
		return nil
	}

	p.logger.Info("provisioner: writing resource quota", "namespace", t.Namespace, "name", name, "created", err == orchestrator.ErrNotFound)
	return p.orch.ApplyResourceQuota(ctx, t.Namespace, name, want)
}

func quotaMatches(existing, want map[string]string) bool {
	return existing["requests.cpu"] == want["requests.cpu"] && existing["requests.memory"] == want["requests.memory"] &&
		existing["pods"] == want["pods"]
}

func (p *Provisioner) ensureLimitRange(ctx context.Context, t domain.Tenant) error {
	name := t.Namespace + "-limits"
	maxWant := map[string]string{
		"cpu":    fmt.Sprintf("%d", t.MaxCPU),
		"memory": fmt.Sprintf("%dGi", t.MaxMemoryGi),
	}

	existingMax, err := p.orch.ReadLimitRange(ctx, t.Namespace, name)
	if err != nil && err != orchestrator.ErrNotFound {
		return err
	}
	if err == nil && existingMax["cpu"] == maxWant["cpu"] && existingMax["memory"] == maxWant["memory"] {
		return nil
	}

	defaultReq := map[string]string{"cpu": "100m", "memory": "256Mi"}
	defaultLim := map[string]string{"cpu": "1", "memory": "2Gi"}

	p.logger.Info("provisioner: writing limit range", "namespace", t.Namespace, "name", name, "created", err == orchestrator.ErrNotFound)
	return p.orch.ApplyLimitRange(ctx, t.Namespace, name, defaultReq, defaultLim, maxWant)
}

func (p *Provisioner) ensureResultVolume(ctx context.Context, t domain.Tenant) error {
	name := "results-" + t.Namespace

	storageClass, err := p.orch.DefaultStorageClass(ctx)
	if err != nil || storageClass == "" {
		storageClass = p.fallbackStorageClass
	}

	return p.orch.EnsureVolumeClaim(ctx, t.Namespace, name, p.resultStorageSizeGi, storageClass)
}
