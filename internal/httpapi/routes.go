// Package httpapi wires the thin, contract-only HTTP surface from spec.md
// §6 onto the controller plane's internal packages. It is a thin adapter:
// all business logic lives in submission, tenant, reconciler, and
// storageplanner; handlers here only decode, dispatch, and encode.
package httpapi

import (
	"context"
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/sumoctl/controller/internal/config"
	"github.com/sumoctl/controller/internal/domain"
	"github.com/sumoctl/controller/internal/logrelay"
	"github.com/sumoctl/controller/internal/orchestrator"
	"github.com/sumoctl/controller/internal/submission"
	"github.com/sumoctl/controller/internal/tenant"
)

// TenantStore is the subset of internal/store.Store the tenant/auth
// handlers need.
type TenantStore interface {
	CreateTenant(ctx context.Context, t domain.Tenant) (domain.Tenant, error)
	TenantByID(ctx context.Context, tenantID string) (domain.Tenant, error)
	ListTenants(ctx context.Context) ([]domain.Tenant, error)
	RegenerateAPIKey(ctx context.Context, tenantID, newKey string) (domain.Tenant, error)
	UpdateTenantLimits(ctx context.Context, tenantID string, maxCPU, maxMemoryGi, maxConcurrentJobs *int) (domain.Tenant, error)
}

// JobReadStore is the subset of internal/store.Store the job-read handlers
// need.
type JobReadStore interface {
	JobByID(ctx context.Context, jobID uuid.UUID, tenantID string) (domain.Job, error)
	CountActiveJobs(ctx context.Context, tenantID string) (int, error)
	RecentJobsByTenant(ctx context.Context, tenantID string, limit int) ([]domain.Job, error)
	RecentJobs(ctx context.Context, limit int) ([]domain.Job, error)
}

// API holds every dependency the handlers dispatch to.
type API struct {
	tenants    TenantStore
	jobs       JobReadStore
	isolator   *tenant.Provisioner
	pipeline   *submission.Pipeline
	orch       orchestrator.Port
	relay      *logrelay.Relay
	cfg        *config.Config
	logger     *slog.Logger
}

// New builds an API.
func New(tenants TenantStore, jobs JobReadStore, isolator *tenant.Provisioner, pipeline *submission.Pipeline, orch orchestrator.Port, relay *logrelay.Relay, cfg *config.Config, logger *slog.Logger) *API {
	return &API{
		tenants:  tenants,
		jobs:     jobs,
		isolator: isolator,
		pipeline: pipeline,
		orch:     orch,
		relay:    relay,
		cfg:      cfg,
		logger:   logger,
	}
}

// MountPublic registers the unauthenticated routes (tenant registration is
// an admin/bootstrap operation carried over the same unauthenticated
// surface as the original; spec.md leaves its own authentication out of
// scope).
func (a *API) MountPublic(r chi.Router) {
	r.Post("/auth/register", a.handleRegister)
}

// MountAuthenticated registers every route that requires a resolved tenant
// in request context.
func (a *API) MountAuthenticated(r chi.Router) {
	r.Post("/auth/regenerate-key", a.handleRegenerateKey)
	r.Get("/auth/tenants", a.handleListTenants)
	r.Get("/auth/tenants/{id}", a.handleGetTenant)
	r.Patch("/auth/tenants/{id}", a.handlePatchTenant)

	r.Post("/jobs", a.handleSubmitJob)
	r.Get("/jobs/{id}", a.handleGetJob)
	r.Get("/jobs/{id}/logs", a.handleGetJobLogs)
	r.Get("/jobs/{id}/logs/stream", a.handleStreamJobLogs)
	r.Get("/jobs/{id}/results", a.handleGetJobResults)

	r.Get("/tenants/me/dashboard", a.handleDashboard)

	r.Get("/admin/cluster", a.handleAdminCluster)
	r.Get("/admin/jobs", a.handleAdminJobs)
	r.Get("/admin/activity", a.handleAdminActivity)
}
