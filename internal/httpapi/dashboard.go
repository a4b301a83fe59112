package httpapi

import (
	"net/http"

	"github.com/sumoctl/controller/internal/apierr"
	"github.com/sumoctl/controller/internal/auth"
	"github.com/sumoctl/controller/internal/httpserver"
)

const (
	dashboardRecentLimit = 20
	adminRecentLimit     = 100
)

// handleDashboard returns the authenticated tenant's own recent jobs and
// active-job count, the per-tenant view spec.md §6 calls out separately
// from the admin surfaces below.
func (a *API) handleDashboard(w http.ResponseWriter, r *http.Request) {
	t := auth.FromContext(r.Context())

	active, err := a.jobs.CountActiveJobs(r.Context(), t.TenantID)
	if err != nil {
		httpserver.RespondAPIErr(w, apierr.Wrap(apierr.KindInternal, err, "counting active jobs failed"))
		return
	}

	recent, err := a.jobs.RecentJobsByTenant(r.Context(), t.TenantID, dashboardRecentLimit)
	if err != nil {
		httpserver.RespondAPIErr(w, apierr.Wrap(apierr.KindInternal, err, "listing recent jobs failed"))
		return
	}

	jobs := make([]jobResponse, 0, len(recent))
	for _, j := range recent {
		jobs = append(jobs, toJobResponse(j))
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"tenant_id":        t.TenantID,
		"active_jobs":      active,
		"max_concurrent":   t.MaxConcurrentJobs,
		"recent_jobs":      jobs,
	})
}

// nodeSummary is the wire shape for one node in the admin cluster view.
type nodeSummary struct {
	Name        string `json:"name"`
	Hostname    string `json:"hostname"`
	PodsRunning int    `json:"pods_running"`
	Conditions  []string `json:"conditions"`
}

// handleAdminCluster summarises node capacity and cluster-wide job counts.
// spec.md leaves authorization for this surface out of scope (no separate
// admin role exists); it is reachable by any authenticated tenant, matching
// the undifferentiated auth model the distilled spec and auth.py both use.
func (a *API) handleAdminCluster(w http.ResponseWriter, r *http.Request) {
	if !a.orch.Available() {
		httpserver.RespondAPIErr(w, apierr.New(apierr.KindOrchestratorUnavailable, "orchestrator unavailable"))
		return
	}

	nodes, err := a.orch.ListNodes(r.Context())
	if err != nil {
		httpserver.RespondAPIErr(w, apierr.Wrap(apierr.KindInternal, err, "listing nodes failed"))
		return
	}

	total, active, succeeded, err := a.orch.ClusterJobCounts(r.Context())
	if err != nil {
		httpserver.RespondAPIErr(w, apierr.Wrap(apierr.KindInternal, err, "counting cluster jobs failed"))
		return
	}

	out := make([]nodeSummary, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, nodeSummary{Name: n.Name, Hostname: n.Hostname, PodsRunning: n.PodsRunning, Conditions: n.Conditions})
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"nodes":           out,
		"jobs_total":      total,
		"jobs_active":     active,
		"jobs_succeeded":  succeeded,
	})
}

// handleAdminJobs lists the most recent jobs across every tenant.
func (a *API) handleAdminJobs(w http.ResponseWriter, r *http.Request) {
	recent, err := a.jobs.RecentJobs(r.Context(), adminRecentLimit)
	if err != nil {
		httpserver.RespondAPIErr(w, apierr.Wrap(apierr.KindInternal, err, "listing jobs failed"))
		return
	}

	out := make([]map[string]any, 0, len(recent))
	for _, j := range recent {
		resp := toJobResponse(j)
		out = append(out, map[string]any{
			"tenant_id":       j.TenantID,
			"job_id":          resp.JobID,
			"status":          resp.Status,
			"submitted_at":    resp.SubmittedAt,
			"started_at":      resp.StartedAt,
			"finished_at":     resp.FinishedAt,
			"result_location": resp.ResultLocation,
		})
	}

	httpserver.Respond(w, http.StatusOK, out)
}

// handleAdminActivity merges the tenant roster with recent job activity for
// a single at-a-glance operator view.
func (a *API) handleAdminActivity(w http.ResponseWriter, r *http.Request) {
	tenants, err := a.tenants.ListTenants(r.Context())
	if err != nil {
		httpserver.RespondAPIErr(w, apierr.Wrap(apierr.KindInternal, err, "listing tenants failed"))
		return
	}

	recent, err := a.jobs.RecentJobs(r.Context(), adminRecentLimit)
	if err != nil {
		httpserver.RespondAPIErr(w, apierr.Wrap(apierr.KindInternal, err, "listing jobs failed"))
		return
	}

	jobs := make([]jobResponse, 0, len(recent))
	for _, j := range recent {
		jobs = append(jobs, toJobResponse(j))
	}

	tenantOut := make([]tenantResponse, 0, len(tenants))
	for _, t := range tenants {
		tenantOut = append(tenantOut, toTenantResponse(t, false))
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"tenants":     tenantOut,
		"recent_jobs": jobs,
	})
}
