package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sumoctl/controller/internal/apierr"
	"github.com/sumoctl/controller/internal/auth"
	"github.com/sumoctl/controller/internal/domain"
	"github.com/sumoctl/controller/internal/httpserver"
)

// registerRequest is the wire shape for POST /auth/register.
type registerRequest struct {
	TenantID          string `json:"tenant_id" validate:"required,max=100"`
	MaxCPU            *int   `json:"max_cpu" validate:"omitempty,min=1"`
	MaxMemoryGi       *int   `json:"max_memory_gi" validate:"omitempty,min=1"`
	MaxConcurrentJobs *int   `json:"max_concurrent_jobs" validate:"omitempty,min=1"`
}

type tenantResponse struct {
	TenantID          string `json:"tenant_id"`
	Namespace         string `json:"namespace"`
	APIKey            string `json:"api_key,omitempty"`
	MaxCPU            int    `json:"max_cpu"`
	MaxMemoryGi       int    `json:"max_memory_gi"`
	MaxConcurrentJobs int    `json:"max_concurrent_jobs"`
	CreatedAt         string `json:"created_at"`
}

func toTenantResponse(t domain.Tenant, includeKey bool) tenantResponse {
	resp := tenantResponse{
		TenantID:          t.TenantID,
		Namespace:         t.Namespace,
		MaxCPU:            t.MaxCPU,
		MaxMemoryGi:       t.MaxMemoryGi,
		MaxConcurrentJobs: t.MaxConcurrentJobs,
		CreatedAt:         t.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if includeKey {
		resp.APIKey = t.APIKey
	}
	return resp
}

// handleRegister creates a tenant with generated namespace and API key,
// provisions its orchestrator isolation, and returns the key once (callers
// must store it — it is never returned again).
func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	apiKey, err := auth.GenerateAPIKey(a.cfg.APIKeyPrefix, a.cfg.APIKeyLength)
	if err != nil {
		httpserver.RespondAPIErr(w, apierr.Wrap(apierr.KindInternal, err, "generating API key failed"))
		return
	}

	t := domain.Tenant{
		TenantID:          req.TenantID,
		Namespace:         domain.DeriveNamespace(req.TenantID),
		APIKey:            apiKey,
		MaxCPU:            intOr(req.MaxCPU, a.cfg.DefaultMaxCPU),
		MaxMemoryGi:       intOr(req.MaxMemoryGi, a.cfg.DefaultMaxMemoryGi),
		MaxConcurrentJobs: intOr(req.MaxConcurrentJobs, a.cfg.DefaultMaxConcurrentJobs),
	}

	t, err = a.tenants.CreateTenant(r.Context(), t)
	if err != nil {
		httpserver.RespondAPIErr(w, err)
		return
	}

	if err := a.isolator.EnsureIsolation(r.Context(), t); err != nil {
		a.logger.Error("register: provisioning tenant isolation failed", "tenant_id", t.TenantID, "error", err)
	}

	httpserver.Respond(w, http.StatusCreated, toTenantResponse(t, true))
}

func intOr(v *int, fallback int) int {
	if v == nil {
		return fallback
	}
	return *v
}

// handleRegenerateKey issues a new API key for the authenticated tenant.
func (a *API) handleRegenerateKey(w http.ResponseWriter, r *http.Request) {
	t := auth.FromContext(r.Context())

	newKey, err := auth.GenerateAPIKey(a.cfg.APIKeyPrefix, a.cfg.APIKeyLength)
	if err != nil {
		httpserver.RespondAPIErr(w, apierr.Wrap(apierr.KindInternal, err, "generating API key failed"))
		return
	}

	updated, err := a.tenants.RegenerateAPIKey(r.Context(), t.TenantID, newKey)
	if err != nil {
		httpserver.RespondAPIErr(w, err)
		return
	}

	httpserver.Respond(w, http.StatusOK, toTenantResponse(updated, true))
}

// handleListTenants is an admin surface: lists every tenant (without keys).
func (a *API) handleListTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := a.tenants.ListTenants(r.Context())
	if err != nil {
		httpserver.RespondAPIErr(w, apierr.Wrap(apierr.KindInternal, err, "listing tenants failed"))
		return
	}

	out := make([]tenantResponse, 0, len(tenants))
	for _, t := range tenants {
		out = append(out, toTenantResponse(t, false))
	}
	httpserver.Respond(w, http.StatusOK, out)
}

func (a *API) handleGetTenant(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t, err := a.tenants.TenantByID(r.Context(), id)
	if err != nil {
		httpserver.RespondAPIErr(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, toTenantResponse(t, false))
}

// patchTenantRequest is the wire shape for PATCH /auth/tenants/{id}: any
// subset of the three quota fields.
type patchTenantRequest struct {
	MaxCPU            *int `json:"max_cpu" validate:"omitempty,min=1"`
	MaxMemoryGi       *int `json:"max_memory_gi" validate:"omitempty,min=1"`
	MaxConcurrentJobs *int `json:"max_concurrent_jobs" validate:"omitempty,min=1"`
}

// handlePatchTenant updates whichever quota fields are present, then
// re-provisions isolation so the orchestrator-side quota/limit range
// reflect the change (§4.3: ensureTenantIsolation is called from every
// limit update).
func (a *API) handlePatchTenant(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req patchTenantRequest
	if err := httpserver.Decode(r, &req); err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if errs := httpserver.Validate(&req); len(errs) > 0 {
		httpserver.RespondValidationError(w, errs)
		return
	}

	t, err := a.tenants.UpdateTenantLimits(r.Context(), id, req.MaxCPU, req.MaxMemoryGi, req.MaxConcurrentJobs)
	if err != nil {
		httpserver.RespondAPIErr(w, err)
		return
	}

	if err := a.isolator.EnsureIsolation(r.Context(), t); err != nil {
		a.logger.Error("patch tenant: re-provisioning isolation failed", "tenant_id", t.TenantID, "error", err)
	}

	httpserver.Respond(w, http.StatusOK, toTenantResponse(t, false))
}
