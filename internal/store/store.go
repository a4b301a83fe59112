// Package store is the durable relational home for tenants and jobs: a
// bounded connection pool with acquire-use-release discipline and
// transactional read/modify/write for every mutation.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sumoctl/controller/internal/apierr"
	"github.com/sumoctl/controller/internal/domain"
)

// Store wraps a pgx connection pool with the tenant/job schema operations.
type Store struct {
	pool *pgxpool.Pool
}

// New builds a Store over an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const uniqueViolation = "23505"

// CreateTenant inserts a new tenant row. Returns apierr.KindConflict if
// tenant_id or namespace already exist.
func (s *Store) CreateTenant(ctx context.Context, t domain.Tenant) (domain.Tenant, error) {
	const q = `
		INSERT INTO tenants (tenant_id, namespace, api_key, max_cpu, max_memory_gi, max_concurrent_jobs)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`

	err := s.pool.QueryRow(ctx, q, t.TenantID, t.Namespace, t.APIKey, t.MaxCPU, t.MaxMemoryGi, t.MaxConcurrentJobs).
		Scan(&t.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.Tenant{}, apierr.Newf(apierr.KindConflict, "tenant %s or its namespace already exists", t.TenantID)
		}
		return domain.Tenant{}, fmt.Errorf("inserting tenant: %w", err)
	}
	return t, nil
}

// TenantByID looks up a tenant by its opaque ID.
func (s *Store) TenantByID(ctx context.Context, tenantID string) (domain.Tenant, error) {
	const q = `SELECT tenant_id, namespace, api_key, max_cpu, max_memory_gi, max_concurrent_jobs, created_at
		FROM tenants WHERE tenant_id = $1`
	return s.scanTenant(s.pool.QueryRow(ctx, q, tenantID))
}

// TenantByAPIKey looks up a tenant by its current API key.
func (s *Store) TenantByAPIKey(ctx context.Context, apiKey string) (domain.Tenant, error) {
	const q = `SELECT tenant_id, namespace, api_key, max_cpu, max_memory_gi, max_concurrent_jobs, created_at
		FROM tenants WHERE api_key = $1`
	return s.scanTenant(s.pool.QueryRow(ctx, q, apiKey))
}

// ListTenants returns all tenants ordered by creation time, newest first.
func (s *Store) ListTenants(ctx context.Context) ([]domain.Tenant, error) {
	const q = `SELECT tenant_id, namespace, api_key, max_cpu, max_memory_gi, max_concurrent_jobs, created_at
		FROM tenants ORDER BY created_at DESC`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("listing tenants: %w", err)
	}
	defer rows.Close()

	var out []domain.Tenant
	for rows.Next() {
		var t domain.Tenant
		if err := rows.Scan(&t.TenantID, &t.Namespace, &t.APIKey, &t.MaxCPU, &t.MaxMemoryGi, &t.MaxConcurrentJobs, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning tenant: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// RegenerateAPIKey overwrites a tenant's API key and returns the updated row.
func (s *Store) RegenerateAPIKey(ctx context.Context, tenantID, newKey string) (domain.Tenant, error) {
	const q = `UPDATE tenants SET api_key = $1 WHERE tenant_id = $2
		RETURNING tenant_id, namespace, api_key, max_cpu, max_memory_gi, max_concurrent_jobs, created_at`
	t, err := s.scanTenant(s.pool.QueryRow(ctx, q, newKey, tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Tenant{}, apierr.Newf(apierr.KindNotFound, "tenant %s not found", tenantID)
	}
	return t, err
}

// UpdateTenantLimits patches whichever of max_cpu/max_memory_gi/max_concurrent_jobs
// are non-nil. Returns apierr.KindInvalidInput if none are set.
func (s *Store) UpdateTenantLimits(ctx context.Context, tenantID string, maxCPU, maxMemoryGi, maxConcurrentJobs *int) (domain.Tenant, error) {
	if maxCPU == nil && maxMemoryGi == nil && maxConcurrentJobs == nil {
		return domain.Tenant{}, apierr.New(apierr.KindInvalidInput, "no updates provided")
	}

	const q = `
		UPDATE tenants SET
			max_cpu = COALESCE($1, max_cpu),
			max_memory_gi = COALESCE($2, max_memory_gi),
			max_concurrent_jobs = COALESCE($3, max_concurrent_jobs)
		WHERE tenant_id = $4
		RETURNING tenant_id, namespace, api_key, max_cpu, max_memory_gi, max_concurrent_jobs, created_at`

	t, err := s.scanTenant(s.pool.QueryRow(ctx, q, maxCPU, maxMemoryGi, maxConcurrentJobs, tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Tenant{}, apierr.Newf(apierr.KindNotFound, "tenant %s not found", tenantID)
	}
	return t, err
}

func (s *Store) scanTenant(row pgx.Row) (domain.Tenant, error) {
	var t domain.Tenant
	err := row.Scan(&t.TenantID, &t.Namespace, &t.APIKey, &t.MaxCPU, &t.MaxMemoryGi, &t.MaxConcurrentJobs, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Tenant{}, apierr.New(apierr.KindNotFound, "tenant not found")
	}
	if err != nil {
		return domain.Tenant{}, fmt.Errorf("scanning tenant: %w", err)
	}
	return t, nil
}

// InsertJob creates a PENDING job row inside its own short transaction.
// Called before workload emission, per the submission pipeline's ordering
// rule: a workload-emission failure must leave a recoverable row.
func (s *Store) InsertJob(ctx context.Context, j domain.Job) (domain.Job, error) {
	scenario, err := json.Marshal(j.ScenarioData)
	if err != nil {
		return domain.Job{}, fmt.Errorf("marshalling scenario data: %w", err)
	}

	const q = `
		INSERT INTO jobs (job_id, tenant_id, workload_name, namespace, status, scenario_data, cpu_request, memory_gi)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING submitted_at`

	err = s.pool.QueryRow(ctx, q, j.JobID, j.TenantID, j.WorkloadName, j.Namespace, j.Status, scenario, j.CPURequest, j.MemoryGi).
		Scan(&j.SubmittedAt)
	if err != nil {
		return domain.Job{}, fmt.Errorf("inserting job: %w", err)
	}
	return j, nil
}

// JobByID fetches a job scoped to a tenant (cross-tenant access returns
// not-found rather than leaking existence).
func (s *Store) JobByID(ctx context.Context, jobID uuid.UUID, tenantID string) (domain.Job, error) {
	const q = `SELECT job_id, tenant_id, workload_name, namespace, status, scenario_data, cpu_request, memory_gi,
			submitted_at, started_at, finished_at, result_location, result_files
		FROM jobs WHERE job_id = $1 AND tenant_id = $2`
	j, err := s.scanJob(s.pool.QueryRow(ctx, q, jobID, tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Job{}, apierr.New(apierr.KindNotFound, "job not found")
	}
	return j, err
}

// CountActiveJobs returns the number of PENDING/RUNNING rows for a tenant,
// used to enforce the advisory concurrent-job cap at admission.
func (s *Store) CountActiveJobs(ctx context.Context, tenantID string) (int, error) {
	const q = `SELECT COUNT(*) FROM jobs WHERE tenant_id = $1 AND status IN ('PENDING', 'RUNNING')`
	var n int
	if err := s.pool.QueryRow(ctx, q, tenantID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting active jobs: %w", err)
	}
	return n, nil
}

// JobsNeedingTimestampBackfill returns terminal rows with a null started_at
// or finished_at (reconciler pass 1).
func (s *Store) JobsNeedingTimestampBackfill(ctx context.Context) ([]domain.Job, error) {
	const q = `SELECT job_id, tenant_id, workload_name, namespace, status, scenario_data, cpu_request, memory_gi,
			submitted_at, started_at, finished_at, result_location, result_files
		FROM jobs
		WHERE status IN ('SUCCEEDED', 'FAILED') AND (started_at IS NULL OR finished_at IS NULL)`
	return s.queryJobs(ctx, q)
}

// JobsNeedingResultLocation returns terminal rows with a null
// result_location (reconciler pass 2).
func (s *Store) JobsNeedingResultLocation(ctx context.Context) ([]domain.Job, error) {
	const q = `SELECT job_id, tenant_id, workload_name, namespace, status, scenario_data, cpu_request, memory_gi,
			submitted_at, started_at, finished_at, result_location, result_files
		FROM jobs
		WHERE status IN ('SUCCEEDED', 'FAILED') AND result_location IS NULL`
	return s.queryJobs(ctx, q)
}

// JobsWithPendingUpload returns SUCCEEDED rows whose result_location contains
// "results/" and whose result_files is still null (reconciler pass 3). The
// substring match also selects volume paths ("/results/<job_id>"), and does
// not select an object-store prefix configured without "results/" in it.
func (s *Store) JobsWithPendingUpload(ctx context.Context) ([]domain.Job, error) {
	const q = `SELECT job_id, tenant_id, workload_name, namespace, status, scenario_data, cpu_request, memory_gi,
			submitted_at, started_at, finished_at, result_location, result_files
		FROM jobs
		WHERE status = 'SUCCEEDED' AND result_files IS NULL
		  AND result_location IS NOT NULL AND result_location LIKE '%results/%'`
	return s.queryJobs(ctx, q)
}

// ActiveJobs returns all PENDING/RUNNING rows (reconciler pass 4).
func (s *Store) ActiveJobs(ctx context.Context) ([]domain.Job, error) {
	const q = `SELECT job_id, tenant_id, workload_name, namespace, status, scenario_data, cpu_request, memory_gi,
			submitted_at, started_at, finished_at, result_location, result_files
		FROM jobs WHERE status IN ('PENDING', 'RUNNING')`
	return s.queryJobs(ctx, q)
}

// ApplyUpdate writes a planned JobUpdate inside its own transaction,
// re-reading nothing — the caller is expected to have just read the row in
// the same pass.
func (s *Store) ApplyUpdate(ctx context.Context, u domain.JobUpdate) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var resultFiles []byte
	if u.ResultFiles != nil {
		resultFiles, err = json.Marshal(u.ResultFiles)
		if err != nil {
			return fmt.Errorf("marshalling result files: %w", err)
		}
	}

	const q = `
		UPDATE jobs SET
			status = COALESCE($1, status),
			started_at = COALESCE($2, started_at),
			finished_at = COALESCE($3, finished_at),
			result_location = COALESCE($4, result_location),
			result_files = COALESCE($5, result_files)
		WHERE job_id = $6`

	if _, err := tx.Exec(ctx, q, u.Status, u.StartedAt, u.FinishedAt, u.ResultLocation, resultFiles, u.JobID); err != nil {
		return fmt.Errorf("applying job update: %w", err)
	}
	return tx.Commit(ctx)
}

// JobExists reports whether a row with this ID exists at all, used by the
// orphan sweep to decide whether a labelled config blob is abandoned.
func (s *Store) JobExists(ctx context.Context, jobID uuid.UUID) (bool, error) {
	const q = `SELECT EXISTS(SELECT 1 FROM jobs WHERE job_id = $1)`
	var exists bool
	if err := s.pool.QueryRow(ctx, q, jobID).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking job existence: %w", err)
	}
	return exists, nil
}

// RecentJobsByTenant returns a tenant's most recent jobs, newest first, for
// the per-tenant dashboard.
func (s *Store) RecentJobsByTenant(ctx context.Context, tenantID string, limit int) ([]domain.Job, error) {
	const q = `SELECT job_id, tenant_id, workload_name, namespace, status, scenario_data, cpu_request, memory_gi,
			submitted_at, started_at, finished_at, result_location, result_files
		FROM jobs WHERE tenant_id = $1 ORDER BY submitted_at DESC LIMIT $2`
	return s.queryJobs(ctx, q, tenantID, limit)
}

// RecentJobs returns the most recent jobs across all tenants, newest first,
// for the admin activity/jobs surfaces.
func (s *Store) RecentJobs(ctx context.Context, limit int) ([]domain.Job, error) {
	const q = `SELECT job_id, tenant_id, workload_name, namespace, status, scenario_data, cpu_request, memory_gi,
			submitted_at, started_at, finished_at, result_location, result_files
		FROM jobs ORDER BY submitted_at DESC LIMIT $1`
	return s.queryJobs(ctx, q, limit)
}

func (s *Store) queryJobs(ctx context.Context, q string, args ...any) ([]domain.Job, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying jobs: %w", err)
	}
	defer rows.Close()

	var out []domain.Job
	for rows.Next() {
		j, err := s.scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// rowScanner covers both pgx.Row (QueryRow) and pgx.Rows (Query).
type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanJob(row rowScanner) (domain.Job, error) {
	var (
		j            domain.Job
		scenario     []byte
		resultFiles  []byte
	)
	err := row.Scan(&j.JobID, &j.TenantID, &j.WorkloadName, &j.Namespace, &j.Status, &scenario,
		&j.CPURequest, &j.MemoryGi, &j.SubmittedAt, &j.StartedAt, &j.FinishedAt, &j.ResultLocation, &resultFiles)
	if err != nil {
		return domain.Job{}, err
	}
	if len(scenario) > 0 {
		if err := json.Unmarshal(scenario, &j.ScenarioData); err != nil {
			return domain.Job{}, fmt.Errorf("unmarshalling scenario data: %w", err)
		}
	}
	if len(resultFiles) > 0 {
		var rf domain.ResultFiles
		if err := json.Unmarshal(resultFiles, &rf); err != nil {
			return domain.Job{}, fmt.Errorf("unmarshalling result files: %w", err)
		}
		j.ResultFiles = &rf
	}
	return j, nil
}

// Now returns the current time in UTC. Nothing in the module calls it: the
// reconciler stamps timestamps with its own time.Now().UTC() calls, and the
// orphan sweep's age check uses the age reported by the orchestrator.
func Now() time.Time { return time.Now().UTC() }
