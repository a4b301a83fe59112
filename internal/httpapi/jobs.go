package httpapi

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/sumoctl/controller/internal/apierr"
	"github.com/sumoctl/controller/internal/auth"
	"github.com/sumoctl/controller/internal/domain"
	"github.com/sumoctl/controller/internal/httpserver"
	"github.com/sumoctl/controller/internal/submission"
)

// jobResponse is the wire shape for a job, mirroring spec.md §6's contract
// of {job_id, status, submitted_at, started_at, finished_at, result_location}.
type jobResponse struct {
	JobID          string  `json:"job_id"`
	Status         string  `json:"status"`
	ScenarioID     string  `json:"scenario_id"`
	ConfigFile     string  `json:"config_file"`
	CPURequest     int     `json:"cpu_request"`
	MemoryGi       int     `json:"memory_gi"`
	SubmittedAt    string  `json:"submitted_at"`
	StartedAt      *string `json:"started_at"`
	FinishedAt     *string `json:"finished_at"`
	ResultLocation *string `json:"result_location,omitempty"`
}

const timeFmt = "2006-01-02T15:04:05Z07:00"

func toJobResponse(j domain.Job) jobResponse {
	resp := jobResponse{
		JobID:       j.JobID.String(),
		Status:      string(j.Status),
		ScenarioID:  j.ScenarioData.ScenarioID,
		ConfigFile:  j.ScenarioData.ConfigFile,
		CPURequest:  j.CPURequest,
		MemoryGi:    j.MemoryGi,
		SubmittedAt: j.SubmittedAt.Format(timeFmt),
	}
	if j.StartedAt != nil {
		s := j.StartedAt.Format(timeFmt)
		resp.StartedAt = &s
	}
	if j.FinishedAt != nil {
		f := j.FinishedAt.Format(timeFmt)
		resp.FinishedAt = &f
	}
	resp.ResultLocation = j.ResultLocation
	return resp
}

// handleSubmitJob parses a multipart submission (scenario id + integer
// resource requests + a ZIP payload) and dispatches to the submission
// pipeline.
func (a *API) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	t := auth.FromContext(r.Context())

	maxBytes := int64(a.cfg.MaxFileSizeMB)*1024*1024 + (1 << 20) // payload + multipart overhead margin
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, string(apierr.KindInvalidInput), "invalid multipart request: "+err.Error())
		return
	}

	scenarioID := r.FormValue("scenario_id")
	if scenarioID == "" || len(scenarioID) > 100 {
		httpserver.RespondAPIErr(w, apierr.New(apierr.KindInvalidInput, "scenario_id must be 1-100 characters"))
		return
	}

	cpuRequest, err := strconv.Atoi(r.FormValue("cpu_request"))
	if err != nil {
		httpserver.RespondAPIErr(w, apierr.New(apierr.KindInvalidInput, "cpu_request must be an integer"))
		return
	}
	memoryGi, err := strconv.Atoi(r.FormValue("memory_gi"))
	if err != nil {
		httpserver.RespondAPIErr(w, apierr.New(apierr.KindInvalidInput, "memory_gi must be an integer"))
		return
	}

	file, _, err := r.FormFile("sumo_files")
	if err != nil {
		httpserver.RespondAPIErr(w, apierr.New(apierr.KindInvalidInput, "sumo_files file part is required"))
		return
	}
	defer file.Close()

	payload, err := io.ReadAll(file)
	if err != nil {
		httpserver.RespondAPIErr(w, apierr.Wrap(apierr.KindInvalidInput, err, "reading upload failed"))
		return
	}

	result, err := a.pipeline.Submit(r.Context(), submission.Request{
		Tenant:     *t,
		ScenarioID: scenarioID,
		CPURequest: cpuRequest,
		MemoryGi:   memoryGi,
		Payload:    payload,
	})
	if err != nil {
		httpserver.RespondAPIErr(w, err)
		return
	}

	httpserver.Respond(w, http.StatusAccepted, map[string]any{
		"job_id":      result.JobID.String(),
		"status":      string(result.Status),
		"config_file": result.ConfigFile,
	})
}

func parseJobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondAPIErr(w, apierr.New(apierr.KindInvalidInput, "invalid job id"))
		return uuid.UUID{}, false
	}
	return id, true
}

func (a *API) handleGetJob(w http.ResponseWriter, r *http.Request) {
	t := auth.FromContext(r.Context())
	jobID, ok := parseJobID(w, r)
	if !ok {
		return
	}

	j, err := a.jobs.JobByID(r.Context(), jobID, t.TenantID)
	if err != nil {
		httpserver.RespondAPIErr(w, err)
		return
	}

	httpserver.Respond(w, http.StatusOK, toJobResponse(j))
}

// handleGetJobLogs returns a one-shot tailed snapshot of the job's pod log
// (not a stream), grounded in jobs.py's get_job_logs.
func (a *API) handleGetJobLogs(w http.ResponseWriter, r *http.Request) {
	t := auth.FromContext(r.Context())
	jobID, ok := parseJobID(w, r)
	if !ok {
		return
	}

	j, err := a.jobs.JobByID(r.Context(), jobID, t.TenantID)
	if err != nil {
		httpserver.RespondAPIErr(w, err)
		return
	}

	if !a.orch.Available() {
		httpserver.Respond(w, http.StatusOK, map[string]string{"job_id": j.JobID.String(), "logs": "orchestrator not available"})
		return
	}

	pods, err := a.orch.ListPodsByLabel(r.Context(), j.Namespace, fmt.Sprintf("job-name=%s", j.WorkloadName))
	if err != nil || len(pods) == 0 {
		httpserver.Respond(w, http.StatusOK, map[string]string{"job_id": j.JobID.String(), "logs": "no pod found yet"})
		return
	}

	logs, err := a.orch.ReadPodLog(r.Context(), j.Namespace, pods[0].Name, 500)
	if err != nil {
		httpserver.Respond(w, http.StatusOK, map[string]string{"job_id": j.JobID.String(), "error": err.Error(), "logs": ""})
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]string{"job_id": j.JobID.String(), "pod_name": pods[0].Name, "logs": logs})
}

// handleStreamJobLogs opens the SSE log relay for the job's workload.
func (a *API) handleStreamJobLogs(w http.ResponseWriter, r *http.Request) {
	t := auth.FromContext(r.Context())
	jobID, ok := parseJobID(w, r)
	if !ok {
		return
	}

	j, err := a.jobs.JobByID(r.Context(), jobID, t.TenantID)
	if err != nil {
		httpserver.RespondAPIErr(w, err)
		return
	}

	a.relay.Stream(r.Context(), w, j.Namespace, fmt.Sprintf("job-name=%s", j.WorkloadName))
}

// handleGetJobResults returns the terminal result location/files stub.
func (a *API) handleGetJobResults(w http.ResponseWriter, r *http.Request) {
	t := auth.FromContext(r.Context())
	jobID, ok := parseJobID(w, r)
	if !ok {
		return
	}

	j, err := a.jobs.JobByID(r.Context(), jobID, t.TenantID)
	if err != nil {
		httpserver.RespondAPIErr(w, err)
		return
	}

	if !j.Status.Terminal() {
		httpserver.RespondAPIErr(w, apierr.Newf(apierr.KindInvalidInput, "job %s has not finished (status %s)", j.JobID, j.Status))
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"job_id":          j.JobID.String(),
		"status":          string(j.Status),
		"result_location": j.ResultLocation,
		"result_files":    j.ResultFiles,
	})
}
