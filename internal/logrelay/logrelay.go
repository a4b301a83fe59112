// Package logrelay streams a job's pod logs to an HTTP client as
// Server-Sent Events: find the pod, wait for it if not yet scheduled, tail
// new lines as they arrive, and emit a final status event once the pod
// reaches a terminal phase.
package logrelay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sumoctl/controller/internal/orchestrator"
)

const (
	maxConsecutiveErrors = 10
	podWaitDelay         = 2 * time.Second
	pollInterval         = 1 * time.Second
	tailLines            = 1000
)

// event is one SSE payload. Only the fields relevant to a given event are
// set; json omits the rest.
type event struct {
	Pod     string `json:"pod,omitempty"`
	Phase   string `json:"phase,omitempty"`
	Message string `json:"message,omitempty"`
	Status  string `json:"status,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Relay streams logs for workloads via an orchestrator.Port.
type Relay struct {
	orch   orchestrator.Port
	logger *slog.Logger
}

// New builds a Relay.
func New(orch orchestrator.Port, logger *slog.Logger) *Relay {
	return &Relay{orch: orch, logger: logger}
}

// Stream writes an SSE stream to w for the pod backing labelSelector in
// namespace, until the pod reaches a terminal phase, disappears, the
// request context is cancelled, or too many consecutive read errors occur.
// Stream never returns an error to the caller; failures are reported as SSE
// error events, matching the one-way nature of the transport.
func (r *Relay) Stream(ctx context.Context, w http.ResponseWriter, namespace, labelSelector string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	emit := func(e event) {
		b, _ := json.Marshal(e)
		fmt.Fprintf(w, "data: %s\n\n", b)
		flusher.Flush()
	}

	if !r.orch.Available() {
		emit(event{Error: "orchestrator not available"})
		return
	}

	pods, err := r.orch.ListPodsByLabel(ctx, namespace, labelSelector)
	if err != nil {
		emit(event{Error: err.Error()})
		return
	}
	if len(pods) == 0 {
		emit(event{Message: "no pod found yet, waiting"})
		select {
		case <-ctx.Done():
			return
		case <-time.After(podWaitDelay):
		}
		pods, err = r.orch.ListPodsByLabel(ctx, namespace, labelSelector)
		if err != nil || len(pods) == 0 {
			emit(event{Error: "pod not found"})
			return
		}
	}

	pod := pods[0]
	emit(event{Pod: pod.Name, Phase: pod.Phase, Message: "starting log stream"})

	var lastLineCount int
	var consecutiveErrors int

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		logs, err := r.orch.ReadPodLog(ctx, namespace, pod.Name, tailLines)
		if err != nil {
			if errors.Is(err, orchestrator.ErrNotFound) {
				emit(event{Message: "pod has terminated"})
				return
			}
			consecutiveErrors++
			if consecutiveErrors >= maxConsecutiveErrors {
				emit(event{Error: fmt.Sprintf("too many errors: %v", err)})
				return
			}
			continue
		}
		consecutiveErrors = 0

		lines := strings.Split(strings.TrimSuffix(logs, "\n"), "\n")
		if logs == "" {
			lines = nil
		}
		for _, line := range lines[min(lastLineCount, len(lines)):] {
			if strings.TrimSpace(line) != "" {
				emit(event{Message: line})
			}
		}
		lastLineCount = len(lines)

		pods, err = r.orch.ListPodsByLabel(ctx, namespace, labelSelector)
		if err != nil {
			consecutiveErrors++
			if consecutiveErrors >= maxConsecutiveErrors {
				emit(event{Error: fmt.Sprintf("too many errors: %v", err)})
				return
			}
			continue
		}
		if len(pods) == 0 {
			emit(event{Message: "pod has terminated"})
			return
		}

		phase := pods[0].Phase
		if phase == "Succeeded" || phase == "Failed" {
			finalLogs, err := r.orch.ReadPodLog(ctx, namespace, pod.Name, 0)
			if err == nil {
				finalLines := strings.Split(strings.TrimSuffix(finalLogs, "\n"), "\n")
				for _, line := range finalLines[min(lastLineCount, len(finalLines)):] {
					if strings.TrimSpace(line) != "" {
						emit(event{Message: line})
					}
				}
			}
			emit(event{Status: phase, Message: fmt.Sprintf("job %s", strings.ToLower(phase))})
			return
		}
	}
}

