// Package health evaluates liveness and readiness for the serve command.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Mode indicates high-level health mode.
type Mode string

const (
	// ModeHealthy indicates all dependencies are healthy and the last cycle succeeded.
	ModeHealthy Mode = "healthy"
	// ModeDegraded indicates the app is ready but the checkpoint backend or the last cycle is not clean.
	ModeDegraded Mode = "degraded"
	// ModeUnhealthy indicates a required dependency is unhealthy.
	ModeUnhealthy Mode = "unhealthy"
)

// Input represents dependency states used for health evaluation.
type Input struct {
	DatabaseHealthy   bool
	SchedulerRunning  bool
	CheckpointHealthy bool
	LastCycle         CycleSummary
}

// CycleSummary describes the last completed ingestion cycle.
type CycleSummary struct {
	FinishedAt time.Time `json:"finished_at,omitzero"`
	FailedOrgs int       `json:"failed_orgs"`
	Error      string    `json:"error,omitempty"`
}

// Status represents evaluated application health.
type Status struct {
	Mode       Mode            `json:"mode"`
	Ready      bool            `json:"ready"`
	Components map[string]bool `json:"components"`
	LastCycle  CycleSummary    `json:"last_cycle"`
}

// Provider supplies current health status.
type Provider interface {
	CurrentStatus(ctx context.Context) Status
}

// StatusEvaluator evaluates health and readiness.
type StatusEvaluator struct{}

// NewStatusEvaluator creates a health evaluator.
func NewStatusEvaluator() *StatusEvaluator {
	return &StatusEvaluator{}
}

// Evaluate evaluates readiness and mode from dependency state. Readiness needs
// the database and the scheduler; failed organizations only degrade.
func (e *StatusEvaluator) Evaluate(input Input) Status {
	cycleClean := input.LastCycle.FailedOrgs == 0 && input.LastCycle.Error == ""
	components := map[string]bool{
		"database":   input.DatabaseHealthy,
		"scheduler":  input.SchedulerRunning,
		"checkpoint": input.CheckpointHealthy,
		"last_cycle": cycleClean,
	}

	ready := input.DatabaseHealthy && input.SchedulerRunning

	mode := ModeHealthy
	if !ready {
		mode = ModeUnhealthy
	} else if !input.CheckpointHealthy || !cycleClean {
		mode = ModeDegraded
	}

	return Status{
		Mode:       mode,
		Ready:      ready,
		Components: components,
		LastCycle:  input.LastCycle,
	}
}

// NewHandler returns the health HTTP handler with /livez, /readyz, and /healthz endpoints.
func NewHandler(provider Provider) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/livez", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			return
		}
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		status := provider.CurrentStatus(r.Context())
		if status.Ready {
			w.WriteHeader(http.StatusOK)
			if _, err := w.Write([]byte("ready")); err != nil {
				return
			}
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		if _, err := w.Write([]byte("not ready")); err != nil {
			return
		}
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		status := provider.CurrentStatus(r.Context())
		payload, err := json.Marshal(status)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			if _, writeErr := w.Write([]byte(`{"mode":"unhealthy","error":"marshal health status"}`)); writeErr != nil {
				return
			}
			return
		}
		w.Header().Set("Content-Type", "application/json")
		code := http.StatusOK
		if !status.Ready {
			code = http.StatusServiceUnavailable
		}
		w.WriteHeader(code)
		//nolint:gosec // Health payload is server-generated JSON status.
		if _, err := w.Write(payload); err != nil {
			return
		}
	})

	return mux
}
