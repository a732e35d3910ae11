package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestStatusEvaluatorEvaluate(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name      string
		input     Input
		wantReady bool
		wantMode  Mode
	}{
		{
			name: "healthy",
			input: Input{
				DatabaseHealthy:   true,
				SchedulerRunning:  true,
				CheckpointHealthy: true,
			},
			wantReady: true,
			wantMode:  ModeHealthy,
		},
		{
			name: "degraded_by_failed_orgs",
			input: Input{
				DatabaseHealthy:   true,
				SchedulerRunning:  true,
				CheckpointHealthy: true,
				LastCycle:         CycleSummary{FailedOrgs: 2},
			},
			wantReady: true,
			wantMode:  ModeDegraded,
		},
		{
			name: "degraded_by_cycle_error",
			input: Input{
				DatabaseHealthy:   true,
				SchedulerRunning:  true,
				CheckpointHealthy: true,
				LastCycle:         CycleSummary{Error: "context canceled"},
			},
			wantReady: true,
			wantMode:  ModeDegraded,
		},
		{
			name: "degraded_by_checkpoint",
			input: Input{
				DatabaseHealthy:  true,
				SchedulerRunning: true,
			},
			wantReady: true,
			wantMode:  ModeDegraded,
		},
		{
			name: "not_ready_without_database",
			input: Input{
				SchedulerRunning:  true,
				CheckpointHealthy: true,
			},
			wantReady: false,
			wantMode:  ModeUnhealthy,
		},
		{
			name: "not_ready_without_scheduler",
			input: Input{
				DatabaseHealthy:   true,
				CheckpointHealthy: true,
				LastCycle:         CycleSummary{FailedOrgs: 1},
			},
			wantReady: false,
			wantMode:  ModeUnhealthy,
		},
	}

	evaluator := NewStatusEvaluator()
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := evaluator.Evaluate(tc.input)
			if got.Ready != tc.wantReady {
				t.Fatalf("Evaluate().Ready = %t, want %t", got.Ready, tc.wantReady)
			}
			if got.Mode != tc.wantMode {
				t.Fatalf("Evaluate().Mode = %q, want %q", got.Mode, tc.wantMode)
			}
		})
	}
}

type staticProvider struct {
	status Status
}

func (s *staticProvider) CurrentStatus(_ context.Context) Status {
	return s.status
}

func TestHandler(t *testing.T) {
	t.Parallel()

	evaluator := NewStatusEvaluator()
	healthyStatus := evaluator.Evaluate(Input{
		DatabaseHealthy:   true,
		SchedulerRunning:  true,
		CheckpointHealthy: true,
		LastCycle:         CycleSummary{FailedOrgs: 3},
	})
	unhealthyStatus := evaluator.Evaluate(Input{
		SchedulerRunning:  true,
		CheckpointHealthy: true,
	})

	testCases := []struct {
		name       string
		status     Status
		path       string
		wantCode   int
		wantSubstr []string
	}{
		{
			name:       "livez_always_ok",
			status:     unhealthyStatus,
			path:       "/livez",
			wantCode:   http.StatusOK,
			wantSubstr: []string{"ok"},
		},
		{
			name:       "readyz_healthy",
			status:     healthyStatus,
			path:       "/readyz",
			wantCode:   http.StatusOK,
			wantSubstr: []string{"ready"},
		},
		{
			name:       "readyz_unhealthy",
			status:     unhealthyStatus,
			path:       "/readyz",
			wantCode:   http.StatusServiceUnavailable,
			wantSubstr: []string{"not ready"},
		},
		{
			name:       "healthz_json_contains_mode_and_last_cycle",
			status:     healthyStatus,
			path:       "/healthz",
			wantCode:   http.StatusOK,
			wantSubstr: []string{`"mode":"degraded"`, `"failed_orgs":3`, "components"},
		},
		{
			name:       "healthz_unhealthy_status_code",
			status:     unhealthyStatus,
			path:       "/healthz",
			wantCode:   http.StatusServiceUnavailable,
			wantSubstr: []string{`"mode":"unhealthy"`},
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			handler := NewHandler(&staticProvider{status: tc.status})
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tc.wantCode {
				t.Fatalf("status code = %d, want %d", rec.Code, tc.wantCode)
			}
			body := rec.Body.String()
			for _, substr := range tc.wantSubstr {
				if !strings.Contains(body, substr) {
					t.Fatalf("body %q missing %q", body, substr)
				}
			}

			if tc.path == "/healthz" {
				var parsed map[string]any
				if err := json.Unmarshal(rec.Body.Bytes(), &parsed); err != nil {
					t.Fatalf("healthz body is not valid json: %v", err)
				}
			}
		})
	}
}
