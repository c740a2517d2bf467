package activities_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/novotx/elsa-core/pkg/activities"
	"github.com/novotx/elsa-core/pkg/bookmarks"
	"github.com/novotx/elsa-core/pkg/identity"
	"github.com/novotx/elsa-core/pkg/models"
	"github.com/novotx/elsa-core/pkg/workflow"
	"github.com/novotx/elsa-core/pkg/workflow/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runActivity(t *testing.T, root workflow.Activity, input map[string]any, variables ...workflow.LocationReference) *workflow.WorkflowExecutionContext {
	t.Helper()

	wf, err := workflow.NewWorkflow(nil, root, variables...)
	require.NoError(t, err)

	executor := workflow.NewExecutor(workflow.NewInvoker(pipeline.FaultCapture()), &identity.SequenceGenerator{}, bookmarks.NewHasher(), discardLogger())

	wctx, err := executor.Start(t.Context(), wf, workflow.StartOptions{Input: input})
	require.NoError(t, err)

	return wctx
}

func TestHTTPRequest_Execute(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"method": r.Method,
			"path":   r.URL.Path,
			"token":  r.Header.Get("X-Token"),
			"body":   string(body),
		})
	}))
	defer server.Close()

	activity, err := activities.NewHTTPRequest("call", map[string]any{
		"url":     server.URL + "/orders/{{ .input.id }}",
		"method":  "post",
		"headers": map[string]any{"X-Token": "{{ .input.token }}"},
		"body":    map[string]any{"id": "{{ .input.id }}"},
		"result":  "response",
	}, discardLogger())
	require.NoError(t, err)

	wctx := runActivity(t, activity, map[string]any{"id": "abc", "token": "secret"}, workflow.LocationReference{Name: "response"})

	require.Equal(t, models.WorkflowStatusFinished, wctx.Status)

	response, ok := wctx.Variable("response")
	require.True(t, ok)

	result := response.(map[string]any)
	assert.Equal(t, http.StatusOK, result["status_code"])

	body := result["body"].(map[string]any)
	assert.Equal(t, http.MethodPost, body["method"])
	assert.Equal(t, "/orders/abc", body["path"])
	assert.Equal(t, "secret", body["token"])
	assert.JSONEq(t, `{"id":"abc"}`, body["body"].(string))
}

func TestHTTPRequest_Retry(t *testing.T) {
	tests := []struct {
		name         string
		failures     int32
		attempts     float64
		wantStatus   models.WorkflowStatus
		wantRequests int32
	}{
		{name: "recovers after server errors", failures: 2, attempts: 3, wantStatus: models.WorkflowStatusFinished, wantRequests: 3},
		{name: "last attempt response is kept", failures: 5, attempts: 2, wantStatus: models.WorkflowStatusFinished, wantRequests: 2},
		{name: "no retry by default", failures: 1, attempts: 0, wantStatus: models.WorkflowStatusFinished, wantRequests: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var requests atomic.Int32

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				if requests.Add(1) <= tt.failures {
					w.WriteHeader(http.StatusBadGateway)

					return
				}

				_, _ = w.Write([]byte("ok"))
			}))
			defer server.Close()

			config := map[string]any{"url": server.URL}
			if tt.attempts > 0 {
				config["retry"] = map[string]any{"attempts": tt.attempts, "delay_ms": float64(1)}
			}

			activity, err := activities.NewHTTPRequest("call", config, discardLogger())
			require.NoError(t, err)

			wctx := runActivity(t, activity, nil)

			assert.Equal(t, tt.wantStatus, wctx.Status)
			assert.Equal(t, tt.wantRequests, requests.Load())
		})
	}
}

func TestHTTPRequest_ConnectionFailureFaults(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	activity, err := activities.NewHTTPRequest("call", map[string]any{"url": url}, discardLogger())
	require.NoError(t, err)

	wctx := runActivity(t, activity, nil)

	assert.Equal(t, models.WorkflowStatusFaulted, wctx.Status)
	require.NotNil(t, wctx.Fault)
	assert.Contains(t, wctx.Fault.Message, "all retry attempts failed")
}
