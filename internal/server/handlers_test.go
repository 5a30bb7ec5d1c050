package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pincersec/pincer/internal/config"
	"github.com/pincersec/pincer/internal/orchestrator"
	"github.com/pincersec/pincer/internal/permission"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()

	catalogPath := filepath.Join(dir, "tools.yaml")
	require.NoError(t, os.WriteFile(catalogPath, []byte(`
tools:
  nmap:
    image: docker.io/instrumentisto/nmap
    description: Port scanner
`), 0o644))

	cfg := config.Default()
	cfg.Catalog = catalogPath
	cfg.Journal = filepath.Join(dir, "journal")

	state, err := orchestrator.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		state.Teardown()
		// Give in-flight subscriber goroutines a moment to finish so a
		// stray journal append lands before TempDir cleanup runs.
		time.Sleep(10 * time.Millisecond)
	})

	srvCfg := DefaultConfig()
	srvCfg.EnableCORS = false
	return New(srvCfg, state)
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestPermissionQueueLifecycle(t *testing.T) {
	srv := newTestServer(t)

	// Empty queue
	rec := doJSON(t, srv, http.MethodGet, "/session/ses_root/permissions", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Block an Ask, then drive it through the respond endpoint
	done := make(chan error, 1)
	go func() {
		done <- srv.state.Permissions.Ask(context.Background(), permission.Request{
			Type:      permission.TypeTool,
			Pattern:   permission.PatternList{"mcp:nmap:scan"},
			SessionID: "ses_root",
			Title:     "Run nmap scan",
		})
	}()

	require.Eventually(t, func() bool {
		return len(srv.state.Permissions.Pending("ses_root")) == 1
	}, time.Second, 5*time.Millisecond)

	rec = doJSON(t, srv, http.MethodGet, "/session/ses_root/permissions", nil)
	var queue struct {
		SessionID   string               `json:"sessionID"`
		Permissions []permission.Request `json:"permissions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &queue))
	require.Len(t, queue.Permissions, 1)
	assert.Equal(t, "Run nmap scan", queue.Permissions[0].Title)

	rec = doJSON(t, srv, http.MethodPost,
		"/session/ses_root/permissions/"+queue.Permissions[0].ID,
		PermissionResponse{Response: "always"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, <-done)

	// The always reply is now a standing approval
	rec = doJSON(t, srv, http.MethodGet, "/session/ses_root/approvals", nil)
	var approvals struct {
		Approvals []string `json:"approvals"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &approvals))
	assert.Equal(t, []string{"mcp:nmap:scan"}, approvals.Approvals)
}

func TestRespondPermissionValidation(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/session/ses_root/permissions/perm_x",
		PermissionResponse{Response: "maybe"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Unknown id with a valid reply is a no-op, not an error
	rec = doJSON(t, srv, http.MethodPost, "/session/ses_root/permissions/perm_x",
		PermissionResponse{Response: "once"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestChildRegistration(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/session/ses_root/children",
		RegisterChildRequest{ChildID: "ses_sub1"})
	require.Equal(t, http.StatusOK, rec.Code)

	// Registering through a child flattens to the top-level root
	rec = doJSON(t, srv, http.MethodPost, "/session/ses_sub1/children",
		RegisterChildRequest{ChildID: "ses_sub2"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/session/ses_root/children", nil)
	var children struct {
		Children []string `json:"children"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &children))
	assert.Equal(t, []string{"ses_sub1", "ses_sub2"}, children.Children)

	rec = doJSON(t, srv, http.MethodDelete, "/session/ses_root/children/ses_sub1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/session/ses_root/children", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &children))
	assert.Equal(t, []string{"ses_sub2"}, children.Children)

	rec = doJSON(t, srv, http.MethodPost, "/session/ses_root/children",
		RegisterChildRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListTasks(t *testing.T) {
	srv := newTestServer(t)

	srv.state.Tasks.Register("ses_root", "ses_sub", "recon", "scan the DMZ")
	srv.state.Tasks.Complete("ses_root", "ses_sub", "2 hosts up")

	rec := doJSON(t, srv, http.MethodGet, "/session/ses_root/tasks", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Summary struct {
			Total     int `json:"total"`
			Completed int `json:"completed"`
		} `json:"summary"`
		Tasks []struct {
			ID     string `json:"id"`
			Result string `json:"result"`
		} `json:"tasks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Summary.Total)
	assert.Equal(t, 1, body.Summary.Completed)
	require.Len(t, body.Tasks, 1)
	assert.Equal(t, "2 hosts up", body.Tasks[0].Result)
}

func TestChildRegistrationTracksTask(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/session/ses_root/children",
		RegisterChildRequest{ChildID: "ses_sub1", AgentName: "recon", Description: "scan the DMZ"})
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Summary struct {
			Total     int `json:"total"`
			Running   int `json:"running"`
			Completed int `json:"completed"`
			Failed    int `json:"failed"`
		} `json:"summary"`
		Tasks []struct {
			ID        string `json:"id"`
			AgentName string `json:"agentName"`
			Status    string `json:"status"`
			Result    string `json:"result"`
			Error     string `json:"error"`
		} `json:"tasks"`
	}

	// The registered child shows up as a running task.
	rec = doJSON(t, srv, http.MethodGet, "/session/ses_root/tasks", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Tasks, 1)
	assert.Equal(t, "ses_sub1", body.Tasks[0].ID)
	assert.Equal(t, "recon", body.Tasks[0].AgentName)
	assert.Equal(t, "running", body.Tasks[0].Status)
	assert.Equal(t, 1, body.Summary.Running)

	rec = doJSON(t, srv, http.MethodPost, "/session/ses_root/tasks/ses_sub1/complete",
		CompleteTaskRequest{Result: "2 hosts up"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/session/ses_root/tasks", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Tasks, 1)
	assert.Equal(t, "completed", body.Tasks[0].Status)
	assert.Equal(t, "2 hosts up", body.Tasks[0].Result)
	assert.Equal(t, 1, body.Summary.Completed)
}

func TestFailTask(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/session/ses_root/children",
		RegisterChildRequest{ChildID: "ses_sub1", AgentName: "recon", Description: "scan the DMZ"})
	require.Equal(t, http.StatusOK, rec.Code)

	// Task endpoints resolve through the hierarchy, so the child's own
	// session ID addresses the same task list.
	rec = doJSON(t, srv, http.MethodPost, "/session/ses_sub1/tasks/ses_sub1/fail",
		FailTaskRequest{Error: "target unreachable"})
	require.Equal(t, http.StatusOK, rec.Code)

	tk, ok := srv.state.Tasks.Get("ses_root", "ses_sub1")
	require.True(t, ok)
	assert.Equal(t, "target unreachable", tk.Error)

	rec = doJSON(t, srv, http.MethodPost, "/session/ses_root/tasks/ses_absent/complete",
		CompleteTaskRequest{})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnregisterChildClosesTask(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/session/ses_root/children",
		RegisterChildRequest{ChildID: "ses_sub1", AgentName: "recon", Description: "scan the DMZ"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodDelete, "/session/ses_root/children/ses_sub1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	tk, ok := srv.state.Tasks.Get("ses_root", "ses_sub1")
	require.True(t, ok)
	assert.True(t, tk.Status.Terminal())
}

func TestListToolsAndSandboxStatus(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/tools", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var tools struct {
		Tools []struct {
			Image string `json:"image"`
		} `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tools))
	require.Len(t, tools.Tools, 1)

	rec = doJSON(t, srv, http.MethodGet, "/sandbox", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodDelete, "/sandbox/nmap", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCallToolRejectedByOperator(t *testing.T) {
	srv := newTestServer(t)

	// Policy hook standing in for an operator who rejects everything
	srv.state.Permissions.SetDecisionHook(func(req permission.Request) permission.Decision {
		return permission.DecisionDeny
	})

	rec := doJSON(t, srv, http.MethodPost, "/tools/nmap/call",
		CallToolRequest{SessionID: "ses_root", Method: "scan"})
	require.Equal(t, http.StatusForbidden, rec.Code)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, ErrCodePermissionDenied, body.Error.Code)
}

func TestCallToolUnknownTool(t *testing.T) {
	srv := newTestServer(t)

	srv.state.Permissions.SetDecisionHook(func(req permission.Request) permission.Decision {
		return permission.DecisionAllow
	})

	rec := doJSON(t, srv, http.MethodPost, "/tools/absent/call",
		CallToolRequest{SessionID: "ses_root", Method: "scan"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCallToolRepeatGuard(t *testing.T) {
	srv := newTestServer(t)

	// Allow everything except the repeat gate, like an operator who
	// approved the tool but balks at a runaway loop.
	srv.state.Permissions.SetDecisionHook(func(req permission.Request) permission.Decision {
		if req.Type == permission.TypeRepeat {
			return permission.DecisionDeny
		}
		return permission.DecisionAllow
	})

	call := CallToolRequest{
		SessionID: "ses_root",
		Method:    "scan",
		Arguments: map[string]any{"target": "10.0.0.1"},
	}

	// The first two identical calls pass the gate. They may still fail
	// downstream in the sandbox, but not with a permission denial.
	for i := 0; i < 2; i++ {
		rec := doJSON(t, srv, http.MethodPost, "/tools/nmap/call", call)
		assert.NotEqual(t, http.StatusForbidden, rec.Code)
	}

	rec := doJSON(t, srv, http.MethodPost, "/tools/nmap/call", call)
	require.Equal(t, http.StatusForbidden, rec.Code)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, ErrCodePermissionDenied, body.Error.Code)
}

func TestCallToolShellCommandAsk(t *testing.T) {
	srv := newTestServer(t)

	var asked permission.Request
	srv.state.Permissions.SetDecisionHook(func(req permission.Request) permission.Decision {
		asked = req
		return permission.DecisionDeny
	})

	rec := doJSON(t, srv, http.MethodPost, "/tools/nmap/call", CallToolRequest{
		SessionID: "ses_root",
		Method:    "run_command",
		Arguments: map[string]any{"command": "nmap -sV 10.0.0.1 && rm -rf loot"},
	})
	require.Equal(t, http.StatusForbidden, rec.Code)

	// A command argument turns the ask into a shell request keyed by the
	// command line, with destructive chain members flagged.
	assert.Equal(t, permission.TypeShell, asked.Type)
	assert.Empty(t, asked.Pattern)
	assert.Equal(t, "nmap -sV 10.0.0.1 && rm -rf loot", asked.Metadata["command"])
	assert.Equal(t, []string{"rm"}, asked.Metadata["destructive"])
}

func TestCallToolValidation(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/tools/nmap/call", CallToolRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReadJournal(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/session/ses_root/journal", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Records []json.RawMessage `json:"records"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Empty(t, body.Records)
}
