package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pincersec/pincer/internal/permission"
	"github.com/pincersec/pincer/internal/sandbox"
	"github.com/pincersec/pincer/internal/session"
)

// sandboxStatus handles GET /sandbox.
func (s *Server) sandboxStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"containers": s.state.Sandboxes.Status(),
	})
}

// stopSandbox handles DELETE /sandbox/{tool}.
func (s *Server) stopSandbox(w http.ResponseWriter, r *http.Request) {
	s.state.Sandboxes.StopContainer(chi.URLParam(r, "tool"))
	writeSuccess(w)
}

// listTools handles GET /tools.
func (s *Server) listTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"tools": s.state.Sandboxes.Catalog().Tools(),
	})
}

// CallToolRequest is the body of a one-shot tool invocation.
type CallToolRequest struct {
	SessionID string         `json:"sessionID,omitempty"`
	Method    string         `json:"method"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// CallToolResponse carries a tool's text output.
type CallToolResponse struct {
	Tool   string `json:"tool"`
	Method string `json:"method"`
	Output string `json:"output"`
}

// callTool handles POST /tools/{tool}/call: the full gated invocation,
// permission check first, then the sandboxed call.
func (s *Server) callTool(w http.ResponseWriter, r *http.Request) {
	tool := chi.URLParam(r, "tool")

	var req CallToolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Method == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "method required")
		return
	}
	if req.SessionID == "" {
		req.SessionID = session.NewID()
	}

	// Identical invocations repeated in a tight loop get their own gate
	// before the regular ask, so a standing approval cannot be replayed
	// indefinitely.
	if s.repeats.Check(req.SessionID, tool+":"+req.Method, req.Arguments) {
		err := s.state.Permissions.Ask(r.Context(), permission.Request{
			Type:      permission.TypeRepeat,
			Pattern:   permission.PatternList{"repeat:" + tool + ":" + req.Method},
			SessionID: req.SessionID,
			CallID:    session.NewID(),
			Title:     "Repeated call " + tool + " " + req.Method,
			Metadata:  map[string]any{"tool": tool, "method": req.Method},
		})
		if err != nil {
			if permission.IsRejectedError(err) {
				writeError(w, http.StatusForbidden, ErrCodePermissionDenied, err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
			return
		}
		s.repeats.Clear(req.SessionID)
	}

	ask := permission.Request{
		Type:      permission.TypeTool,
		Pattern:   permission.PatternList{"mcp:" + tool + ":" + req.Method},
		SessionID: req.SessionID,
		CallID:    session.NewID(),
		Title:     "Run " + tool + " " + req.Method,
		Metadata:  map[string]any{"arguments": req.Arguments},
	}
	// Shell invocations are keyed by the command line itself, so an
	// always-approval on "shell:nmap" covers future nmap runs without
	// blanket-approving the tool.
	if cmd, ok := req.Arguments["command"].(string); ok && cmd != "" {
		ask.Type = permission.TypeShell
		ask.Pattern = nil
		ask.Metadata["command"] = cmd
	}

	err := s.state.Permissions.Ask(r.Context(), ask)
	if err != nil {
		if permission.IsRejectedError(err) {
			writeError(w, http.StatusForbidden, ErrCodePermissionDenied, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	output, err := s.state.Sandboxes.CallToolByName(r.Context(), tool, req.Method, req.Arguments)
	if err != nil {
		var unknown *sandbox.UnknownToolError
		if errors.As(err, &unknown) {
			writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
			return
		}
		writeError(w, http.StatusBadGateway, ErrCodeSandboxError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, CallToolResponse{
		Tool:   tool,
		Method: req.Method,
		Output: output,
	})
}
