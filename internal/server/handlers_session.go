package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pincersec/pincer/internal/permission"
)

// health handles GET /health.
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"sandboxes": len(s.state.Sandboxes.Status()),
	})
}

// listPermissions handles GET /session/{sessionID}/permissions. The
// queue is resolved to the effective session, so asking with a child
// session ID returns the root's queue.
func (s *Server) listPermissions(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	writeJSON(w, http.StatusOK, map[string]any{
		"sessionID":   s.state.Hierarchy.Root(sessionID),
		"permissions": s.state.Permissions.Pending(sessionID),
	})
}

// PermissionResponse is the body of a permission respond call.
type PermissionResponse struct {
	Response string `json:"response"` // once | always | reject
}

// respondPermission handles POST /session/{sessionID}/permissions/{permissionID}.
func (s *Server) respondPermission(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	permissionID := chi.URLParam(r, "permissionID")

	var req PermissionResponse
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}
	reply := permission.Reply(req.Response)
	if !reply.Valid() {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "response must be once, always, or reject")
		return
	}

	// A stale id is a no-op by design: cascades and duplicate clicks
	// make late responses routine, not errors.
	s.state.Permissions.Respond(sessionID, permissionID, reply)
	writeSuccess(w)
}

// listApprovals handles GET /session/{sessionID}/approvals.
func (s *Server) listApprovals(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	writeJSON(w, http.StatusOK, map[string]any{
		"sessionID": s.state.Hierarchy.Root(sessionID),
		"approvals": s.state.Permissions.Approved(sessionID),
	})
}

// RegisterChildRequest is the body of a child registration call.
type RegisterChildRequest struct {
	ChildID     string `json:"childID"`
	AgentName   string `json:"agentName,omitempty"`
	Description string `json:"description,omitempty"`
}

// registerChild handles POST /session/{sessionID}/children. Registering
// a child also starts tracking it as a background task, so its bubbled
// permission asks show up under /tasks.
func (s *Server) registerChild(w http.ResponseWriter, r *http.Request) {
	rootID := chi.URLParam(r, "sessionID")

	var req RegisterChildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ChildID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "childID required")
		return
	}

	// Nested sub-agents flatten: the registered root is always the
	// top-level session, whatever session made this call.
	root := s.state.Hierarchy.Root(rootID)
	s.state.Hierarchy.RegisterRoot(req.ChildID, root)
	s.state.Tasks.Register(root, req.ChildID, req.AgentName, req.Description)
	writeSuccess(w)
}

// listChildren handles GET /session/{sessionID}/children.
func (s *Server) listChildren(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	writeJSON(w, http.StatusOK, map[string]any{
		"sessionID": sessionID,
		"children":  s.state.Hierarchy.Children(sessionID),
	})
}

// unregisterChild handles DELETE /session/{sessionID}/children/{childID}.
// A still-running task for the child is closed out as completed.
func (s *Server) unregisterChild(w http.ResponseWriter, r *http.Request) {
	childID := chi.URLParam(r, "childID")
	root := s.state.Hierarchy.Root(childID)
	s.state.Hierarchy.Unregister(childID)
	s.state.Tasks.Complete(root, childID, "")
	writeSuccess(w)
}

// listTasks handles GET /session/{sessionID}/tasks.
func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	rootID := s.state.Hierarchy.Root(chi.URLParam(r, "sessionID"))
	writeJSON(w, http.StatusOK, map[string]any{
		"sessionID": rootID,
		"summary":   s.state.Tasks.Summary(rootID),
		"tasks":     s.state.Tasks.List(rootID),
	})
}

// CompleteTaskRequest is the body of a task completion call.
type CompleteTaskRequest struct {
	Result string `json:"result,omitempty"`
}

// completeTask handles POST /session/{sessionID}/tasks/{taskID}/complete.
func (s *Server) completeTask(w http.ResponseWriter, r *http.Request) {
	rootID := s.state.Hierarchy.Root(chi.URLParam(r, "sessionID"))
	taskID := chi.URLParam(r, "taskID")

	var req CompleteTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}
	if _, ok := s.state.Tasks.Get(rootID, taskID); !ok {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "unknown task "+taskID)
		return
	}
	s.state.Tasks.Complete(rootID, taskID, req.Result)
	writeSuccess(w)
}

// FailTaskRequest is the body of a task failure call.
type FailTaskRequest struct {
	Error string `json:"error,omitempty"`
}

// failTask handles POST /session/{sessionID}/tasks/{taskID}/fail.
func (s *Server) failTask(w http.ResponseWriter, r *http.Request) {
	rootID := s.state.Hierarchy.Root(chi.URLParam(r, "sessionID"))
	taskID := chi.URLParam(r, "taskID")

	var req FailTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}
	if _, ok := s.state.Tasks.Get(rootID, taskID); !ok {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "unknown task "+taskID)
		return
	}
	s.state.Tasks.Fail(rootID, taskID, req.Error)
	writeSuccess(w)
}

// listTaskApprovals handles GET /session/{sessionID}/tasks/approvals:
// the unified view of which tasks block on which permissions.
func (s *Server) listTaskApprovals(w http.ResponseWriter, r *http.Request) {
	rootID := s.state.Hierarchy.Root(chi.URLParam(r, "sessionID"))
	writeJSON(w, http.StatusOK, map[string]any{
		"sessionID": rootID,
		"waiting":   s.state.Tasks.PendingApprovals(rootID),
	})
}

// readJournal handles GET /session/{sessionID}/journal.
func (s *Server) readJournal(w http.ResponseWriter, r *http.Request) {
	rootID := s.state.Hierarchy.Root(chi.URLParam(r, "sessionID"))
	records, err := s.state.Journal.Read(rootID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessionID": rootID,
		"records":   records,
	})
}
