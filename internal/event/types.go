package event

import "time"

// PermissionUpdatedData is the data for permission.updated events. Published
// when a new permission request enters a session's pending queue.
type PermissionUpdatedData struct {
	ID              string         `json:"id"`
	SessionID       string         `json:"sessionID"`
	SourceSessionID string         `json:"sourceSessionID,omitempty"`
	AgentName       string         `json:"agentName,omitempty"`
	PermissionType  string         `json:"permissionType"`
	Pattern         []string       `json:"pattern,omitempty"`
	Title           string         `json:"title"`
	MessageID       string         `json:"messageID,omitempty"`
	CallID          string         `json:"callID,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	Time            time.Time      `json:"time"`
}

// PermissionRepliedData is the data for permission.replied events. Published
// for explicit responses, cascaded auto-approvals, teardown rejections, and
// withdrawals (the asker's context was cancelled before an answer landed).
type PermissionRepliedData struct {
	PermissionID    string `json:"permissionID"`
	SessionID       string `json:"sessionID"`
	SourceSessionID string `json:"sourceSessionID,omitempty"`
	CallID          string `json:"callID,omitempty"`
	Response        string `json:"response"` // "once" | "always" | "reject" | "withdrawn"
}

// TaskStartedData is the data for background_task.started events.
type TaskStartedData struct {
	RootID      string `json:"rootID"`
	TaskID      string `json:"taskID"`
	AgentName   string `json:"agentName,omitempty"`
	Description string `json:"description,omitempty"`
}

// TaskUpdatedData is the data for background_task.updated events.
type TaskUpdatedData struct {
	RootID           string `json:"rootID"`
	TaskID           string `json:"taskID"`
	Status           string `json:"status"`
	Description      string `json:"description,omitempty"`
	PendingApprovals int    `json:"pendingApprovals"`
}

// TaskCompletedData is the data for background_task.completed events.
// Status distinguishes a successful completion from a failure.
type TaskCompletedData struct {
	RootID string `json:"rootID"`
	TaskID string `json:"taskID"`
	Status string `json:"status"` // "completed" | "error"
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// TaskApprovalRequiredData is the data for background_task.approval_required
// events. Carries enough detail for a UI to render the blocked call.
type TaskApprovalRequiredData struct {
	RootID         string `json:"rootID"`
	TaskID         string `json:"taskID"`
	AgentName      string `json:"agentName,omitempty"`
	PermissionID   string `json:"permissionID"`
	CallID         string `json:"callID,omitempty"`
	PermissionType string `json:"permissionType"`
	Title          string `json:"title"`
}

// SandboxStartedData is the data for sandbox.started events.
type SandboxStartedData struct {
	Tool    string `json:"tool"`
	Image   string `json:"image"`
	Service bool   `json:"service,omitempty"`
}

// SandboxStoppedData is the data for sandbox.stopped events.
type SandboxStoppedData struct {
	Tool   string `json:"tool"`
	Reason string `json:"reason"` // "requested" | "idle" | "shutdown"
}
