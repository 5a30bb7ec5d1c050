// Package task tracks the lifecycle of backgrounded sub-agent tasks,
// including how many operator approvals each one is currently blocked on.
// The tracker subscribes to permission events so a sub-agent ask flips its
// task to waiting_approval and the reply flips it back.
package task

import (
	"sort"
	"sync"
	"time"

	"github.com/pincersec/pincer/internal/event"
	"github.com/pincersec/pincer/internal/logging"
)

// Status is the lifecycle state of a background task.
type Status string

const (
	StatusPending         Status = "pending"
	StatusRunning         Status = "running"
	StatusCompleted       Status = "completed"
	StatusError           Status = "error"
	StatusWaitingApproval Status = "waiting_approval"
)

// Terminal reports whether the status is a final one.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Approval is one permission request a task is blocked on.
type Approval struct {
	PermissionID string    `json:"permissionID"`
	CallID       string    `json:"callID,omitempty"`
	Type         string    `json:"type"`
	Title        string    `json:"title"`
	Time         time.Time `json:"time"`
}

// Task is one backgrounded sub-agent. Its ID doubles as the sub-agent's
// session ID, which is how permission events find their task.
type Task struct {
	ID               string     `json:"id"`
	RootID           string     `json:"rootID"`
	AgentName        string     `json:"agentName,omitempty"`
	Description      string     `json:"description"`
	Status           Status     `json:"status"`
	StartedAt        time.Time  `json:"startedAt"`
	EndedAt          time.Time  `json:"endedAt,omitzero"`
	Result           string     `json:"result,omitempty"`
	Error            string     `json:"error,omitempty"`
	PendingApprovals int        `json:"pendingApprovals"`
	Approvals        []Approval `json:"approvals,omitempty"`
}

// Summary aggregates task counts for one root session.
type Summary struct {
	Total           int `json:"total"`
	Pending         int `json:"pending"`
	Running         int `json:"running"`
	WaitingApproval int `json:"waitingApproval"`
	Completed       int `json:"completed"`
	Failed          int `json:"failed"`
}

// repliedTombstoneMax bounds the remembered replied permission IDs.
const repliedTombstoneMax = 256

// Tracker holds the background tasks of every root session. Invariant: a
// task's status is waiting_approval iff its pendingApprovals counter is
// positive.
type Tracker struct {
	mu    sync.Mutex
	bus   *event.Bus
	tasks map[string]map[string]*Task // rootID -> taskID -> task

	// replied remembers permission IDs whose reply landed before the
	// matching require. Event dispatch is concurrent, so the updated and
	// replied handlers can run in either order; the tombstone turns a
	// late require into a no-op instead of a permanently waiting task.
	replied      map[string]bool
	repliedOrder []string
}

// NewTracker creates a tracker publishing on bus.
func NewTracker(bus *event.Bus) *Tracker {
	return &Tracker{
		bus:     bus,
		tasks:   make(map[string]map[string]*Task),
		replied: make(map[string]bool),
	}
}

// Bind subscribes the tracker to permission events: an ask bubbled from a
// sub-agent session marks its task waiting_approval, the matching reply
// clears it. Returns an unsubscribe function.
func (t *Tracker) Bind() func() {
	unsubUpdated := t.bus.Subscribe(event.PermissionUpdated, func(e event.Event) {
		data, ok := e.Data.(event.PermissionUpdatedData)
		if !ok || data.SourceSessionID == "" {
			return
		}
		t.RequireApproval(data.SessionID, data.SourceSessionID, Approval{
			PermissionID: data.ID,
			CallID:       data.CallID,
			Type:         data.PermissionType,
			Title:        data.Title,
			Time:         data.Time,
		})
	})
	unsubReplied := t.bus.Subscribe(event.PermissionReplied, func(e event.Event) {
		data, ok := e.Data.(event.PermissionRepliedData)
		if !ok || data.SourceSessionID == "" {
			return
		}
		t.ClearApproval(data.SessionID, data.SourceSessionID, data.PermissionID)
	})
	return func() {
		unsubUpdated()
		unsubReplied()
	}
}

// Register inserts a running task for a freshly spawned sub-agent and
// publishes a started event.
func (t *Tracker) Register(rootID, taskID, agentName, description string) Task {
	now := time.Now()
	tk := &Task{
		ID:          taskID,
		RootID:      rootID,
		AgentName:   agentName,
		Description: description,
		Status:      StatusRunning,
		StartedAt:   now,
	}

	t.mu.Lock()
	if t.tasks[rootID] == nil {
		t.tasks[rootID] = make(map[string]*Task)
	}
	if _, exists := t.tasks[rootID][taskID]; exists {
		logging.Debug().Str("root", rootID).Str("task", taskID).Msg("replacing already-registered task")
	}
	t.tasks[rootID][taskID] = tk
	snapshot := *tk
	t.mu.Unlock()

	t.bus.Publish(event.Event{
		Type: event.TaskStarted,
		Data: event.TaskStartedData{
			RootID:      rootID,
			TaskID:      taskID,
			AgentName:   agentName,
			Description: description,
		},
	})
	return snapshot
}

// Update records task progress: a non-empty status replaces the current
// status, a non-empty description replaces the description. Terminal tasks
// and waiting_approval transitions are not updatable this way; the
// approval counter owns the waiting state.
func (t *Tracker) Update(rootID, taskID string, status Status, description string) {
	if status == StatusWaitingApproval {
		logging.Warn().Str("root", rootID).Str("task", taskID).Msg("use RequireApproval to mark a task waiting")
		return
	}

	t.mu.Lock()
	tk := t.lookup(rootID, taskID)
	if tk == nil || tk.Status.Terminal() {
		t.mu.Unlock()
		return
	}
	if status != "" && tk.PendingApprovals == 0 {
		tk.Status = status
	}
	if description != "" {
		tk.Description = description
	}
	snapshot := *tk
	t.mu.Unlock()

	t.publishUpdated(snapshot)
}

// Complete marks a task finished with a result. Terminal: later mutations
// are ignored. Outstanding approvals are dropped with the transition.
func (t *Tracker) Complete(rootID, taskID, result string) {
	t.finish(rootID, taskID, StatusCompleted, result, "")
}

// Fail marks a task finished with an error.
func (t *Tracker) Fail(rootID, taskID, errMsg string) {
	t.finish(rootID, taskID, StatusError, "", errMsg)
}

func (t *Tracker) finish(rootID, taskID string, status Status, result, errMsg string) {
	t.mu.Lock()
	tk := t.lookup(rootID, taskID)
	if tk == nil || tk.Status.Terminal() {
		t.mu.Unlock()
		return
	}
	tk.Status = status
	tk.Result = result
	tk.Error = errMsg
	tk.EndedAt = time.Now()
	tk.Approvals = nil
	tk.PendingApprovals = 0
	snapshot := *tk
	t.mu.Unlock()

	t.bus.Publish(event.Event{
		Type: event.TaskCompleted,
		Data: event.TaskCompletedData{
			RootID: rootID,
			TaskID: taskID,
			Status: string(snapshot.Status),
			Result: snapshot.Result,
			Error:  snapshot.Error,
		},
	})
}

// RequireApproval records that a task is blocked on a permission request
// and forces its status to waiting_approval. Repeat calls for the same
// permission ID are no-ops.
func (t *Tracker) RequireApproval(rootID, taskID string, approval Approval) {
	t.mu.Lock()
	if t.replied[approval.PermissionID] {
		delete(t.replied, approval.PermissionID)
		t.mu.Unlock()
		logging.Debug().Str("task", taskID).Str("permission", approval.PermissionID).Msg("require after reply, dropped")
		return
	}
	tk := t.lookup(rootID, taskID)
	if tk == nil || tk.Status.Terminal() {
		t.mu.Unlock()
		logging.Debug().Str("root", rootID).Str("task", taskID).Msg("approval for unknown or finished task")
		return
	}
	for _, a := range tk.Approvals {
		if a.PermissionID == approval.PermissionID {
			t.mu.Unlock()
			return
		}
	}
	tk.Approvals = append(tk.Approvals, approval)
	tk.PendingApprovals = len(tk.Approvals)
	tk.Status = StatusWaitingApproval
	snapshot := *tk
	t.mu.Unlock()

	t.bus.Publish(event.Event{
		Type: event.TaskApprovalRequired,
		Data: event.TaskApprovalRequiredData{
			RootID:         rootID,
			TaskID:         taskID,
			AgentName:      snapshot.AgentName,
			PermissionID:   approval.PermissionID,
			CallID:         approval.CallID,
			PermissionType: approval.Type,
			Title:          approval.Title,
		},
	})
	t.publishUpdated(snapshot)
}

// ClearApproval removes a tracked approval. When the last one clears and
// the task is still waiting, it goes back to running.
func (t *Tracker) ClearApproval(rootID, taskID, permissionID string) {
	t.mu.Lock()
	tk := t.lookup(rootID, taskID)
	if tk == nil {
		t.tombstoneLocked(permissionID)
		t.mu.Unlock()
		return
	}
	kept := tk.Approvals[:0]
	for _, a := range tk.Approvals {
		if a.PermissionID != permissionID {
			kept = append(kept, a)
		}
	}
	if len(kept) == len(tk.Approvals) {
		t.tombstoneLocked(permissionID)
		t.mu.Unlock()
		logging.Debug().Str("task", taskID).Str("permission", permissionID).Msg("clearing unknown approval")
		return
	}
	tk.Approvals = kept
	tk.PendingApprovals = len(kept)
	if tk.PendingApprovals == 0 && tk.Status == StatusWaitingApproval {
		tk.Status = StatusRunning
	}
	snapshot := *tk
	t.mu.Unlock()

	t.publishUpdated(snapshot)
}

// tombstoneLocked remembers a replied permission ID that matched no
// tracked approval, bounded FIFO. Caller holds mu.
func (t *Tracker) tombstoneLocked(permissionID string) {
	if permissionID == "" || t.replied[permissionID] {
		return
	}
	t.replied[permissionID] = true
	t.repliedOrder = append(t.repliedOrder, permissionID)
	if len(t.repliedOrder) > repliedTombstoneMax {
		delete(t.replied, t.repliedOrder[0])
		t.repliedOrder = t.repliedOrder[1:]
	}
}

// Get returns a copy of one task.
func (t *Tracker) Get(rootID, taskID string) (Task, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tk := t.lookup(rootID, taskID)
	if tk == nil {
		return Task{}, false
	}
	return t.snapshot(tk), true
}

// List returns copies of all tasks for a root session, oldest first.
func (t *Tracker) List(rootID string) []Task {
	t.mu.Lock()
	m := t.tasks[rootID]
	out := make([]Task, 0, len(m))
	for _, tk := range m {
		out = append(out, t.snapshot(tk))
	}
	t.mu.Unlock()

	sortTasks(out)
	return out
}

// Summary aggregates task counts for a root session.
func (t *Tracker) Summary(rootID string) Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	var s Summary
	for _, tk := range t.tasks[rootID] {
		s.Total++
		switch tk.Status {
		case StatusPending:
			s.Pending++
		case StatusRunning:
			s.Running++
		case StatusWaitingApproval:
			s.WaitingApproval++
		case StatusCompleted:
			s.Completed++
		case StatusError:
			s.Failed++
		}
	}
	return s
}

// PendingApprovals lists the tasks currently blocked on approval, oldest
// first, each with its outstanding approvals attached.
func (t *Tracker) PendingApprovals(rootID string) []Task {
	t.mu.Lock()
	var out []Task
	for _, tk := range t.tasks[rootID] {
		if tk.Status == StatusWaitingApproval {
			out = append(out, t.snapshot(tk))
		}
	}
	t.mu.Unlock()

	sortTasks(out)
	return out
}

// Cleanup discards every task of a finished engagement.
func (t *Tracker) Cleanup(rootID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tasks, rootID)
}

// lookup finds a task. Caller holds mu.
func (t *Tracker) lookup(rootID, taskID string) *Task {
	m := t.tasks[rootID]
	if m == nil {
		return nil
	}
	return m[taskID]
}

// snapshot copies a task, detaching the approvals slice. Caller holds mu.
func (t *Tracker) snapshot(tk *Task) Task {
	out := *tk
	if len(tk.Approvals) > 0 {
		out.Approvals = append([]Approval(nil), tk.Approvals...)
	}
	return out
}

func (t *Tracker) publishUpdated(tk Task) {
	t.bus.Publish(event.Event{
		Type: event.TaskUpdated,
		Data: event.TaskUpdatedData{
			RootID:           tk.RootID,
			TaskID:           tk.ID,
			Status:           string(tk.Status),
			Description:      tk.Description,
			PendingApprovals: tk.PendingApprovals,
		},
	})
}

func sortTasks(tasks []Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].StartedAt.Equal(tasks[j].StartedAt) {
			return tasks[i].ID < tasks[j].ID
		}
		return tasks[i].StartedAt.Before(tasks[j].StartedAt)
	})
}
