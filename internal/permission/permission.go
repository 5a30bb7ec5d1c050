package permission

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PermissionType classifies the action a request wants to perform.
type PermissionType string

const (
	// TypeTool is a sandboxed security-tool invocation (the common case).
	TypeTool PermissionType = "mcp_tool"
	// TypeShell is a raw shell command executed inside a sandbox.
	TypeShell PermissionType = "shell"
	// TypeSandbox is a container lifecycle operation (privileged start, stop).
	TypeSandbox PermissionType = "sandbox"
	// TypeRepeat flags an agent re-issuing the same call over and over.
	TypeRepeat PermissionType = "repeat"
)

// Reply is the operator's answer to a pending request.
type Reply string

const (
	ReplyOnce   Reply = "once"
	ReplyAlways Reply = "always"
	ReplyReject Reply = "reject"

	// ReplyWithdrawn is published when the asker gives up (context
	// cancelled) before anyone answered. It is never a valid operator
	// reply, but subscribers tracking open requests need to see it so
	// nothing stays marked as blocked.
	ReplyWithdrawn Reply = "withdrawn"
)

// Valid reports whether r is a recognized reply value.
func (r Reply) Valid() bool {
	switch r {
	case ReplyOnce, ReplyAlways, ReplyReject:
		return true
	}
	return false
}

// Decision is the verdict of an automatic policy hook.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
	DecisionAsk   Decision = "ask"
)

// DecisionHook inspects a request before the operator is prompted.
// DecisionAllow resolves the request, DecisionDeny rejects it, and any
// other verdict falls through to the interactive flow.
type DecisionHook func(req Request) Decision

// PatternList holds the wildcard keys a request asks approval for. It
// unmarshals from either a single string or an array of strings.
type PatternList []string

func (p *PatternList) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*p = PatternList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*p = PatternList(many)
	return nil
}

// Request asks the operator to approve one action.
type Request struct {
	ID              string         `json:"id"`
	Type            PermissionType `json:"type"`
	Pattern         PatternList    `json:"pattern,omitempty"`
	SessionID       string         `json:"sessionID"`
	SourceSessionID string         `json:"sourceSessionID,omitempty"`
	AgentName       string         `json:"agentName,omitempty"`
	MessageID       string         `json:"messageID,omitempty"`
	CallID          string         `json:"callID,omitempty"`
	Title           string         `json:"title"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	Time            time.Time      `json:"time"`
}

// Keys returns the wildcard keys this request seeks approval for: the
// pattern list when given. A shell request without an explicit pattern
// derives its keys from the command line in Metadata["command"], so an
// "always" on `shell:nmap` covers future nmap invocations but nothing
// else in the pipeline. Otherwise the action type alone is the key.
func (r Request) Keys() []string {
	if len(r.Pattern) > 0 {
		return []string(r.Pattern)
	}
	if r.Type == TypeShell {
		if cmd, ok := r.Metadata["command"].(string); ok && cmd != "" {
			// An unparseable line falls through to the bare "shell"
			// key, coverable only by an explicit wildcard approval.
			if keys, err := CommandKeys(cmd); err == nil && len(keys) > 0 {
				return keys
			}
		}
	}
	return []string{string(r.Type)}
}

// RejectedError is returned when the operator or a policy hook denies an
// action. It carries enough context for the caller to report what was
// denied and retry with different parameters or abandon gracefully.
type RejectedError struct {
	SessionID    string
	PermissionID string
	Type         PermissionType
	CallID       string
	Metadata     map[string]any
	Message      string
}

func (e *RejectedError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("permission rejected for %s", e.Type)
}

// IsRejectedError checks if an error is a permission rejection.
func IsRejectedError(err error) bool {
	var rejected *RejectedError
	return errors.As(err, &rejected)
}
