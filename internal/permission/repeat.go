package permission

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
)

// RepeatThreshold is the number of identical calls before the guard trips.
const RepeatThreshold = 3

// repeatHistoryMax bounds the per-session call history.
const repeatHistoryMax = 10

// RepeatDetector tracks tool calls per session so the orchestrator can
// demand approval when an agent keeps re-issuing the exact same call
// instead of making progress.
type RepeatDetector struct {
	mu      sync.Mutex
	history map[string][]string // sessionID -> recent call hashes
}

// NewRepeatDetector creates a new repeat detector.
func NewRepeatDetector() *RepeatDetector {
	return &RepeatDetector{
		history: make(map[string][]string),
	}
}

// Check records a call and reports whether the last RepeatThreshold calls
// in the session were identical (same tool, same arguments).
func (d *RepeatDetector) Check(sessionID, tool string, args any) bool {
	hash := hashCall(tool, args)

	d.mu.Lock()
	defer d.mu.Unlock()

	history := append(d.history[sessionID], hash)
	if len(history) > repeatHistoryMax {
		history = history[len(history)-repeatHistoryMax:]
	}
	d.history[sessionID] = history

	if len(history) < RepeatThreshold {
		return false
	}
	for _, h := range history[len(history)-RepeatThreshold:] {
		if h != hash {
			return false
		}
	}
	return true
}

// Clear drops the history for a session.
func (d *RepeatDetector) Clear(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.history, sessionID)
}

// hashCall hashes the tool name and arguments into a comparison key.
func hashCall(tool string, args any) string {
	data, _ := json.Marshal(map[string]any{
		"tool": tool,
		"args": args,
	})
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
