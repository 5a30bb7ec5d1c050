// Package session tracks the sub-agent session hierarchy for permission bubbling.
//
// Every sub-agent session registers the top-level root session it belongs to,
// regardless of nesting depth: a sub-agent spawned by another sub-agent still
// maps directly to the root. This flattening means an entire sub-agent subtree
// shares one human-facing approval queue, and resolving the effective session
// for any request is a single map lookup.
package session

import (
	"sort"
	"sync"

	"github.com/oklog/ulid/v2"
)

// Hierarchy is a process-lifetime registry mapping a child session ID to its
// root session ID. A session with no entry is its own root.
type Hierarchy struct {
	mu    sync.RWMutex
	roots map[string]string // child -> root
}

// NewHierarchy creates an empty hierarchy.
func NewHierarchy() *Hierarchy {
	return &Hierarchy{
		roots: make(map[string]string),
	}
}

// RegisterRoot records that sessionID belongs to rootID's approval queue.
// Registering a session as its own root is a no-op: absence of an entry is
// what marks a root, and a root must never map to itself.
func (h *Hierarchy) RegisterRoot(sessionID, rootID string) {
	if sessionID == "" || rootID == "" || sessionID == rootID {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.roots[sessionID] = rootID
}

// Root returns the root session for sessionID. An unregistered session is
// its own root.
func (h *Hierarchy) Root(sessionID string) string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if root, ok := h.roots[sessionID]; ok {
		return root
	}
	return sessionID
}

// HasParent reports whether sessionID is registered under a different root.
func (h *Hierarchy) HasParent(sessionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	root, ok := h.roots[sessionID]
	return ok && root != sessionID
}

// Unregister removes sessionID from the hierarchy. Called when a sub-agent
// session is torn down.
func (h *Hierarchy) Unregister(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.roots, sessionID)
}

// Children returns every session whose registered root is rootID, sorted for
// deterministic output. Linear scan; the table is small and engagement-scoped.
func (h *Hierarchy) Children(rootID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var children []string
	for child, root := range h.roots {
		if root == rootID {
			children = append(children, child)
		}
	}
	sort.Strings(children)
	return children
}

// Len returns the number of registered child sessions.
func (h *Hierarchy) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.roots)
}

// Clear drops every registration. Used at engagement teardown.
func (h *Hierarchy) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.roots = make(map[string]string)
}

// NewID generates a new session identifier.
func NewID() string {
	return ulid.Make().String()
}
