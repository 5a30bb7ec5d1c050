package permission

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pincersec/pincer/internal/event"
	"github.com/pincersec/pincer/internal/logging"
	"github.com/pincersec/pincer/internal/session"
)

// Service owns the pending and approved permission state for every
// session. Requests from sub-agent sessions are bubbled to their root
// session, so the operator sees a single approval queue per engagement.
type Service struct {
	mu        sync.Mutex
	bus       *event.Bus
	hierarchy *session.Hierarchy
	hook      DecisionHook
	approved  map[string]map[string]bool        // effective sessionID -> approved patterns
	pending   map[string]map[string]*pendingAsk // effective sessionID -> permissionID -> ask
}

// pendingAsk holds a blocked Ask call. The done channel is buffered so
// Respond never blocks on a caller that is about to give up.
type pendingAsk struct {
	req  Request
	done chan error
}

// NewService creates a permission service publishing on bus and resolving
// effective sessions through hierarchy.
func NewService(bus *event.Bus, hierarchy *session.Hierarchy) *Service {
	return &Service{
		bus:       bus,
		hierarchy: hierarchy,
		approved:  make(map[string]map[string]bool),
		pending:   make(map[string]map[string]*pendingAsk),
	}
}

// SetDecisionHook installs a policy hook consulted before the operator is
// prompted. Passing nil removes the hook.
func (s *Service) SetDecisionHook(hook DecisionHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = hook
}

// Ask blocks until the request is approved, rejected, or ctx is done.
// Requests whose keys are already covered by the session's standing
// approvals resolve immediately. A denial is returned as *RejectedError;
// cancellation returns ctx.Err() and withdraws the pending request.
func (s *Service) Ask(ctx context.Context, req Request) error {
	if req.ID == "" {
		req.ID = session.NewID()
	}
	if req.Time.IsZero() {
		req.Time = time.Now()
	}

	effective := s.hierarchy.Root(req.SessionID)
	if effective != req.SessionID {
		if req.SourceSessionID == "" {
			req.SourceSessionID = req.SessionID
		}
		req.SessionID = effective
	}
	if req.Type == TypeShell {
		if cmd, ok := req.Metadata["command"].(string); ok && cmd != "" {
			// Badge destructive pipeline members so the queue shows
			// what "nmap ... && rm -rf loot" actually runs.
			if destructive := DestructiveMembers(cmd); len(destructive) > 0 {
				req.Metadata["destructive"] = destructive
			}
		}
	}
	keys := req.Keys()

	s.mu.Lock()
	if Covered(keys, s.approvedPatterns(effective)) {
		s.mu.Unlock()
		logging.Debug().Str("session", effective).Strs("keys", keys).Msg("permission covered by standing approval")
		return nil
	}
	hook := s.hook
	s.mu.Unlock()

	if hook != nil {
		switch hook(req) {
		case DecisionAllow:
			logging.Debug().Str("id", req.ID).Str("type", string(req.Type)).Msg("permission allowed by policy hook")
			return nil
		case DecisionDeny:
			return &RejectedError{
				SessionID:    req.SessionID,
				PermissionID: req.ID,
				Type:         req.Type,
				CallID:       req.CallID,
				Metadata:     req.Metadata,
				Message:      "Permission denied by policy: " + req.Title,
			}
		}
	}

	ask := &pendingAsk{req: req, done: make(chan error, 1)}
	s.mu.Lock()
	// An "always" reply may have landed while the hook ran.
	if Covered(keys, s.approvedPatterns(effective)) {
		s.mu.Unlock()
		return nil
	}
	if s.pending[effective] == nil {
		s.pending[effective] = make(map[string]*pendingAsk)
	}
	s.pending[effective][req.ID] = ask
	s.mu.Unlock()

	s.bus.Publish(event.Event{
		Type: event.PermissionUpdated,
		Data: event.PermissionUpdatedData{
			ID:              req.ID,
			SessionID:       req.SessionID,
			SourceSessionID: req.SourceSessionID,
			AgentName:       req.AgentName,
			PermissionType:  string(req.Type),
			Pattern:         keys,
			Title:           req.Title,
			MessageID:       req.MessageID,
			CallID:          req.CallID,
			Metadata:        req.Metadata,
			Time:            req.Time,
		},
	})

	select {
	case <-ctx.Done():
		s.mu.Lock()
		withdrawn := false
		if m := s.pending[effective]; m != nil {
			if _, ok := m[req.ID]; ok {
				delete(m, req.ID)
				withdrawn = true
			}
			if len(m) == 0 {
				delete(s.pending, effective)
			}
		}
		s.mu.Unlock()
		// Only publish if the entry was still ours to withdraw; a
		// concurrent Respond already published its own reply.
		if withdrawn {
			s.publishReplied(req, ReplyWithdrawn)
			logging.Debug().Str("id", req.ID).Str("session", effective).Msg("permission request withdrawn")
		}
		return ctx.Err()
	case err := <-ask.done:
		return err
	}
}

// Respond answers a pending request. Answering an id that is no longer
// pending is a logged no-op: duplicate and late answers are expected once
// approvals cascade. An "always" reply records the request's keys as
// standing approvals and auto-approves every other pending request in the
// session that the grown approval set covers.
func (s *Service) Respond(sessionID, permissionID string, reply Reply) {
	if !reply.Valid() {
		logging.Warn().Str("reply", string(reply)).Str("permission", permissionID).Msg("ignoring unknown permission reply")
		return
	}
	effective := s.hierarchy.Root(sessionID)

	s.mu.Lock()
	m := s.pending[effective]
	ask, ok := m[permissionID]
	if !ok {
		s.mu.Unlock()
		logging.Debug().Str("session", effective).Str("permission", permissionID).Msg("permission response for unknown request")
		return
	}
	delete(m, permissionID)
	if len(m) == 0 {
		delete(s.pending, effective)
	}

	var cascaded []*pendingAsk
	switch reply {
	case ReplyReject:
		ask.done <- rejected(ask.req, "Permission rejected: "+ask.req.Title)
	case ReplyOnce:
		ask.done <- nil
	case ReplyAlways:
		s.approveLocked(effective, ask.req.Keys())
		ask.done <- nil
		cascaded = s.cascadeLocked(effective)
	}
	s.mu.Unlock()

	s.publishReplied(ask.req, reply)
	for _, auto := range cascaded {
		s.publishReplied(auto.req, ReplyAlways)
	}
	if len(cascaded) > 0 {
		logging.Info().Str("session", effective).Int("count", len(cascaded)).
			Msg("cascading approval resolved pending requests")
	}
}

// cascadeLocked resolves every pending request the approval set now
// covers. Auto-approved requests count as "always" replies, so their keys
// join the approval set and the scan repeats until it settles.
func (s *Service) cascadeLocked(sessionID string) []*pendingAsk {
	var resolved []*pendingAsk
	for {
		m := s.pending[sessionID]
		if len(m) == 0 {
			return resolved
		}
		patterns := s.approvedPatterns(sessionID)
		var next *pendingAsk
		for _, ask := range m {
			if Covered(ask.req.Keys(), patterns) {
				next = ask
				break
			}
		}
		if next == nil {
			return resolved
		}
		delete(m, next.req.ID)
		if len(m) == 0 {
			delete(s.pending, sessionID)
		}
		s.approveLocked(sessionID, next.req.Keys())
		next.done <- nil
		resolved = append(resolved, next)
	}
}

// ApprovePattern records a standing approval without an interactive
// request, e.g. from pre-approved patterns in configuration.
func (s *Service) ApprovePattern(sessionID, pattern string) {
	effective := s.hierarchy.Root(sessionID)
	s.mu.Lock()
	s.approveLocked(effective, []string{pattern})
	s.mu.Unlock()
}

// Pending lists the requests awaiting an answer in a session's queue,
// oldest first.
func (s *Service) Pending(sessionID string) []Request {
	effective := s.hierarchy.Root(sessionID)

	s.mu.Lock()
	m := s.pending[effective]
	out := make([]Request, 0, len(m))
	for _, ask := range m {
		out = append(out, ask.req)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Time.Equal(out[j].Time) {
			return out[i].ID < out[j].ID
		}
		return out[i].Time.Before(out[j].Time)
	})
	return out
}

// Approved returns the standing approval patterns for a session, sorted.
func (s *Service) Approved(sessionID string) []string {
	effective := s.hierarchy.Root(sessionID)

	s.mu.Lock()
	patterns := s.approvedPatterns(effective)
	s.mu.Unlock()

	sort.Strings(patterns)
	return patterns
}

// ClearSession drops a session's standing approvals and rejects anything
// still pending in its queue.
func (s *Service) ClearSession(sessionID string) {
	effective := s.hierarchy.Root(sessionID)

	s.mu.Lock()
	delete(s.approved, effective)
	asks := s.pending[effective]
	delete(s.pending, effective)
	s.mu.Unlock()

	for _, ask := range asks {
		ask.done <- rejected(ask.req, "Permission rejected: session closed")
		s.publishReplied(ask.req, ReplyReject)
	}
}

// TeardownAll force-rejects every pending request across all sessions so
// no asker is left blocked at shutdown.
func (s *Service) TeardownAll() {
	s.mu.Lock()
	var asks []*pendingAsk
	for _, m := range s.pending {
		for _, ask := range m {
			asks = append(asks, ask)
		}
	}
	s.pending = make(map[string]map[string]*pendingAsk)
	s.mu.Unlock()

	for _, ask := range asks {
		ask.done <- rejected(ask.req, "Permission rejected: orchestrator shutting down")
		s.publishReplied(ask.req, ReplyReject)
	}
	if len(asks) > 0 {
		logging.Info().Int("count", len(asks)).Msg("force-rejected pending permissions")
	}
}

// approveLocked adds keys to a session's approval set. Caller holds mu.
func (s *Service) approveLocked(sessionID string, keys []string) {
	set := s.approved[sessionID]
	if set == nil {
		set = make(map[string]bool)
		s.approved[sessionID] = set
	}
	for _, k := range keys {
		set[k] = true
	}
}

// approvedPatterns snapshots a session's approval set. Caller holds mu.
func (s *Service) approvedPatterns(sessionID string) []string {
	set := s.approved[sessionID]
	if len(set) == 0 {
		return nil
	}
	patterns := make([]string, 0, len(set))
	for p := range set {
		patterns = append(patterns, p)
	}
	return patterns
}

func (s *Service) publishReplied(req Request, reply Reply) {
	s.bus.Publish(event.Event{
		Type: event.PermissionReplied,
		Data: event.PermissionRepliedData{
			PermissionID:    req.ID,
			SessionID:       req.SessionID,
			SourceSessionID: req.SourceSessionID,
			CallID:          req.CallID,
			Response:        string(reply),
		},
	})
}

func rejected(req Request, message string) *RejectedError {
	return &RejectedError{
		SessionID:    req.SessionID,
		PermissionID: req.ID,
		Type:         req.Type,
		CallID:       req.CallID,
		Metadata:     req.Metadata,
		Message:      message,
	}
}
