package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pincersec/pincer/internal/event"
	"github.com/pincersec/pincer/internal/logging"
)

// StreamEvent is the wire shape of one SSE payload.
type StreamEvent struct {
	Type       event.EventType `json:"type"`
	Properties any             `json:"properties"`
}

// SSEHeartbeatInterval is the interval for SSE heartbeats.
const SSEHeartbeatInterval = 30 * time.Second

// sseWriter wraps http.ResponseWriter for SSE.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}
	return &sseWriter{w: w, flusher: flusher, rc: http.NewResponseController(w)}, nil
}

// writeEvent writes one SSE event and flushes it out.
func (s *sseWriter) writeEvent(eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", eventType, jsonData); err != nil {
		return err
	}

	// ResponseController flushes through middleware wrappers; fall back
	// to the plain flusher when it cannot.
	if flushErr := s.rc.Flush(); flushErr != nil {
		s.flusher.Flush()
	}
	return nil
}

func (s *sseWriter) writeHeartbeat() {
	fmt.Fprintf(s.w, ": heartbeat\n\n")
	s.flusher.Flush()
}

// events handles GET /event: the live engagement stream. An optional
// ?sessionID= filters to one approval queue; the filter resolves through
// the hierarchy, so a root's stream includes its sub-agents' events.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionID")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	w.WriteHeader(http.StatusOK)
	sse.flusher.Flush()

	if err := sse.writeEvent("message", StreamEvent{Type: "server.connected", Properties: map[string]any{}}); err != nil {
		return
	}

	// Small buffer keeps latency low; a stalled client drops events
	// rather than blocking the bus.
	events := make(chan event.Event, 16)
	unsub := s.state.Bus.SubscribeAll(func(e event.Event) {
		if sessionID != "" && !s.eventBelongsToSession(e, sessionID) {
			return
		}
		select {
		case events <- e:
		default:
			logging.Warn().
				Str("eventType", string(e.Type)).
				Msg("SSE event dropped: channel full")
		}
	})
	defer unsub()

	ticker := time.NewTicker(SSEHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case e := <-events:
			if err := sse.writeEvent("message", StreamEvent{Type: e.Type, Properties: e.Data}); err != nil {
				return
			}
		case <-ticker.C:
			sse.writeHeartbeat()
		}
	}
}

// eventBelongsToSession checks whether an event belongs to a session's
// effective approval queue.
func (s *Server) eventBelongsToSession(e event.Event, sessionID string) bool {
	root := s.state.Hierarchy.Root(sessionID)

	switch data := e.Data.(type) {
	case event.PermissionUpdatedData:
		return data.SessionID == root
	case event.PermissionRepliedData:
		return data.SessionID == root
	case event.TaskStartedData:
		return data.RootID == root
	case event.TaskUpdatedData:
		return data.RootID == root
	case event.TaskCompletedData:
		return data.RootID == root
	case event.TaskApprovalRequiredData:
		return data.RootID == root
	case event.SandboxStartedData, event.SandboxStoppedData:
		// Pool events are engagement-global
		return true
	}
	return false
}
