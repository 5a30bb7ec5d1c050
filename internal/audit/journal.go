// Package audit keeps an append-only journal of what happened during an
// engagement: which permissions were granted or denied, and how background
// tasks ended. One JSON-lines file per root session. The journal is
// evidence, not state: appends are best-effort and never fail the action
// being recorded.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pincersec/pincer/internal/event"
	"github.com/pincersec/pincer/internal/logging"
)

// Kind classifies a journal record.
type Kind string

const (
	KindPermission Kind = "permission"
	KindTask       Kind = "task"
	KindSandbox    Kind = "sandbox"
)

// Record is one journal line.
type Record struct {
	Time    time.Time      `json:"time"`
	RootID  string         `json:"rootID"`
	Kind    Kind           `json:"kind"`
	Action  string         `json:"action"`
	Subject string         `json:"subject"`
	Detail  map[string]any `json:"detail,omitempty"`
}

// Journal writes engagement records to per-root-session JSON-lines files.
type Journal struct {
	dir string

	mu    sync.Mutex
	files map[string]*os.File // rootID -> open journal file
}

// New creates a journal writing under dir. The directory is created on
// first append, not here, so a never-used journal leaves no trace.
func New(dir string) *Journal {
	return &Journal{
		dir:   dir,
		files: make(map[string]*os.File),
	}
}

// Append writes one record to the root session's journal file. Errors are
// logged at debug level and swallowed: a failed evidence write must not
// fail the permission or task it describes.
func (j *Journal) Append(rec Record) {
	if rec.RootID == "" {
		return
	}
	if rec.Time.IsZero() {
		rec.Time = time.Now()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		logging.Debug().Err(err).Msg("journal marshal failed")
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := j.fileLocked(rec.RootID)
	if err != nil {
		logging.Debug().Err(err).Str("root", rec.RootID).Msg("journal open failed")
		return
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		logging.Debug().Err(err).Str("root", rec.RootID).Msg("journal append failed")
	}
}

// Read returns every record in a root session's journal, oldest first.
// A session with no journal yields an empty slice.
func (j *Journal) Read(rootID string) ([]Record, error) {
	f, err := os.Open(j.path(rootID))
	if err != nil {
		if os.IsNotExist(err) {
			return []Record{}, nil
		}
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			// A torn final line from a crashed process is tolerable.
			logging.Debug().Err(err).Str("root", rootID).Msg("skipping malformed journal line")
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading journal: %w", err)
	}
	return records, nil
}

// Bind subscribes the journal to the bus topics worth keeping evidence of.
// Returns an unsubscribe function.
func (j *Journal) Bind(bus *event.Bus) func() {
	unsubReplied := bus.Subscribe(event.PermissionReplied, func(e event.Event) {
		data, ok := e.Data.(event.PermissionRepliedData)
		if !ok {
			return
		}
		j.Append(Record{
			RootID:  data.SessionID,
			Kind:    KindPermission,
			Action:  data.Response,
			Subject: data.PermissionID,
			Detail: map[string]any{
				"sourceSessionID": data.SourceSessionID,
				"callID":          data.CallID,
			},
		})
	})
	unsubCompleted := bus.Subscribe(event.TaskCompleted, func(e event.Event) {
		data, ok := e.Data.(event.TaskCompletedData)
		if !ok {
			return
		}
		detail := map[string]any{"status": data.Status}
		if data.Error != "" {
			detail["error"] = data.Error
		}
		j.Append(Record{
			RootID:  data.RootID,
			Kind:    KindTask,
			Action:  "finished",
			Subject: data.TaskID,
			Detail:  detail,
		})
	})
	return func() {
		unsubReplied()
		unsubCompleted()
	}
}

// Close closes every open journal file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	var firstErr error
	for root, f := range j.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(j.files, root)
	}
	return firstErr
}

func (j *Journal) path(rootID string) string {
	return filepath.Join(j.dir, sanitize(rootID)+".jsonl")
}

// fileLocked returns the open journal file for a root, opening it in
// append mode on first use. Caller holds mu.
func (j *Journal) fileLocked(rootID string) (*os.File, error) {
	if f, ok := j.files[rootID]; ok {
		return f, nil
	}
	if err := os.MkdirAll(j.dir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(j.path(rootID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	j.files[rootID] = f
	return f, nil
}

// sanitize keeps a session ID safe to use as a file name.
func sanitize(id string) string {
	var b strings.Builder
	for _, r := range id {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}
