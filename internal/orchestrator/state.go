// Package orchestrator wires the engagement components into one
// constructed state object with a defined teardown, instead of ambient
// package globals. Servers and CLIs own a State; tests build isolated
// ones.
package orchestrator

import (
	"github.com/pincersec/pincer/internal/audit"
	"github.com/pincersec/pincer/internal/config"
	"github.com/pincersec/pincer/internal/event"
	"github.com/pincersec/pincer/internal/logging"
	"github.com/pincersec/pincer/internal/permission"
	"github.com/pincersec/pincer/internal/sandbox"
	"github.com/pincersec/pincer/internal/session"
	"github.com/pincersec/pincer/internal/task"
)

// State owns every orchestration component for one process.
type State struct {
	Config      *config.Config
	Bus         *event.Bus
	Hierarchy   *session.Hierarchy
	Permissions *permission.Service
	Sandboxes   *sandbox.Manager
	Tasks       *task.Tracker
	Journal     *audit.Journal

	unbinds []func()
}

// New constructs a fully wired state: the task tracker and audit journal
// are subscribed to the bus, the tool catalog is loaded, and any
// configured standing approvals are installed as a policy hook.
func New(cfg *config.Config) (*State, error) {
	bus := event.NewBus()

	catalog, err := sandbox.LoadCatalog(cfg.Catalog)
	if err != nil {
		bus.Close()
		return nil, err
	}

	hierarchy := session.NewHierarchy()
	perms := permission.NewService(bus, hierarchy)
	if len(cfg.Approvals) > 0 {
		// Patterns from config are pre-approved for every session.
		approvals := append([]string(nil), cfg.Approvals...)
		perms.SetDecisionHook(func(req permission.Request) permission.Decision {
			if permission.Covered(req.Keys(), approvals) {
				return permission.DecisionAllow
			}
			return permission.DecisionAsk
		})
	}

	tasks := task.NewTracker(bus)
	journal := audit.New(cfg.Journal)

	s := &State{
		Config:      cfg,
		Bus:         bus,
		Hierarchy:   hierarchy,
		Permissions: perms,
		Sandboxes:   sandbox.NewManager(cfg, catalog, bus),
		Tasks:       tasks,
		Journal:     journal,
	}
	s.unbinds = append(s.unbinds, tasks.Bind(), journal.Bind(bus))
	return s, nil
}

// Teardown shuts the engagement down: pending permissions are
// force-rejected so no caller stays blocked, sandboxes are stopped, and
// the bus and journal are closed. Safe to call once at process exit.
func (s *State) Teardown() {
	s.Permissions.TeardownAll()
	s.Sandboxes.StopAll()
	s.Hierarchy.Clear()

	for _, unbind := range s.unbinds {
		unbind()
	}
	s.unbinds = nil

	if err := s.Journal.Close(); err != nil {
		logging.Debug().Err(err).Msg("journal close error")
	}
	if err := s.Bus.Close(); err != nil {
		logging.Debug().Err(err).Msg("bus close error")
	}
}
