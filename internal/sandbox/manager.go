package sandbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/pincersec/pincer/internal/config"
	"github.com/pincersec/pincer/internal/event"
	"github.com/pincersec/pincer/internal/logging"
)

// Options tune how one sandbox is launched.
type Options struct {
	// Privileged grants elevated capabilities.
	Privileged bool
	// Service marks the sandbox long-lived and joinable.
	Service bool
	// KeepAlive exempts the sandbox from idle eviction.
	KeepAlive bool
	// UseService joins the named pool member's network namespace
	// instead of the host network.
	UseService string
	// Network is "host" (default) or "none"; ignored when UseService
	// is set.
	Network string
	// Endpoint connects to a local MCP service instead of launching a
	// container.
	Endpoint string
}

// container is one pool entry. Exactly one exists per tool name.
type container struct {
	tool      string
	image     string
	client    Client
	startedAt time.Time
	lastUsed  time.Time
	service   bool
	keepAlive bool
}

// ContainerStatus is the external view of one pool entry.
type ContainerStatus struct {
	Tool      string    `json:"tool"`
	Image     string    `json:"image"`
	Service   bool      `json:"service"`
	StartedAt time.Time `json:"startedAt"`
	LastUsed  time.Time `json:"lastUsed"`
}

// Manager owns the sandbox pool: it spawns, reuses, retries, and idly
// evicts tool containers.
type Manager struct {
	cfg      config.SandboxConfig
	catalog  *Catalog
	bus      *event.Bus
	launcher launcher
	log      zerolog.Logger

	mu        sync.Mutex
	pool      map[string]*container
	toolLocks map[string]*sync.Mutex

	sweepStop chan struct{} // non-nil while the sweeper runs
}

// NewManager creates a manager launching real containers per cfg.
func NewManager(cfg *config.Config, catalog *Catalog, bus *event.Bus) *Manager {
	return newManager(cfg.Sandbox, catalog, bus, newRuntimeLauncher(cfg.Runtime))
}

func newManager(cfg config.SandboxConfig, catalog *Catalog, bus *event.Bus, l launcher) *Manager {
	return &Manager{
		cfg:       cfg,
		catalog:   catalog,
		bus:       bus,
		launcher:  l,
		log:       logging.Component("sandbox"),
		pool:      make(map[string]*container),
		toolLocks: make(map[string]*sync.Mutex),
	}
}

// GetClient returns the RPC client for toolName, starting a sandbox when
// none is running. The check-and-create is atomic per tool name, so
// concurrent callers for the same tool share a single container.
func (m *Manager) GetClient(ctx context.Context, toolName, image string, opts Options) (Client, error) {
	lock := m.lockFor(toolName)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	if c, ok := m.pool[toolName]; ok {
		c.lastUsed = time.Now()
		m.mu.Unlock()
		return c.client, nil
	}
	m.mu.Unlock()

	if err := m.checkImageAllowed(image, opts.Endpoint); err != nil {
		return nil, err
	}

	spec := launchSpec{
		Tool:          toolName,
		Image:         image,
		Privileged:    opts.Privileged,
		ContainerName: "pincer-" + toolName,
		Endpoint:      opts.Endpoint,
	}
	switch {
	case opts.UseService != "":
		// Joining requires the service to be in the pool already.
		m.mu.Lock()
		svc, ok := m.pool[opts.UseService]
		m.mu.Unlock()
		if !ok || !svc.service {
			return nil, fmt.Errorf("service sandbox %q is not running; start it before attaching %s to its network", opts.UseService, toolName)
		}
		spec.Network = "container:pincer-" + opts.UseService
	case opts.Network != "":
		spec.Network = opts.Network
	}

	client, err := m.launcher.Launch(ctx, spec)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	m.mu.Lock()
	m.pool[toolName] = &container{
		tool:      toolName,
		image:     image,
		client:    client,
		startedAt: now,
		lastUsed:  now,
		service:   opts.Service,
		keepAlive: opts.KeepAlive,
	}
	m.ensureSweeperLocked()
	m.mu.Unlock()

	m.log.Info().Str("tool", toolName).Str("image", image).Msg("sandbox started")
	m.bus.Publish(event.Event{
		Type: event.SandboxStarted,
		Data: event.SandboxStartedData{Tool: toolName, Image: image, Service: opts.Service},
	})
	return client, nil
}

// CallTool runs one tool method inside its sandbox with bounded retries.
// Retryable connection failures force-stop the container so the next
// attempt gets a fresh one; delays grow exponentially up to the cap.
func (m *Manager) CallTool(ctx context.Context, toolName, image, method string, args map[string]any, opts Options) (string, error) {
	maxAttempts := m.cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	bo := m.newRetryBackoff()

	var lastErr *CallError
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := m.callOnce(ctx, toolName, image, method, args, opts)
		if err == nil {
			return result, nil
		}

		lastErr = classify(toolName, err)
		if !lastErr.Retryable {
			return "", lastErr
		}
		if attempt == maxAttempts {
			break
		}

		// A wedged container would hand the retry the same dead
		// connection; a fresh one is the point of retrying.
		m.StopContainer(toolName)

		delay := bo.NextBackOff()
		m.log.Warn().Err(err).
			Str("tool", toolName).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("sandbox call failed, retrying")

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
	}

	return "", fmt.Errorf("sandbox %s: %d attempts exhausted: %w", toolName, maxAttempts, lastErr)
}

// CallToolByName resolves toolName through the catalog and calls it.
func (m *Manager) CallToolByName(ctx context.Context, toolName, method string, args map[string]any) (string, error) {
	spec, err := m.catalog.Lookup(toolName)
	if err != nil {
		return "", err
	}
	return m.CallTool(ctx, toolName, spec.Image, method, args, Options{
		Privileged: spec.Privileged,
		Service:    spec.Service,
		KeepAlive:  spec.KeepAlive,
		UseService: spec.UseService,
		Network:    spec.Network,
		Endpoint:   spec.Endpoint,
	})
}

// callOnce is one bounded attempt: get-or-start the sandbox, then one
// RPC round trip.
func (m *Manager) callOnce(ctx context.Context, toolName, image, method string, args map[string]any, opts Options) (string, error) {
	client, err := m.GetClient(ctx, toolName, image, opts)
	if err != nil {
		return "", err
	}

	callCtx := ctx
	if timeout := m.cfg.CallTimeout.Std(); timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	result, err := client.CallTool(callCtx, method, args)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	if c, ok := m.pool[toolName]; ok {
		c.lastUsed = time.Now()
	}
	m.mu.Unlock()
	return result, nil
}

// StopContainer closes the tool's client and removes the pool entry.
// Close errors are debug-logged and swallowed; stopping is best-effort.
func (m *Manager) StopContainer(toolName string) {
	m.stop(toolName, "requested")
}

func (m *Manager) stop(toolName, reason string) {
	m.mu.Lock()
	c, ok := m.pool[toolName]
	if ok {
		delete(m.pool, toolName)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	if err := c.client.Close(); err != nil {
		m.log.Debug().Err(err).Str("tool", toolName).Msg("sandbox close error")
	}
	m.log.Info().Str("tool", toolName).Str("reason", reason).Msg("sandbox stopped")
	m.bus.Publish(event.Event{
		Type: event.SandboxStopped,
		Data: event.SandboxStoppedData{Tool: toolName, Reason: reason},
	})
}

// StopAll tears down every sandbox. Teardown path.
func (m *Manager) StopAll() {
	m.mu.Lock()
	names := make([]string, 0, len(m.pool))
	for name := range m.pool {
		names = append(names, name)
	}
	m.mu.Unlock()

	for _, name := range names {
		m.stop(name, "shutdown")
	}
}

// Status lists the running sandboxes.
func (m *Manager) Status() []ContainerStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ContainerStatus, 0, len(m.pool))
	for _, c := range m.pool {
		out = append(out, ContainerStatus{
			Tool:      c.tool,
			Image:     c.image,
			Service:   c.service,
			StartedAt: c.startedAt,
			LastUsed:  c.lastUsed,
		})
	}
	return out
}

// Catalog exposes the manager's tool catalog.
func (m *Manager) Catalog() *Catalog {
	return m.catalog
}

// checkImageAllowed enforces the configured image allowlist. Endpoints
// launch nothing, so they bypass the image check.
func (m *Manager) checkImageAllowed(image, endpoint string) error {
	if endpoint != "" || len(m.cfg.AllowedImages) == 0 {
		return nil
	}
	for _, pattern := range m.cfg.AllowedImages {
		if ok, _ := doublestar.Match(pattern, image); ok {
			return nil
		}
	}
	return fmt.Errorf("image %q is not in the allowed image list", image)
}

// lockFor returns the per-tool-name lock that serializes launches.
func (m *Manager) lockFor(toolName string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.toolLocks[toolName]
	if !ok {
		lock = &sync.Mutex{}
		m.toolLocks[toolName] = lock
	}
	return lock
}

// newRetryBackoff builds the retry delay sequence: attempt n waits
// min(initial * 2^(n-1), max). No jitter, so behavior is exact and
// testable.
func (m *Manager) newRetryBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.cfg.RetryInitialInterval.Std()
	if b.InitialInterval <= 0 {
		b.InitialInterval = time.Second
	}
	b.MaxInterval = m.cfg.RetryMaxInterval.Std()
	if b.MaxInterval <= 0 {
		b.MaxInterval = 30 * time.Second
	}
	b.Multiplier = 2.0
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// ensureSweeperLocked starts the idle sweeper if it is not running.
// Caller holds mu.
func (m *Manager) ensureSweeperLocked() {
	if m.sweepStop != nil {
		return
	}
	interval := m.cfg.SweepInterval.Std()
	if interval <= 0 {
		interval = time.Minute
	}
	stop := make(chan struct{})
	m.sweepStop = stop
	go m.sweepLoop(interval, stop)
}

func (m *Manager) sweepLoop(interval time.Duration, stop chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if m.sweepOnce(time.Now()) == 0 {
				// Pool drained; the sweeper dies with it and is
				// restarted by the next insert.
				return
			}
		}
	}
}

// sweepOnce stops every container idle past the threshold and returns
// how many containers remain. Extracted so tests can drive it with a
// synthetic clock.
func (m *Manager) sweepOnce(now time.Time) int {
	idleTimeout := m.cfg.IdleTimeout.Std()
	if idleTimeout <= 0 {
		idleTimeout = 10 * time.Minute
	}

	m.mu.Lock()
	var stale []string
	for name, c := range m.pool {
		if c.keepAlive {
			continue
		}
		if now.Sub(c.lastUsed) > idleTimeout {
			stale = append(stale, name)
		}
	}
	m.mu.Unlock()

	for _, name := range stale {
		m.stop(name, "idle")
	}

	m.mu.Lock()
	remaining := len(m.pool)
	if remaining == 0 && m.sweepStop != nil {
		close(m.sweepStop)
		m.sweepStop = nil
	}
	m.mu.Unlock()
	return remaining
}
