package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/agnivade/levenshtein"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/pincersec/pincer/internal/logging"
)

// ToolSpec describes one catalog entry: how a named tool is sandboxed.
type ToolSpec struct {
	Name        string `yaml:"-" json:"name"`
	Image       string `yaml:"image" json:"image,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	// Privileged grants the container elevated capabilities (raw
	// sockets, tun devices).
	Privileged bool `yaml:"privileged,omitempty" json:"privileged,omitempty"`
	// Service marks a long-lived sandbox (VPN tunnel, proxy) that other
	// tools may share a network namespace with.
	Service bool `yaml:"service,omitempty" json:"service,omitempty"`
	// KeepAlive exempts a service from idle eviction.
	KeepAlive bool `yaml:"keep_alive,omitempty" json:"keepAlive,omitempty"`
	// Network is "host" (default) or "none".
	Network string `yaml:"network,omitempty" json:"network,omitempty"`
	// UseService routes the tool's traffic through the named service
	// sandbox's network namespace.
	UseService string `yaml:"use_service,omitempty" json:"useService,omitempty"`
	// Endpoint points at an already-running local MCP service instead of
	// a container image.
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
}

// UnknownToolError is returned for a catalog miss, with a did-you-mean
// suggestion when a close name exists.
type UnknownToolError struct {
	Name       string
	Suggestion string
}

func (e *UnknownToolError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("unknown tool %q (did you mean %q?)", e.Name, e.Suggestion)
	}
	return fmt.Sprintf("unknown tool %q", e.Name)
}

// catalogFile is the YAML document shape.
type catalogFile struct {
	Tools map[string]ToolSpec `yaml:"tools"`
}

// Catalog maps tool names to sandbox specifications, loaded from a YAML
// file and hot-reloadable while an engagement runs.
type Catalog struct {
	path string

	mu    sync.RWMutex
	tools map[string]ToolSpec
}

// LoadCatalog reads the catalog file at path. A missing file yields an
// empty catalog rather than an error so zero-config startup works.
func LoadCatalog(path string) (*Catalog, error) {
	c := &Catalog{
		path:  path,
		tools: make(map[string]ToolSpec),
	}
	if err := c.Reload(); err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, err
	}
	return c, nil
}

// Reload re-reads the catalog file, replacing the table atomically. On
// parse error the previous table stays in effect.
func (c *Catalog) Reload() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return err
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing catalog %s: %w", c.path, err)
	}

	tools := make(map[string]ToolSpec, len(file.Tools))
	for name, spec := range file.Tools {
		if spec.Image == "" && spec.Endpoint == "" {
			return fmt.Errorf("catalog %s: tool %q needs an image or an endpoint", c.path, name)
		}
		spec.Name = name
		tools[name] = spec
	}

	c.mu.Lock()
	c.tools = tools
	c.mu.Unlock()
	return nil
}

// Lookup resolves a tool name. A miss carries the closest known name as
// a suggestion when the edit distance is small enough to be a typo.
func (c *Catalog) Lookup(name string) (ToolSpec, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if spec, ok := c.tools[name]; ok {
		return spec, nil
	}

	miss := &UnknownToolError{Name: name}
	best := len(name)/2 + 1 // beyond this it is not a typo
	for known := range c.tools {
		if d := levenshtein.ComputeDistance(name, known); d < best {
			best = d
			miss.Suggestion = known
		}
	}
	return ToolSpec{}, miss
}

// Tools lists the catalog entries sorted by name.
func (c *Catalog) Tools() []ToolSpec {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]ToolSpec, 0, len(c.tools))
	for _, spec := range c.tools {
		out = append(out, spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of catalog entries.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tools)
}

// Watch reloads the catalog whenever its file is rewritten, until ctx is
// done. Watches the directory rather than the file: editors and config
// management tend to replace the file, which drops a file-level watch.
func (c *Catalog) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(c.path)); err != nil {
		watcher.Close()
		return err
	}

	log := logging.Component("sandbox")
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Name != c.path || !ev.Has(fsnotify.Write|fsnotify.Create) {
					continue
				}
				if err := c.Reload(); err != nil {
					log.Warn().Err(err).Msg("catalog reload failed, keeping previous")
					continue
				}
				log.Info().Int("tools", c.Len()).Msg("catalog reloaded")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Debug().Err(err).Msg("catalog watcher error")
			}
		}
	}()
	return nil
}
