// Package templates provides loading of agent configuration templates.
//
// Each template is a YAML file in the templates root, named after the
// template (e.g. "coder.yaml"). A template supplies defaults that an agent
// configuration is merged over at creation time; explicit per-agent values
// always win.
package templates

import (
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Template holds the defaults a named template contributes to an agent
// configuration.
type Template struct {
	// Name is the template name, derived from the filename.
	Name string `yaml:"-"`

	Image    string            `yaml:"image"`
	Model    string            `yaml:"model,omitempty"`
	Env      map[string]string `yaml:"env,omitempty"`
	Mounts   []Mount           `yaml:"mounts,omitempty"`
	Ports    []int             `yaml:"ports,omitempty"`
	MemoryMB int               `yaml:"memory_mb,omitempty"`
	CPUCores float64           `yaml:"cpu_cores,omitempty"`
	Tags     []string          `yaml:"tags,omitempty"`
}

// Mount is a template-supplied volume binding.
type Mount struct {
	Source   string `yaml:"source"`
	Target   string `yaml:"target"`
	ReadOnly bool   `yaml:"read_only,omitempty"`
}

// Registry resolves templates from a filesystem root. Loaded templates are
// cached; Reload drops the cache so edited files are picked up.
type Registry struct {
	root fs.FS

	mu    sync.RWMutex
	cache map[string]*Template
}

// NewRegistry creates a Registry backed by the provided filesystem root.
func NewRegistry(root fs.FS) *Registry {
	return &Registry{root: root, cache: make(map[string]*Template)}
}

// List returns the names of all templates in the root, sorted.
func (r *Registry) List() ([]string, error) {
	entries, err := fs.ReadDir(r.root, ".")
	if err != nil {
		return nil, fmt.Errorf("listing templates: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(names)
	return names, nil
}

// Get loads the named template, parsing it on first use.
func (r *Registry) Get(name string) (*Template, error) {
	r.mu.RLock()
	if t, ok := r.cache[name]; ok {
		r.mu.RUnlock()
		return t, nil
	}
	r.mu.RUnlock()

	raw, err := fs.ReadFile(r.root, name+".yaml")
	if err != nil {
		return nil, fmt.Errorf("template %q: %w", name, err)
	}

	t := &Template{}
	dec := yaml.NewDecoder(strings.NewReader(string(raw)))
	dec.KnownFields(true)
	if err := dec.Decode(t); err != nil {
		return nil, fmt.Errorf("template %q: parse: %w", name, err)
	}
	t.Name = name

	r.mu.Lock()
	r.cache[name] = t
	r.mu.Unlock()
	return t, nil
}

// Reload drops the template cache.
func (r *Registry) Reload() {
	r.mu.Lock()
	r.cache = make(map[string]*Template)
	r.mu.Unlock()
}
