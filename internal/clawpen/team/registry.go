package team

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var teamSchemaJSON string

var teamSchema = jsonschema.MustCompileString("team/schema.json", teamSchemaJSON)

// ErrNotFound is returned when no team with the requested name exists.
var ErrNotFound = errors.New("team: not found")

// Registry holds the loaded team catalog. The catalog is an immutable
// snapshot; Reload builds a fresh one and swaps it in atomically, so readers
// never observe a half-loaded catalog.
type Registry struct {
	root fs.FS

	mu    sync.RWMutex
	teams map[string]*Team
}

// NewRegistry loads the team catalog from the filesystem root. A missing
// root directory yields an empty catalog; malformed team files are an error.
func NewRegistry(root fs.FS) (*Registry, error) {
	r := &Registry{root: root}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads every team file and swaps the catalog. On error the
// previous catalog stays in effect.
func (r *Registry) Reload() error {
	entries, err := fs.ReadDir(r.root, ".")
	if err != nil {
		return fmt.Errorf("listing teams: %w", err)
	}

	teams := make(map[string]*Team)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".yaml")
		t, err := loadTeam(r.root, name)
		if err != nil {
			return err
		}
		teams[name] = t
	}

	r.mu.Lock()
	r.teams = teams
	r.mu.Unlock()
	return nil
}

// Get returns the named team.
func (r *Registry) Get(name string) (*Team, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.teams[name]
	if !ok {
		return nil, fmt.Errorf("team %q: %w", name, ErrNotFound)
	}
	return t, nil
}

// List returns the names of all loaded teams, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.teams))
	for name := range r.teams {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func loadTeam(root fs.FS, name string) (*Team, error) {
	raw, err := fs.ReadFile(root, name+".yaml")
	if err != nil {
		return nil, fmt.Errorf("team %q: %w", name, err)
	}

	// Schema validation first, against the YAML decoded to plain values.
	// The roundtrip through encoding/json normalizes YAML's native types
	// into the shapes the validator expects.
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("team %q: parse: %w", name, err)
	}
	jsonDoc, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("team %q: normalize: %w", name, err)
	}
	var normalized any
	if err := json.Unmarshal(jsonDoc, &normalized); err != nil {
		return nil, fmt.Errorf("team %q: normalize: %w", name, err)
	}
	if err := teamSchema.Validate(normalized); err != nil {
		return nil, fmt.Errorf("team %q: %w", name, err)
	}

	t := &Team{}
	if err := yaml.Unmarshal(raw, t); err != nil {
		return nil, fmt.Errorf("team %q: parse: %w", name, err)
	}
	t.Name = name
	t.normalize()

	if err := checkSemantics(t); err != nil {
		return nil, fmt.Errorf("team %q: %w", name, err)
	}
	return t, nil
}

// checkSemantics enforces the cross-field rules the schema cannot express.
func checkSemantics(t *Team) error {
	seen := make(map[string]bool, len(t.Members))
	for _, m := range t.Members {
		if seen[m.Key] {
			return fmt.Errorf("member %q listed twice", m.Key)
		}
		seen[m.Key] = true
	}
	if !seen[t.DefaultMember] {
		return fmt.Errorf("default_member %q is not a member", t.DefaultMember)
	}
	if t.Mode == ModeLLM || t.Mode == ModeHybrid {
		if t.LLM == nil {
			return fmt.Errorf("mode %q requires an llm section", t.Mode)
		}
	}
	return nil
}
