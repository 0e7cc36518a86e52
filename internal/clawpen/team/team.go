// Package team loads and serves the team catalog.
//
// Each team is a YAML file in the teams root, named after the team. Files
// are validated against an embedded JSON schema before any semantic checks
// run, so malformed catalogs fail with precise field-level errors.
package team

import (
	"strings"
)

// Classification modes a team may configure.
const (
	ModeKeyword = "keyword"
	ModeLLM     = "llm"
	ModeHybrid  = "hybrid"
)

// Team is a named group of agents sharing a routing policy.
type Team struct {
	// Name is the team name, derived from the filename.
	Name string `yaml:"-"`

	// Mode selects the classification strategy: keyword, llm or hybrid.
	Mode string `yaml:"mode"`

	// DefaultMember is the member key that receives messages no strategy
	// could place. It must name one of Members.
	DefaultMember string `yaml:"default_member"`

	// LLM configures the model-backed classifier for llm and hybrid modes.
	LLM *LLMConfig `yaml:"llm,omitempty"`

	// Members lists the team's agents in declaration order. Order is
	// significant: keyword ties resolve to the earliest member.
	Members []Member `yaml:"members"`
}

// Member is one agent in a team.
type Member struct {
	// Key is the member key routing decisions refer to. Defaults to the
	// agent name when omitted.
	Key string `yaml:"key,omitempty"`

	// Agent is the agent name the member routes to.
	Agent string `yaml:"agent"`

	// Keywords trigger keyword classification. Matching is case-insensitive
	// substring matching against the message text.
	Keywords []string `yaml:"keywords,omitempty"`

	// Description is free text handed to the LLM classifier so it can pick
	// the right member.
	Description string `yaml:"description,omitempty"`
}

// LLMConfig holds the model-backed classifier settings for a team.
type LLMConfig struct {
	Model     string `yaml:"model"`
	TimeoutMS int    `yaml:"timeout_ms,omitempty"`
}

// MemberFor returns the member with the given key, or nil.
func (t *Team) MemberFor(key string) *Member {
	for i := range t.Members {
		if t.Members[i].Key == key {
			return &t.Members[i]
		}
	}
	return nil
}

// normalize fills in defaulted member keys and lowercases keywords so
// matching never depends on the catalog author's casing.
func (t *Team) normalize() {
	for i := range t.Members {
		if t.Members[i].Key == "" {
			t.Members[i].Key = t.Members[i].Agent
		}
		for j, kw := range t.Members[i].Keywords {
			t.Members[i].Keywords[j] = strings.ToLower(strings.TrimSpace(kw))
		}
	}
}
