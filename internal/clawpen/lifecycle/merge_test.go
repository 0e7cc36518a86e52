package lifecycle

import (
	"testing"

	"github.com/clawpen/clawpen/internal/clawpen/templates"
)

func TestMergeConfig_Precedence(t *testing.T) {
	tmpl := &templates.Template{
		Image:    "clawpen/coder:1",
		Model:    "gpt-4o",
		MemoryMB: 1024,
		Env:      map[string]string{"FROM_TEMPLATE": "yes"},
	}

	// Override wins over template.
	cfg := mergeConfig(tmpl, Config{Image: "custom:latest", MemoryMB: 4096})
	if cfg.Image != "custom:latest" {
		t.Errorf("Image: got %q", cfg.Image)
	}
	if cfg.MemoryMB != 4096 {
		t.Errorf("MemoryMB: got %d", cfg.MemoryMB)
	}
	// Template fills unset fields.
	if cfg.Model != "gpt-4o" {
		t.Errorf("Model: got %q", cfg.Model)
	}
	if cfg.Env["FROM_TEMPLATE"] != "yes" {
		t.Errorf("Env: got %v", cfg.Env)
	}
	// Hardcoded defaults fill the rest.
	if cfg.CPUCores != defaultCPUCores {
		t.Errorf("CPUCores: got %v", cfg.CPUCores)
	}
}

func TestMergeConfig_NoTemplate(t *testing.T) {
	cfg := mergeConfig(nil, Config{})
	if cfg.Image != defaultImage {
		t.Errorf("Image: got %q, want %q", cfg.Image, defaultImage)
	}
	if cfg.Provider != defaultProvider {
		t.Errorf("Provider: got %q, want %q", cfg.Provider, defaultProvider)
	}
	if cfg.Model != defaultModel {
		t.Errorf("Model: got %q, want %q", cfg.Model, defaultModel)
	}
	if cfg.MemoryMB != defaultMemoryMB {
		t.Errorf("MemoryMB: got %d, want %d", cfg.MemoryMB, defaultMemoryMB)
	}
}

func TestMergeConfig_TemplateEnvCopied(t *testing.T) {
	tmpl := &templates.Template{Env: map[string]string{"K": "v"}}
	cfg := mergeConfig(tmpl, Config{})
	cfg.Env["K"] = "mutated"
	if tmpl.Env["K"] != "v" {
		t.Error("template env mutated through merged config")
	}
}

func TestMergePatch(t *testing.T) {
	base := Config{
		Image:    "img:1",
		Model:    "m1",
		MemoryMB: 1024,
		Env:      map[string]string{"A": "1"},
		Ports:    []int{8080},
	}

	cfg := mergePatch(base, Config{Model: "m2", Env: map[string]string{"B": "2"}})
	if cfg.Model != "m2" {
		t.Errorf("Model: got %q", cfg.Model)
	}
	if cfg.Image != "img:1" {
		t.Errorf("Image: got %q", cfg.Image)
	}
	// Non-nil maps replace entirely.
	if _, ok := cfg.Env["A"]; ok {
		t.Error("patch env should replace, not merge")
	}
	if cfg.Env["B"] != "2" {
		t.Errorf("Env: got %v", cfg.Env)
	}
	// Untouched slices survive.
	if len(cfg.Ports) != 1 || cfg.Ports[0] != 8080 {
		t.Errorf("Ports: got %v", cfg.Ports)
	}
}

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to State }{
		{StateCreated, StateContainerPending},
		{StateContainerPending, StateRunning},
		{StateRunning, StateStopping},
		{StateStopping, StateStopped},
		{StateStopped, StateContainerPending},
		{StateStopped, StateRemoving},
		{StateRemoving, StateDeleted},
		{StateFailed, StateContainerPending},
		{StateFailed, StateRemoving},
		{StateRunning, StateFailed},
		{StateContainerPending, StateFailed},
		{StateCreated, StateFailed},
	}
	for _, tc := range allowed {
		if !canTransition(tc.from, tc.to) {
			t.Errorf("canTransition(%s, %s) = false, want true", tc.from, tc.to)
		}
	}

	denied := []struct{ from, to State }{
		{StateCreated, StateRunning},
		{StateRunning, StateStopped},
		{StateStopped, StateRunning},
		{StateDeleted, StateCreated},
		{StateDeleted, StateFailed},
		{StateRunning, StateRemoving},
	}
	for _, tc := range denied {
		if canTransition(tc.from, tc.to) {
			t.Errorf("canTransition(%s, %s) = true, want false", tc.from, tc.to)
		}
	}
}

func TestStartable(t *testing.T) {
	for _, s := range []State{StateCreated, StateStopped, StateFailed} {
		if !startable(s) {
			t.Errorf("startable(%s) = false, want true", s)
		}
	}
	for _, s := range []State{StateRunning, StateStopping, StateRemoving, StateDeleted, StateContainerPending} {
		if startable(s) {
			t.Errorf("startable(%s) = true, want false", s)
		}
	}
}
