package lifecycle

import (
	"github.com/clawpen/clawpen/internal/clawpen/templates"
	"github.com/clawpen/clawpen/internal/clawpen/validate"
)

// Hardcoded fallback defaults, used when neither override nor template sets
// a field.
const (
	defaultImage    = "clawpen/agent:latest"
	defaultProvider = "openai"
	defaultModel    = "gpt-4o-mini"
	defaultMemoryMB = 2048
	defaultCPUCores = 1.0
)

// mergeConfig builds an agent config from caller overrides and template
// defaults. Per field: override wins, an unset override falls back to the
// template, an unset template falls back to the hardcoded default.
func mergeConfig(tmpl *templates.Template, overrides Config) Config {
	cfg := overrides

	if cfg.Image == "" && tmpl != nil {
		cfg.Image = tmpl.Image
	}
	if cfg.Image == "" {
		cfg.Image = defaultImage
	}

	if cfg.Provider == "" {
		cfg.Provider = defaultProvider
	}

	if cfg.Model == "" && tmpl != nil {
		cfg.Model = tmpl.Model
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}

	if cfg.MemoryMB == 0 && tmpl != nil {
		cfg.MemoryMB = tmpl.MemoryMB
	}
	if cfg.MemoryMB == 0 {
		cfg.MemoryMB = defaultMemoryMB
	}

	if cfg.CPUCores == 0 && tmpl != nil {
		cfg.CPUCores = tmpl.CPUCores
	}
	if cfg.CPUCores == 0 {
		cfg.CPUCores = defaultCPUCores
	}

	if cfg.Env == nil && tmpl != nil && tmpl.Env != nil {
		env := make(map[string]string, len(tmpl.Env))
		for k, v := range tmpl.Env {
			env[k] = v
		}
		cfg.Env = env
	}

	if cfg.Mounts == nil && tmpl != nil {
		for _, m := range tmpl.Mounts {
			cfg.Mounts = append(cfg.Mounts, Mount{Source: m.Source, Target: m.Target, ReadOnly: m.ReadOnly})
		}
	}

	if cfg.Ports == nil && tmpl != nil {
		cfg.Ports = append(cfg.Ports, tmpl.Ports...)
	}

	if cfg.Tags == nil && tmpl != nil {
		cfg.Tags = append(cfg.Tags, tmpl.Tags...)
	}

	return cfg
}

// mergePatch applies a partial config onto an existing one. Non-zero scalar
// fields replace; non-nil maps and slices replace entirely.
func mergePatch(base, patch Config) Config {
	cfg := base
	if patch.Image != "" {
		cfg.Image = patch.Image
	}
	if patch.Provider != "" {
		cfg.Provider = patch.Provider
	}
	if patch.Model != "" {
		cfg.Model = patch.Model
	}
	if patch.MemoryMB != 0 {
		cfg.MemoryMB = patch.MemoryMB
	}
	if patch.CPUCores != 0 {
		cfg.CPUCores = patch.CPUCores
	}
	if patch.Env != nil {
		cfg.Env = patch.Env
	}
	if patch.Mounts != nil {
		cfg.Mounts = patch.Mounts
	}
	if patch.Secrets != nil {
		cfg.Secrets = patch.Secrets
	}
	if patch.Ports != nil {
		cfg.Ports = patch.Ports
	}
	if patch.Tags != nil {
		cfg.Tags = patch.Tags
	}
	if patch.MeshNetwork {
		cfg.MeshNetwork = true
	}
	return cfg
}

// validateConfig runs the shared validators over every field of a merged
// config. allowedMountBases bounds volume mount sources.
func validateConfig(cfg Config, allowedMountBases []string) error {
	if err := validate.Model(cfg.Model); err != nil {
		return err
	}
	if err := validate.MemoryMB(cfg.MemoryMB); err != nil {
		return err
	}
	if err := validate.CPUCores(cfg.CPUCores); err != nil {
		return err
	}
	if len(cfg.Env) > validate.MaxEnvVarCount {
		return &validate.Error{Field: "env", Reason: "too many environment variables"}
	}
	for k, v := range cfg.Env {
		if err := validate.EnvKey(k); err != nil {
			return err
		}
		if err := validate.EnvValue(v); err != nil {
			return err
		}
	}
	if len(cfg.Mounts) > validate.MaxMountCount {
		return &validate.Error{Field: "mounts", Reason: "too many mounts"}
	}
	for _, m := range cfg.Mounts {
		if err := validate.MountSource(m.Source, allowedMountBases); err != nil {
			return err
		}
		if err := validate.MountTarget(m.Target); err != nil {
			return err
		}
	}
	if len(cfg.Secrets) > validate.MaxSecretCount {
		return &validate.Error{Field: "secrets", Reason: "too many secrets"}
	}
	for _, s := range cfg.Secrets {
		if err := validate.SecretName(s); err != nil {
			return err
		}
	}
	if len(cfg.Ports) > validate.MaxPortCount {
		return &validate.Error{Field: "ports", Reason: "too many ports"}
	}
	for _, p := range cfg.Ports {
		if err := validate.Port(p); err != nil {
			return err
		}
	}
	if len(cfg.Tags) > validate.MaxTagCount {
		return &validate.Error{Field: "tags", Reason: "too many tags"}
	}
	for _, t := range cfg.Tags {
		if err := validate.Tag(t); err != nil {
			return err
		}
	}
	return nil
}
