// Package validate holds the shared input validators used by the lifecycle
// manager and re-asserted as final guards by the runtime backends.
//
// Everything here exists to block three classes of input before it reaches a
// container engine: command/path injection, path traversal, and resource
// exhaustion via oversized fields. Validators return *Error so callers can
// distinguish caller-fixable input problems from internal failures with
// errors.As / errors.Is.
package validate

import (
	"fmt"
	"path"
	"strings"
)

// Maximum lengths and counts for the various input fields.
const (
	MaxNameLength     = 64
	MaxEnvKeyLength   = 128
	MaxEnvValueLength = 4096
	MaxMountCount     = 32
	MaxEnvVarCount    = 128
	MaxSecretCount    = 64
	MaxTagCount       = 32
	MaxTagLength      = 64
	MaxModelLength    = 256
	MaxPortCount      = 16
	MaxMemoryMB       = 65536
	MaxCPUCores       = 128.0
)

// DeniedMountPrefixes are host paths that may never appear in a mount source,
// directly or via a target inside the container.
var DeniedMountPrefixes = []string{
	"/etc/passwd",
	"/etc/shadow",
	"/root/.ssh",
	"/var/run/docker.sock",
	"/run/docker.sock",
	"/var/run/containerd.sock",
	"/proc",
	"/sys",
}

// Error marks a caller-fixable validation failure.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func fail(field, format string, args ...any) error {
	return &Error{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Name checks an agent or container name against the strict allow-list:
// 1-64 characters, ASCII alphanumerics plus underscore and hyphen, not
// starting with a hyphen.
func Name(name string) error {
	if name == "" {
		return fail("name", "must not be empty")
	}
	if len(name) > MaxNameLength {
		return fail("name", "longer than %d characters", MaxNameLength)
	}
	if name[0] == '-' {
		return fail("name", "must not start with a hyphen")
	}
	for _, c := range name {
		if !isAlnum(c) && c != '_' && c != '-' {
			return fail("name", "only alphanumerics, underscore and hyphen are allowed")
		}
	}
	return nil
}

// EnvKey checks an environment variable key: letter or underscore first,
// then alphanumerics or underscore, at most MaxEnvKeyLength bytes.
func EnvKey(key string) error {
	if key == "" {
		return fail("env key", "must not be empty")
	}
	if len(key) > MaxEnvKeyLength {
		return fail("env key", "longer than %d characters", MaxEnvKeyLength)
	}
	first := rune(key[0])
	if !isAlpha(first) && first != '_' {
		return fail("env key", "must start with a letter or underscore")
	}
	for _, c := range key[1:] {
		if !isAlnum(c) && c != '_' {
			return fail("env key", "only alphanumerics and underscore are allowed")
		}
	}
	return nil
}

// EnvValue checks an environment variable value for size and null bytes.
func EnvValue(value string) error {
	if len(value) > MaxEnvValueLength {
		return fail("env value", "longer than %d characters", MaxEnvValueLength)
	}
	if strings.ContainsRune(value, 0) {
		return fail("env value", "must not contain null bytes")
	}
	return nil
}

// Tag checks a free-form tag: 1-64 characters of alphanumerics, hyphen,
// underscore or slash.
func Tag(tag string) error {
	if tag == "" {
		return fail("tag", "must not be empty")
	}
	if len(tag) > MaxTagLength {
		return fail("tag", "longer than %d characters", MaxTagLength)
	}
	for _, c := range tag {
		if !isAlnum(c) && c != '-' && c != '_' && c != '/' {
			return fail("tag", "only alphanumerics, hyphen, underscore and slash are allowed")
		}
	}
	return nil
}

// SecretName checks a secret reference name. Secret names must be
// filesystem-safe and free of path separators.
func SecretName(name string) error {
	if name == "" {
		return fail("secret name", "must not be empty")
	}
	if len(name) > MaxNameLength {
		return fail("secret name", "longer than %d characters", MaxNameLength)
	}
	if strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return fail("secret name", "must not contain path separators or '..'")
	}
	for _, c := range name {
		if !isAlnum(c) && c != '_' && c != '-' && c != '.' {
			return fail("secret name", "only alphanumerics, underscore, hyphen and dot are allowed")
		}
	}
	return nil
}

// Model checks an LLM model identifier.
func Model(model string) error {
	if model == "" {
		return fail("model", "must not be empty")
	}
	if len(model) > MaxModelLength {
		return fail("model", "longer than %d characters", MaxModelLength)
	}
	for _, c := range model {
		if !isAlnum(c) && !strings.ContainsRune("-_.:/", c) {
			return fail("model", "contains disallowed characters")
		}
	}
	return nil
}

// MountSource checks a volume mount source path: absolute, no traversal, no
// null bytes, resolving under one of allowedBases and never under a denied
// prefix.
func MountSource(source string, allowedBases []string) error {
	if source == "" {
		return fail("mount source", "must not be empty")
	}
	if strings.ContainsRune(source, 0) {
		return fail("mount source", "must not contain null bytes")
	}
	if strings.Contains(source, "..") {
		return fail("mount source", "path traversal is not allowed")
	}
	if !strings.HasPrefix(source, "/") {
		return fail("mount source", "must be an absolute path")
	}
	clean := path.Clean(source)
	for _, denied := range DeniedMountPrefixes {
		if clean == denied || strings.HasPrefix(clean, denied+"/") {
			return fail("mount source", "path %q is denied", clean)
		}
	}
	for _, base := range allowedBases {
		base = path.Clean(base)
		if clean == base || strings.HasPrefix(clean, base+"/") {
			return nil
		}
	}
	return fail("mount source", "must be under an allowed base directory")
}

// MountTarget checks the path a mount is bound to inside the container.
func MountTarget(target string) error {
	if target == "" {
		return fail("mount target", "must not be empty")
	}
	if !strings.HasPrefix(target, "/") {
		return fail("mount target", "must be an absolute path")
	}
	if strings.Contains(target, "..") {
		return fail("mount target", "path traversal is not allowed")
	}
	if strings.ContainsRune(target, 0) {
		return fail("mount target", "must not contain null bytes")
	}
	clean := path.Clean(target)
	for _, denied := range DeniedMountPrefixes {
		if clean == denied || strings.HasPrefix(clean, denied+"/") {
			return fail("mount target", "path %q is denied", clean)
		}
	}
	return nil
}

// Port checks an exposed container port number.
func Port(port int) error {
	if port < 1 || port > 65535 {
		return fail("port", "must be between 1 and 65535")
	}
	return nil
}

// MemoryMB checks the container memory limit.
func MemoryMB(mb int) error {
	if mb <= 0 {
		return fail("memory_mb", "must be greater than 0")
	}
	if mb > MaxMemoryMB {
		return fail("memory_mb", "must not exceed %d MB", MaxMemoryMB)
	}
	return nil
}

// CPUCores checks the container CPU allocation.
func CPUCores(cores float64) error {
	if cores <= 0 {
		return fail("cpu_cores", "must be greater than 0")
	}
	if cores > MaxCPUCores {
		return fail("cpu_cores", "must not exceed %.0f", MaxCPUCores)
	}
	return nil
}

func isAlpha(c rune) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isAlnum(c rune) bool {
	return isAlpha(c) || (c >= '0' && c <= '9')
}
