// Package sanitize strips sensitive fragments from error text before it
// crosses the process boundary.
//
// # Threat model
//
// Backend errors routinely embed absolute filesystem paths, full-length hex
// container identifiers, and engine IP addresses. None of those may reach an
// API caller: paths reveal host layout, container IDs are capabilities for
// anyone with socket access, and addresses map the internal network.
// Sanitization is pattern-based and best-effort; it is not a substitute for
// keeping secrets out of error construction in the first place.
package sanitize

import (
	"regexp"
	"strings"
)

const (
	pathMarker = "[PATH]"
	idMarker   = "[ID]"
	ipMarker   = "[IP]"

	// MaxMessageLength bounds sanitized output so an attacker cannot use a
	// backend error as an amplification channel.
	MaxMessageLength = 500
)

var (
	// absPathPattern matches absolute Unix paths with at least one
	// separator beyond the root, stopping at whitespace or quoting.
	absPathPattern = regexp.MustCompile(`/[A-Za-z0-9._-]+(?:/[A-Za-z0-9._-]+)+`)

	// containerIDPattern matches long lowercase hex runs (Docker uses 64
	// chars; 32 or more is treated as an identifier).
	containerIDPattern = regexp.MustCompile(`\b[a-f0-9]{32,64}\b`)

	// ipPattern matches dotted IPv4 addresses.
	ipPattern = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
)

// Error returns a copy of msg with absolute paths, container identifiers and
// IPv4 addresses replaced by redaction markers, truncated to
// MaxMessageLength.
func Error(msg string) string {
	s := containerIDPattern.ReplaceAllString(msg, idMarker)
	s = ipPattern.ReplaceAllString(s, ipMarker)
	s = absPathPattern.ReplaceAllString(s, pathMarker)
	if len(s) > MaxMessageLength {
		s = s[:MaxMessageLength] + "..."
	}
	return s
}

// String replaces every occurrence of each sensitive value in s with [ID].
// Values shorter than 4 characters are skipped to avoid spurious redaction
// of common substrings.
func String(s string, sensitiveValues ...string) string {
	for _, v := range sensitiveValues {
		if len(v) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, v, idMarker)
	}
	return s
}
