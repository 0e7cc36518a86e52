// Package version carries the build metadata stamped into the clawpen
// binary at link time.
package version

// Overridden through -ldflags -X at build time. A binary built without them
// identifies itself as a local development build.
var (
	Version   = "v0.0.0-dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// String renders the metadata as a one-line summary.
func String() string {
	return Version + " (commit " + GitCommit + ", built " + BuildTime + ")"
}
