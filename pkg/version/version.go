// Package version provides version information for the flux-aggregator application.
package version

// Version is the current version of the flux-aggregator application.
const Version = "0.3.0"

// AgentString returns the full agent string with versioning.
// Format: flux-aggregator/v{version}
func AgentString() string {
	return "flux-aggregator/v" + Version
}
