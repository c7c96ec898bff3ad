// Package version provides build-time version information for gatewayd.
//
// Version is set at build time using ldflags:
//
//	go build -ldflags "-X github.com/arana198/mission-control-sub011/version.Version=1.0.0"
//
// For development builds, the default "dev" version is used.
package version

// Version is the software version, set at build time via ldflags.
var Version = "dev"

// GitCommit is the git commit hash, set at build time via ldflags.
var GitCommit = ""

// BuildTime is when the binary was built, set at build time via ldflags.
var BuildTime = ""

// Full returns the full version string including commit and build time if available.
func Full() string {
	v := Version
	if GitCommit != "" {
		v += "-" + GitCommit
	}
	if BuildTime != "" {
		v += " (" + BuildTime + ")"
	}
	return v
}

// UserAgent returns the client identifier sent to gateways.
func UserAgent() string {
	return "gatewayd/" + Version
}
