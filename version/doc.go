// Package version provides build version information embedding for
// flowkit applications.
//
// Version, git commit, branch, and build time are set at compile time
// via -ldflags:
//
//	go build -ldflags "-X github.com/skillsenselab/flowkit/version.Version=1.0.0"
package version
