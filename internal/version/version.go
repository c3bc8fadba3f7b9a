package version

import "fmt"

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// UserAgent is sent on every request to the processing service.
func UserAgent() string {
	return fmt.Sprintf("blockview/%s (%s)", Version, GitSHA)
}

// String renders the version line printed by -version.
func String() string {
	return fmt.Sprintf("blockview %s (commit %s, built %s)", Version, GitSHA, BuildTime)
}
