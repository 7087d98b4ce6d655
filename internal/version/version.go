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

// String returns a single-line version summary for logs and status pages.
func String() string {
	return fmt.Sprintf("quakescan %s (%s, built %s)", Version, GitSHA, BuildTime)
}
