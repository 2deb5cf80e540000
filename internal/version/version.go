package version

import "fmt"

var (
	// Version is the application version (set at build time)
	Version = "dev"

	// BuildNumber is the build number (set at build time, format: YYYYMMDD.HHMM)
	BuildNumber = "unknown"

	// Commit is the git commit hash (set at build time)
	Commit = "unknown"

	// BuildTime is the build timestamp (set at build time)
	BuildTime = "unknown"
)

// Info is the version payload served at /api/version.
type Info struct {
	Version     string `json:"version"`
	BuildNumber string `json:"build_number"`
	Commit      string `json:"commit"`
	BuildTime   string `json:"build_time"`
	Display     string `json:"display"`
}

// String returns a formatted version string
func String() string {
	if BuildNumber != "unknown" {
		return fmt.Sprintf("v%s (build: %s, commit: %s)", Version, BuildNumber, Commit)
	}
	return fmt.Sprintf("v%s (commit: %s, built: %s)", Version, Commit, BuildTime)
}

func Get() Info {
	return Info{
		Version:     Version,
		BuildNumber: BuildNumber,
		Commit:      Commit,
		BuildTime:   BuildTime,
		Display:     String(),
	}
}
