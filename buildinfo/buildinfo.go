package buildinfo

import "fmt"

// Values overridden with -ldflags "-X" by the release build.
var (
	GitCommit = "n/a"
	GitBranch = "n/a"
	GitState  = "n/a"
	BuildDate = "n/a"
	Version   = "dev"
)

// Summary describes the running binary.
type Summary struct {
	GitCommit string `json:"gitCommit"`
	GitBranch string `json:"gitBranch"`
	GitState  string `json:"gitState"`
	BuildDate string `json:"buildDate"`
	Version   string `json:"version"`
}

// GetSummary returns the build information of the binary.
func GetSummary() Summary {
	return Summary{
		GitCommit: GitCommit,
		GitBranch: GitBranch,
		GitState:  GitState,
		BuildDate: BuildDate,
		Version:   Version,
	}
}

// UserAgent identifies the binary in outgoing HTTP requests.
func UserAgent() string {
	return fmt.Sprintf("go-tonconnect/%s (%s)", Version, shortCommit(GitCommit))
}

func shortCommit(c string) string {
	if len(c) > 7 {
		return c[:7]
	}
	return c
}
