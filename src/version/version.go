package version

// Flag contains extra info about the version. It is useful for tracking
// versions while developing and should be empty on release branches.
const Flag = "develop"

var (
	// Version is the full version string
	Version = "0.3.0"

	// GitCommit is set with --ldflags "-X main.gitCommit=$(git rev-parse HEAD)"
	GitCommit string
)

func init() {
	if Flag != "" {
		Version += "-" + Flag
	}

	if GitCommit != "" {
		Version += "-" + GitCommit[:8]
	}
}
