package version

import "fmt"

// Set at build time with -ldflags "-X".
var (
	Version   = "dev"
	GitSHA    = "unknown"
	BuildTime = "unknown"
)

// String formats the build stamps for -version output.
func String() string {
	sha := GitSHA
	if len(sha) > 12 {
		sha = sha[:12]
	}
	return fmt.Sprintf("scenesynth %s (%s, built %s)", Version, sha, BuildTime)
}
