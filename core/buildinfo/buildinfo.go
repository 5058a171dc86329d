package buildinfo

// Set at build time, for example:
//
//	go build -ldflags "-X 'github.com/m3rciful/meetupbot/core/buildinfo.Version=v0.4.0' \
//	  -X 'github.com/m3rciful/meetupbot/core/buildinfo.Commit=$(git rev-parse --short HEAD)'"
var (
	// Version is the release tag; "dev" for local builds.
	Version = "dev"
	// Commit is the short VCS revision.
	Commit = "local"
	// Date is the RFC3339 build time.
	Date = ""
)
