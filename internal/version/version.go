// Package version carries the kbrag build stamp. The values are injected by
// the Makefile through -ldflags:
//
//	-X github.com/54b3r/kbrag-go/internal/version.Version=v0.3.0
//	-X github.com/54b3r/kbrag-go/internal/version.Commit=abc1234
//	-X github.com/54b3r/kbrag-go/internal/version.BuildDate=2026-01-01T00:00:00Z
package version

import "fmt"

var (
	// Version is the release tag, "dev" for local builds.
	Version = "dev"
	// Commit is the short git SHA.
	Commit = "unknown"
	// BuildDate is the RFC3339 UTC build time.
	BuildDate = "unknown"
)

// String renders the stamp on one line, as printed by `kbrag version`.
func String() string {
	return fmt.Sprintf("kbrag %s (commit %s, built %s)", Version, Commit, BuildDate)
}
