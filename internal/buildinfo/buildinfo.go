// Package buildinfo carries version information injected at link time:
//
//	go build -ldflags "-X github.com/modoterra/opsconsole/internal/buildinfo.Version=v0.3.0"
package buildinfo

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)
