// Package sysinfo gathers the advisory host-identity record exchanged by the
// HostIdentity payload protocol. Every field is best-effort and
// platform-dependent; absent values are omitted from the wire form.
package sysinfo

import (
	"os"
	"os/user"
	"runtime"
)

// Record is one host's identity as exchanged between peers.
type Record struct {
	ComputerName string `json:"computer-name,omitempty"`
	UserName     string `json:"user-name,omitempty"`
	OSName       string `json:"os-name,omitempty"`
	OSPlatform   string `json:"os-platform,omitempty"`
	Architecture string `json:"architecture,omitempty"`
	Runtime      string `json:"runtime-version,omitempty"`
}

// Collect builds the local host's identity record. Lookups that fail leave
// their field empty rather than erroring; identity exchange is advisory.
func Collect() Record {
	rec := Record{
		OSName:       runtime.GOOS,
		OSPlatform:   runtime.GOOS + "/" + runtime.GOARCH,
		Architecture: runtime.GOARCH,
		Runtime:      runtime.Version(),
	}
	if host, err := os.Hostname(); err == nil {
		rec.ComputerName = host
	}
	if u, err := user.Current(); err == nil {
		rec.UserName = u.Username
	}
	return rec
}
