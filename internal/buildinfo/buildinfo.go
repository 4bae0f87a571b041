// Package buildinfo carries version metadata stamped in with -ldflags:
//
//	go build -ldflags "-X github.com/nugget/majordomo/internal/buildinfo.Version=v0.3.0"
package buildinfo

import (
	"fmt"
	"runtime"
	"time"
)

// Stamped at build time.
var (
	Version   = "dev"
	GitCommit = "unknown"
	GitBranch = "unknown"
	BuildTime = "unknown"
)

var started = time.Now()

// Info describes the running binary.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	GitBranch string `json:"git_branch"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	Uptime    string `json:"uptime,omitempty"`
}

// Get returns the static build metadata.
func Get() Info {
	return Info{
		Version:   Version,
		GitCommit: GitCommit,
		GitBranch: GitBranch,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// Runtime is Get plus process uptime, for the version endpoint.
func Runtime() Info {
	info := Get()
	info.Uptime = Uptime().String()
	return info
}

// Fields lists the non-empty fields as key/value pairs in display order.
func (i Info) Fields() [][2]string {
	all := [][2]string{
		{"version", i.Version},
		{"git_commit", i.GitCommit},
		{"git_branch", i.GitBranch},
		{"build_time", i.BuildTime},
		{"go_version", i.GoVersion},
		{"os", i.OS},
		{"arch", i.Arch},
		{"uptime", i.Uptime},
	}
	out := all[:0]
	for _, kv := range all {
		if kv[1] != "" {
			out = append(out, kv)
		}
	}
	return out
}

// Uptime is the time since process start, to the second.
func Uptime() time.Duration {
	return time.Since(started).Truncate(time.Second)
}

// UserAgent is sent on outbound HTTP requests.
func UserAgent() string {
	return "Majordomo/" + Version
}

// String is a one-line summary for logs and `majordomo version`.
func String() string {
	return fmt.Sprintf("Majordomo %s (%s@%s) built %s", Version, GitCommit, GitBranch, BuildTime)
}
