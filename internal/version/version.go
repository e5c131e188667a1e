// Package version reports the build of the server and the wire protocol it speaks.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

// Set at build time:
//
//	go build -ldflags="-X github.com/muurk/jsonwire/internal/version.Version=v1.2.3 \
//	                   -X github.com/muurk/jsonwire/internal/version.Commit=abc123"
//
// Unset values come from the module's VCS stamp, then fall back to a dev build.
var (
	Version = ""
	Commit  = ""
)

// Protocol names the wire format: back-to-back JSON objects, one response per
// document. The number after the slash changes only on incompatible changes.
const Protocol = "jsonwire/1"

const shortCommitLen = 7

func init() {
	if Version == "" || Commit == "" {
		if info, ok := debug.ReadBuildInfo(); ok {
			v, c := fromSettings(info.Settings)
			if Version == "" {
				Version = v
			}
			if Commit == "" {
				Commit = c
			}
		}
	}

	if Version == "" {
		Version = "dev-" + time.Now().Format("20060102-150405")
	}
	if Commit == "" {
		Commit = "unknown"
	}
}

// fromSettings derives a dev version from the VCS commit time and a short,
// dirty-marked commit from the revision. Either may be empty.
func fromSettings(settings []debug.BuildSetting) (version, commit string) {
	var modified bool
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			commit = s.Value
			if len(commit) > shortCommitLen {
				commit = commit[:shortCommitLen]
			}
		case "vcs.modified":
			modified = s.Value == "true"
		case "vcs.time":
			if t, err := time.Parse(time.RFC3339, s.Value); err == nil {
				version = "dev-" + t.UTC().Format("20060102")
			}
		}
	}
	if commit != "" && modified {
		commit += "-dirty"
	}
	return version, commit
}

// Full returns everything a bug report needs in one line, e.g.
// "v1.2.3 (commit abc1234, protocol jsonwire/1, go1.25.0)"
func Full() string {
	return fmt.Sprintf("%s (commit %s, protocol %s, %s)", Version, Commit, Protocol, runtime.Version())
}

// Compatible reports whether a peer advertising proto speaks this wire format.
// Peers that advertise nothing are assumed compatible.
func Compatible(proto string) bool {
	if proto == "" {
		return true
	}
	name, _, _ := strings.Cut(Protocol, "/")
	peerName, _, _ := strings.Cut(proto, "/")
	return proto == Protocol || (peerName == name && majorOf(proto) == majorOf(Protocol))
}

// majorOf returns the part of "name/major.minor" before the first dot
func majorOf(proto string) string {
	_, rev, _ := strings.Cut(proto, "/")
	major, _, _ := strings.Cut(rev, ".")
	return major
}
