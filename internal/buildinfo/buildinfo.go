// Package buildinfo reports the version stamped into the ccplane binary.
package buildinfo

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

const unknown = "unknown"

// Set with -ldflags "-X github.com/agusx1211/ccplane/internal/buildinfo.Version=...".
var (
	Version    = "dev"
	CommitHash = ""
	BuildDate  = ""
)

// Info is build metadata ready for display.
type Info struct {
	Version    string `json:"version"`
	CommitHash string `json:"commit"`
	BuildDate  string `json:"buildDate"`
	GoVersion  string `json:"goVersion"`
}

// Current merges linker overrides with the VCS stamp the Go toolchain
// embeds. Overrides win; missing fields read "unknown".
func Current() Info {
	info := Info{
		Version:    strings.TrimSpace(Version),
		CommitHash: strings.TrimSpace(CommitHash),
		BuildDate:  strings.TrimSpace(BuildDate),
		GoVersion:  runtime.Version(),
	}

	if bi, ok := debug.ReadBuildInfo(); ok {
		if (info.Version == "" || info.Version == "dev") && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			info.Version = bi.Main.Version
		}
		vcs := vcsSettings(bi)
		if info.CommitHash == "" && vcs["vcs.revision"] != "" {
			info.CommitHash = vcs["vcs.revision"]
			if vcs["vcs.modified"] == "true" {
				info.CommitHash += "-dirty"
			}
		}
		if info.BuildDate == "" {
			info.BuildDate = vcs["vcs.time"]
		}
	}

	if t, err := time.Parse(time.RFC3339, info.BuildDate); err == nil {
		info.BuildDate = t.UTC().Format("2006-01-02 15:04:05 UTC")
	}
	for _, f := range []*string{&info.Version, &info.CommitHash, &info.BuildDate} {
		if *f == "" {
			*f = unknown
		}
	}
	return info
}

func vcsSettings(bi *debug.BuildInfo) map[string]string {
	out := make(map[string]string)
	for _, s := range bi.Settings {
		if strings.HasPrefix(s.Key, "vcs.") {
			out[s.Key] = strings.ToLower(strings.TrimSpace(s.Value))
		}
	}
	return out
}

// ShortCommit returns the first 12 characters of the commit hash, keeping
// any -dirty suffix.
func (i Info) ShortCommit() string {
	hash, dirty := strings.CutSuffix(i.CommitHash, "-dirty")
	if len(hash) > 12 {
		hash = hash[:12]
	}
	if dirty {
		hash += "-dirty"
	}
	return hash
}

func (i Info) String() string {
	return fmt.Sprintf("ccplane %s (%s, built %s, %s)", i.Version, i.ShortCommit(), i.BuildDate, i.GoVersion)
}
