package app

import (
	"fmt"
	"runtime/debug"
	"strings"
	"time"
)

var (
	// Version is filled by ldflags in release builds.
	Version = "dev"
	// BuildDate is filled by ldflags in release builds.
	BuildDate = ""
	// Commit is filled by ldflags in release builds.
	Commit = ""
)

var readBuildInfo = debug.ReadBuildInfo

// BuildVersion prefers the ldflags version, then the module version stamped
// by `go install`, then "dev".
func BuildVersion() string {
	version := strings.TrimSpace(Version)
	if version != "" && version != "dev" {
		return version
	}
	if info, ok := readBuildInfo(); ok {
		if v := strings.TrimSpace(info.Main.Version); v != "" && v != "(devel)" {
			return v
		}
	}

	return "dev"
}

func BuildDateYMD() string {
	raw := strings.TrimSpace(BuildDate)
	if raw == "" {
		return ""
	}

	if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
		return parsed.Format("2006-01-02")
	}

	if len(raw) >= len("2006-01-02") {
		date := raw[:len("2006-01-02")]
		if _, err := time.Parse("2006-01-02", date); err == nil {
			return date
		}
	}

	return raw
}

// BuildCommit returns the short commit hash, if any is known.
func BuildCommit() string {
	commit := strings.TrimSpace(Commit)
	if commit == "" {
		if info, ok := readBuildInfo(); ok {
			for _, s := range info.Settings {
				if s.Key == "vcs.revision" {
					commit = s.Value
					break
				}
			}
		}
	}
	if len(commit) > 7 {
		commit = commit[:7]
	}

	return commit
}

func BuildVersionWithDate() string {
	version := BuildVersion()
	details := make([]string, 0, 2)
	if buildDate := BuildDateYMD(); buildDate != "" {
		details = append(details, buildDate)
	}
	if commit := BuildCommit(); commit != "" {
		details = append(details, commit)
	}
	if len(details) == 0 {
		return version
	}

	return fmt.Sprintf("%s (%s)", version, strings.Join(details, ", "))
}
