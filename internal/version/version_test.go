package version

import (
	"runtime/debug"
	"strings"
	"testing"
)

func TestDefaultsArePopulated(t *testing.T) {
	if Version == "" {
		t.Error("Version is empty after init")
	}
	if Commit == "" {
		t.Error("Commit is empty after init")
	}
}

func TestFull(t *testing.T) {
	full := Full()
	for _, want := range []string{Version, "commit " + Commit, "protocol " + Protocol, "go"} {
		if !strings.Contains(full, want) {
			t.Errorf("Full() = %q, want it to contain %q", full, want)
		}
	}
}

func TestFromSettings(t *testing.T) {
	tests := []struct {
		name        string
		settings    []debug.BuildSetting
		wantVersion string
		wantCommit  string
	}{
		{
			name: "clean checkout",
			settings: []debug.BuildSetting{
				{Key: "vcs.revision", Value: "0123456789abcdef"},
				{Key: "vcs.time", Value: "2026-03-04T10:00:00Z"},
				{Key: "vcs.modified", Value: "false"},
			},
			wantVersion: "dev-20260304",
			wantCommit:  "0123456",
		},
		{
			name: "dirty tree",
			settings: []debug.BuildSetting{
				{Key: "vcs.modified", Value: "true"},
				{Key: "vcs.revision", Value: "abc"},
			},
			wantCommit: "abc-dirty",
		},
		{
			name:     "no vcs stamp",
			settings: []debug.BuildSetting{{Key: "vcs.modified", Value: "true"}},
		},
		{
			name:     "unparseable time",
			settings: []debug.BuildSetting{{Key: "vcs.time", Value: "yesterday"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			version, commit := fromSettings(tt.settings)
			if version != tt.wantVersion {
				t.Errorf("version = %q, want %q", version, tt.wantVersion)
			}
			if commit != tt.wantCommit {
				t.Errorf("commit = %q, want %q", commit, tt.wantCommit)
			}
		})
	}
}

func TestCompatible(t *testing.T) {
	tests := []struct {
		proto string
		want  bool
	}{
		{"", true},
		{Protocol, true},
		{"jsonwire/1.3", true},
		{"jsonwire/2", false},
		{"otherwire/1", false},
		{"garbage", false},
	}

	for _, tt := range tests {
		if got := Compatible(tt.proto); got != tt.want {
			t.Errorf("Compatible(%q) = %v, want %v", tt.proto, got, tt.want)
		}
	}
}
