package version

import (
	"strings"
	"testing"
)

func TestGetOverrides(t *testing.T) {
	oldVersion, oldCommit, oldDate := Version, GitCommit, BuildDate
	t.Cleanup(func() { Version, GitCommit, BuildDate = oldVersion, oldCommit, oldDate })

	Version, GitCommit, BuildDate = "v1.0.0", "0123456789abcdef", "2026-01-02"
	info := Get()
	if info.Version != "v1.0.0" || info.GitCommit != "0123456789abcdef" || info.BuildDate != "2026-01-02" {
		t.Errorf("Get() = %+v", info)
	}
	if info.GoVersion == "" || !strings.Contains(info.Platform, "/") {
		t.Errorf("runtime fields missing: %+v", info)
	}
	if s := String(); !strings.HasPrefix(s, "v1.0.0 (0123456") {
		t.Errorf("String() = %q", s)
	}
}

func TestGetDefaults(t *testing.T) {
	info := Get()
	if info.GitCommit == "" || info.BuildDate == "" {
		t.Errorf("empty fields should be filled: %+v", info)
	}
}
