package buildinfo

import (
	"strings"
	"testing"
)

func TestUserAgent(t *testing.T) {
	if ua := UserAgent(); !strings.HasPrefix(ua, "Majordomo/") {
		t.Errorf("UserAgent() = %q, want Majordomo/ prefix", ua)
	}
}

func TestRuntime_AddsUptime(t *testing.T) {
	if Get().Uptime != "" {
		t.Error("Get() should not include uptime")
	}
	info := Runtime()
	if info.Uptime == "" {
		t.Error("Runtime() missing uptime")
	}
	if info.Version != Version {
		t.Errorf("version = %q, want %q", info.Version, Version)
	}
}

func TestInfo_Fields(t *testing.T) {
	fields := Info{Version: "v1", GoVersion: "go1.24", Arch: "arm64"}.Fields()
	want := [][2]string{{"version", "v1"}, {"go_version", "go1.24"}, {"arch", "arm64"}}
	if len(fields) != len(want) {
		t.Fatalf("Fields() = %v, want %v", fields, want)
	}
	for i := range want {
		if fields[i] != want[i] {
			t.Errorf("Fields()[%d] = %v, want %v", i, fields[i], want[i])
		}
	}
}
