package utils

import (
	"runtime/debug"
	"testing"
)

func TestResolveVersion(t *testing.T) {
	testCases := []struct {
		name      string
		injected  string
		buildInfo *debug.BuildInfo
		expected  string
	}{
		{name: "injected wins", injected: "v1.2.3", buildInfo: &debug.BuildInfo{Main: debug.Module{Version: "v0.9.0"}}, expected: "v1.2.3"},
		{name: "missing build info", expected: "unknown"},
		{name: "module version", buildInfo: &debug.BuildInfo{Main: debug.Module{Version: "v0.4.1"}}, expected: "v0.4.1"},
		{
			name: "clean revision",
			buildInfo: &debug.BuildInfo{
				Main:     debug.Module{Version: "(devel)"},
				Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "0123456789abcdef0123"}, {Key: "vcs.modified", Value: "false"}},
			},
			expected: "0123456789ab",
		},
		{
			name: "modified revision",
			buildInfo: &debug.BuildInfo{
				Main:     debug.Module{Version: "(devel)"},
				Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "abc123"}, {Key: "vcs.modified", Value: "true"}},
			},
			expected: "abc123-dirty",
		},
		{name: "devel without revision", buildInfo: &debug.BuildInfo{Main: debug.Module{Version: "(devel)"}}, expected: "unknown"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if actual := resolveVersion(testCase.injected, testCase.buildInfo); actual != testCase.expected {
				t.Fatalf("expected %s, got %s", testCase.expected, actual)
			}
		})
	}
}
