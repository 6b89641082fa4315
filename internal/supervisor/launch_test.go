package supervisor

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestResolveLaunch(t *testing.T) {
	missing := func(string) (string, error) { return "", errors.New("not found") }
	found := func(name string) (string, error) { return "/usr/bin/" + name, nil }

	tests := []struct {
		name     string
		look     func(string) (string, error)
		command  string
		args     []string
		wantCmd  string
		wantArgs []string
	}{
		{"plain command untouched", missing, "node", []string{"server.js"}, "node", []string{"server.js"}},
		{"installed uvx kept", found, "uvx", []string{"mcp-server-fetch"}, "uvx", []string{"mcp-server-fetch"}},
		{"uvx falls back", missing, "uvx", []string{"mcp-server-fetch"}, "npx", []string{"-y", "mcp-server-fetch"}},
		{"uv run falls back", missing, "uv", []string{"run", "mcp-server-git", "--repo", "/r"}, "npx", []string{"-y", "mcp-server-git", "--repo", "/r"}},
		{"absolute uvx path", missing, "/opt/bin/uvx", []string{"-y", "pkg"}, "npx", []string{"-y", "pkg"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orig := lookPath
			lookPath = tt.look
			defer func() { lookPath = orig }()

			cmd, args := resolveLaunch(tt.command, tt.args)
			assert.Equal(t, tt.wantCmd, cmd)
			if diff := cmp.Diff(tt.wantArgs, args); diff != "" {
				t.Errorf("args mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBuildEnv(t *testing.T) {
	base := []string{"PATH=/bin", "HTTP_PROXY=http://old:3128", "HOME=/root"}
	got := buildEnv(base, map[string]string{"HTTP_PROXY": "http://new:3128", "API_KEY": "k"})
	want := []string{"PATH=/bin", "HOME=/root", "API_KEY=k", "HTTP_PROXY=http://new:3128"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("env mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, base, buildEnv(base, nil))
}

func TestLogRing(t *testing.T) {
	ring := newLogRing(3)
	assert.Empty(t, ring.Tail(0))

	ring.Add("one\n")
	ring.Add("two")
	assert.Equal(t, []string{"one", "two"}, ring.Tail(0))

	for i := 3; i <= 5; i++ {
		ring.Add(fmt.Sprintf("line %d", i))
	}
	assert.Equal(t, []string{"line 3", "line 4", "line 5"}, ring.Tail(0))
	assert.Equal(t, []string{"line 4", "line 5"}, ring.Tail(2))
	assert.Equal(t, []string{"line 3", "line 4", "line 5"}, ring.Tail(10))
}
