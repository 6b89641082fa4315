package supervisor

import (
	"os/exec"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"toolbridge/internal/logging"
)

// lookPath is replaced in tests.
var lookPath = exec.LookPath

// resolveLaunch returns the program and arguments to run. Python launchers
// (uv, uvx) that are not installed fall back to npx running the same package.
func resolveLaunch(command string, args []string) (string, []string) {
	base := strings.TrimSuffix(filepath.Base(command), filepath.Ext(command))
	if base != "uv" && base != "uvx" {
		return command, slices.Clone(args)
	}
	if _, err := lookPath(command); err == nil {
		return command, slices.Clone(args)
	}

	rest := slices.Clone(args)
	if base == "uv" && len(rest) > 0 && rest[0] == "run" {
		rest = rest[1:]
	}
	if len(rest) > 0 && rest[0] == "-y" {
		rest = rest[1:]
	}
	logging.Get(logging.CategorySupervisor).Warn("%s not found on PATH, falling back to npx", command)
	return "npx", append([]string{"-y"}, rest...)
}

// buildEnv overlays overrides on base, a list of KEY=VALUE pairs.
func buildEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	env := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, replaced := overrides[key]; replaced {
			continue
		}
		env = append(env, kv)
	}
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+overrides[k])
	}
	return env
}
