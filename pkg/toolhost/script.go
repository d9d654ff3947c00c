package toolhost

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ScriptKind identifies the runtime needed to launch a tool host script.
type ScriptKind string

const (
	KindPython ScriptKind = "python"
	KindNode   ScriptKind = "node"
)

// Interpreter is the command used to run a script of a given kind. The
// script path is appended after Args.
type Interpreter struct {
	Command string
	Args    []string
}

// LaunchSpec is a fully resolved child process invocation.
type LaunchSpec struct {
	Command string
	Args    []string
	Env     []string
}

var defaultInterpreters = map[ScriptKind]Interpreter{
	KindPython: {Command: "python"},
	KindNode:   {Command: "node"},
}

// DetectScriptKind maps a script path to its runtime by file extension.
func DetectScriptKind(scriptPath string) (ScriptKind, error) {
	switch strings.ToLower(filepath.Ext(scriptPath)) {
	case ".py":
		return KindPython, nil
	case ".js":
		return KindNode, nil
	default:
		return "", fmt.Errorf("%w: %q must be a .py or .js file", ErrUnsupportedScriptKind, scriptPath)
	}
}

// searchPathVar is the environment variable each runtime consults for
// module resolution.
func (k ScriptKind) searchPathVar() string {
	if k == KindNode {
		return "NODE_PATH"
	}
	return "PYTHONPATH"
}

// ResolveLaunch computes the command line and environment for a script. The
// environment is the current process environment plus opts.Env, with the
// runtime's search-path variable prefixed by the script's own dependency
// directories.
func ResolveLaunch(scriptPath string, opts Options) (LaunchSpec, error) {
	kind, err := DetectScriptKind(scriptPath)
	if err != nil {
		return LaunchSpec{}, err
	}

	interp, ok := opts.Interpreters[kind]
	if !ok || interp.Command == "" {
		interp = defaultInterpreters[kind]
	}

	scriptDir, err := filepath.Abs(filepath.Dir(scriptPath))
	if err != nil {
		return LaunchSpec{}, fmt.Errorf("resolve script directory: %w", err)
	}

	env := append(os.Environ(), opts.Env...)
	env = prependPathList(env, kind.searchPathVar(), searchDirs(kind, scriptDir, env)...)

	args := append(append([]string{}, interp.Args...), scriptPath)

	return LaunchSpec{
		Command: interp.Command,
		Args:    args,
		Env:     env,
	}, nil
}

func searchDirs(kind ScriptKind, scriptDir string, env []string) []string {
	if kind == KindNode {
		return []string{filepath.Join(scriptDir, "node_modules")}
	}

	dirs := []string{scriptDir}
	if venv := lookupEnv(env, "VIRTUAL_ENV"); venv != "" {
		for _, pattern := range []string{
			filepath.Join(venv, "lib", "python*", "site-packages"),
			filepath.Join(venv, "Lib", "site-packages"),
		} {
			matches, _ := filepath.Glob(pattern)
			dirs = append(dirs, matches...)
		}
	}
	return dirs
}

// prependPathList puts dirs in front of any existing value of key and
// leaves a single entry for key in env.
func prependPathList(env []string, key string, dirs ...string) []string {
	if len(dirs) == 0 {
		return env
	}

	existing := lookupEnv(env, key)
	out := make([]string, 0, len(env)+1)
	for _, kv := range env {
		if strings.HasPrefix(kv, key+"=") {
			continue
		}
		out = append(out, kv)
	}

	parts := append([]string{}, dirs...)
	if existing != "" {
		parts = append(parts, existing)
	}
	return append(out, key+"="+strings.Join(parts, string(os.PathListSeparator)))
}

// lookupEnv returns the last value for key, matching exec's precedence.
func lookupEnv(env []string, key string) string {
	value := ""
	for _, kv := range env {
		if strings.HasPrefix(kv, key+"=") {
			value = kv[len(key)+1:]
		}
	}
	return value
}
