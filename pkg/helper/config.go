package helper

import (
	"os"
	"path/filepath"
)

// configDirEnv lets an operator point relayd at a config file without
// touching the working directory or patching /etc/relay — the same role
// CONFIG_DIR plays for the gateway binary this package was adapted from.
const configDirEnv = "RELAY_CONFIG_DIR"

// GetCfgPath returns the path to the configuration file.
//
// Priority:
// 1. If filename is an absolute path, return it directly.
// 2. Check ./{filename}, then ./configs/{filename}.
// 3. Check $RELAY_CONFIG_DIR/{filename}, if that env var is set.
// 4. Otherwise, fall back to /etc/relay/{filename}.
func GetCfgPath(filename string) string {
	if filename == "" {
		panic("filename cannot be empty")
	}
	if filepath.IsAbs(filename) {
		return filename
	}

	for _, dir := range cfgCandidateDirs() {
		if abs := statJoin(dir, filename); abs != "" {
			return abs
		}
	}
	return filepath.Join("/etc/relay", filename)
}

// cfgCandidateDirs returns, in priority order, the directories GetCfgPath
// probes before falling back to /etc/relay.
func cfgCandidateDirs() []string {
	dirs := make([]string, 0, 3)
	if cwd, err := os.Getwd(); err == nil && cwd != "" {
		dirs = append(dirs, cwd, filepath.Join(cwd, "configs"))
	}
	if envDir := os.Getenv(configDirEnv); envDir != "" {
		dirs = append(dirs, envDir)
	}
	return dirs
}

// statJoin returns the absolute path of dir/filename if that file exists,
// or "" otherwise.
func statJoin(dir, filename string) string {
	candidate := filepath.Join(dir, filename)
	if _, err := os.Stat(candidate); err != nil {
		return ""
	}
	abs, err := filepath.Abs(candidate)
	if err != nil {
		return ""
	}
	return abs
}
