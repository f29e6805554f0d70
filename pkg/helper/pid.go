package helper

import (
	"os"
	"path/filepath"
)

// pidDirEnv is RELAY_PID_DIR's counterpart to configDirEnv in config.go —
// an operator running relayd outside of /var/run (a container with a
// read-only root, for instance) can redirect the PID file without passing
// an absolute path.
const pidDirEnv = "RELAY_PID_DIR"

const defaultPIDPath = "/var/run/relayd.pid"

// GetPIDPath returns the path to the PID file.
//
// Priority:
// 1. If filename is an absolute path, return it directly.
// 2. Resolve {filename} under $RELAY_PID_DIR, then under the working
//    directory — provided that directory actually exists; relayd never
//    creates the PID file's parent on the operator's behalf.
// 3. Otherwise, fall back to /var/run/relayd.pid.
func GetPIDPath(filename string) string {
	if filepath.IsAbs(filename) {
		return filename
	}
	if filename == "" {
		return defaultPIDPath
	}

	for _, dir := range pidCandidateDirs() {
		if abs := resolveInDir(dir, filename); abs != "" {
			return abs
		}
	}
	return defaultPIDPath
}

func pidCandidateDirs() []string {
	dirs := make([]string, 0, 2)
	if envDir := os.Getenv(pidDirEnv); envDir != "" {
		dirs = append(dirs, envDir)
	}
	if cwd, err := os.Getwd(); err == nil && cwd != "" {
		dirs = append(dirs, cwd)
	}
	return dirs
}

// resolveInDir joins dir and filename into an absolute path, returning ""
// if that path can't be made absolute or its parent directory doesn't
// exist.
func resolveInDir(dir, filename string) string {
	abs, err := filepath.Abs(filepath.Join(dir, filename))
	if err != nil {
		return ""
	}
	if _, err := os.Stat(filepath.Dir(abs)); err != nil {
		return ""
	}
	return abs
}
