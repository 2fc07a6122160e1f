package deps

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// CheckPython reports the interpreter the toolkit bridge will execute.
//
// An interpreter given as a path is used as-is. A bare name prefers the copy
// inside an active virtual environment ($VIRTUAL_ENV/bin) and falls back to
// resolving the name from PATH, matching what a shell in that environment runs.
func CheckPython(python string) Status {
	result := Status{
		Name:        "Python",
		Description: "Runs the spike sorting toolkit bridge",
	}

	name := strings.TrimSpace(python)
	if name == "" {
		name = "python3"
	}

	if strings.ContainsRune(name, os.PathSeparator) {
		result.Command = name
		info, err := os.Stat(name)
		if err != nil || !isExecutable(info) {
			result.Detail = fmt.Sprintf("interpreter %q is not executable", name)
			return result
		}
		result.Available = true
		return result
	}

	if candidate, ok := virtualEnvCandidate(name); ok {
		if info, err := os.Stat(candidate); err == nil && isExecutable(info) {
			result.Command = candidate
			result.Available = true
			return result
		}
	}

	if resolved, err := exec.LookPath(name); err == nil {
		result.Command = resolved
		result.Available = true
		return result
	}

	result.Command = name
	result.Detail = fmt.Sprintf("binary %q not found", name)
	return result
}

func virtualEnvCandidate(name string) (string, bool) {
	venv := strings.TrimSpace(os.Getenv("VIRTUAL_ENV"))
	if venv == "" {
		return "", false
	}
	bin := "bin"
	if runtime.GOOS == "windows" {
		bin = "Scripts"
		name += ".exe"
	}
	return filepath.Join(venv, bin, name), true
}

func isExecutable(info os.FileInfo) bool {
	if info == nil {
		return false
	}
	if info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}
