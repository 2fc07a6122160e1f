package deps

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	if err := os.WriteFile(present, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	reqs := []Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary", Optional: true},
		{Name: "Blank", Command: "  "},
	}

	results := CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}
	if !results[0].Available || results[0].Command != present || results[0].Detail != "" {
		t.Fatalf("unexpected status for present binary: %#v", results[0])
	}
	if results[1].Available || results[1].Detail == "" || !results[1].Optional {
		t.Fatalf("unexpected status for missing binary: %#v", results[1])
	}
	if results[1].Command != "clearly-not-present-binary" {
		t.Fatalf("unexpected command recorded: %s", results[1].Command)
	}
	if results[2].Available || results[2].Detail != "command not configured" {
		t.Fatalf("unexpected status for blank command: %#v", results[2])
	}
}

func TestCheckPythonPrefersVirtualEnv(t *testing.T) {
	tmp := t.TempDir()
	venvBin := filepath.Join(tmp, "venv", "bin")
	if err := os.MkdirAll(venvBin, 0o755); err != nil {
		t.Fatalf("mkdir venv: %v", err)
	}
	script := []byte("#!/bin/sh\nexit 0\n")
	venvPython := filepath.Join(venvBin, executableName("python3"))
	if err := os.WriteFile(venvPython, script, 0o755); err != nil {
		t.Fatalf("write venv python stub: %v", err)
	}
	pathBin := filepath.Join(tmp, "bin")
	if err := os.MkdirAll(pathBin, 0o755); err != nil {
		t.Fatalf("mkdir bin: %v", err)
	}
	if err := os.WriteFile(filepath.Join(pathBin, executableName("python3")), script, 0o755); err != nil {
		t.Fatalf("write python stub: %v", err)
	}
	t.Setenv("PATH", pathBin)
	t.Setenv("VIRTUAL_ENV", filepath.Join(tmp, "venv"))

	status := CheckPython("python3")
	if !status.Available {
		t.Fatalf("expected python to be available, got detail %q", status.Detail)
	}
	if status.Command != venvPython {
		t.Fatalf("expected venv interpreter %q, got %q", venvPython, status.Command)
	}
}

func TestCheckPythonPathFallback(t *testing.T) {
	tmp := t.TempDir()
	script := []byte("#!/bin/sh\nexit 0\n")
	pythonPath := filepath.Join(tmp, executableName("python3"))
	if err := os.WriteFile(pythonPath, script, 0o755); err != nil {
		t.Fatalf("write python stub: %v", err)
	}
	t.Setenv("PATH", tmp)
	t.Setenv("VIRTUAL_ENV", "")

	status := CheckPython("")
	if !status.Available {
		t.Fatalf("expected python fallback to be available, got detail %q", status.Detail)
	}
	if status.Command != pythonPath {
		t.Fatalf("expected python command %q, got %q", pythonPath, status.Command)
	}
}

func TestCheckPythonExplicitPath(t *testing.T) {
	tmp := t.TempDir()
	notExec := filepath.Join(tmp, "python")
	if err := os.WriteFile(notExec, []byte("x"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	status := CheckPython(notExec)
	if runtime.GOOS != "windows" && status.Available {
		t.Fatal("expected non-executable interpreter to be unavailable")
	}
	if status.Command != notExec {
		t.Fatalf("expected command %q, got %q", notExec, status.Command)
	}
}

func TestCheckPythonNotFound(t *testing.T) {
	t.Setenv("PATH", "")
	t.Setenv("VIRTUAL_ENV", "")
	status := CheckPython("clearly-not-a-python")
	if status.Available {
		t.Fatal("expected python resolution to fail")
	}
	if status.Detail == "" {
		t.Fatal("expected detail message when python is unavailable")
	}
}

func executableName(base string) string {
	if runtime.GOOS == "windows" {
		return base + ".exe"
	}
	return base
}
