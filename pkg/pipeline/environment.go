// Package pipeline describes how the external conversion pipeline is found
// and invoked.
//
// The pipeline is an opaque Python program. This package never interprets
// its output; it only locates the entry script and interpreter and renders
// the argument vector for one input file.
package pipeline

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const (
	// EntryScript is the pipeline's dispatcher.
	EntryScript = "dispatcher.py"
	// PreviewScript renders a single page to a data URL.
	PreviewScript = "ui_preview.py"

	// InterpreterEnv overrides interpreter discovery.
	InterpreterEnv = "PYTHON_BIN"
)

// ErrProjectRootNotFound means no ancestor holds the dispatcher.
var ErrProjectRootNotFound = errors.New("failed to resolve project root")

// Environment is where and with what the pipeline runs.
type Environment struct {
	ProjectRoot   string `json:"projectRoot"`
	Entry         string `json:"entry"`
	Interpreter   string `json:"interpreter"`
	PreviewHelper string `json:"previewHelper"`
	GPUDevice     string `json:"gpuDevice"`
}

// Locate fills in every empty field of env. The project root is searched
// upward from the executable's directory, then from the working directory.
// Relative script paths are taken relative to the project root.
func Locate(env Environment) (Environment, error) {
	if strings.TrimSpace(env.ProjectRoot) == "" {
		root, ok := searchProjectRoot()
		if !ok {
			return env, ErrProjectRootNotFound
		}
		env.ProjectRoot = root
	}
	if abs, err := filepath.Abs(env.ProjectRoot); err == nil {
		env.ProjectRoot = abs
	}

	env.Entry = resolveScript(env.ProjectRoot, env.Entry, EntryScript)
	env.PreviewHelper = resolveScript(env.ProjectRoot, env.PreviewHelper, PreviewScript)
	if strings.TrimSpace(env.Interpreter) == "" {
		env.Interpreter = ResolveInterpreter(env.ProjectRoot)
	}
	if strings.TrimSpace(env.GPUDevice) == "" {
		env.GPUDevice = DefaultGPUDevice()
	}
	return env, nil
}

// EntryFound reports whether the dispatcher exists on disk.
func (e Environment) EntryFound() bool {
	return fileExists(e.Entry)
}

// PreviewHelperFound reports whether the preview helper exists on disk.
func (e Environment) PreviewHelperFound() bool {
	return fileExists(e.PreviewHelper)
}

func searchProjectRoot() (string, bool) {
	if exe, err := os.Executable(); err == nil {
		if root, ok := FindProjectRoot(filepath.Dir(exe)); ok {
			return root, true
		}
	}
	if wd, err := os.Getwd(); err == nil {
		if root, ok := FindProjectRoot(wd); ok {
			return root, true
		}
	}
	return "", false
}

// FindProjectRoot walks start and its ancestors for a directory holding
// dispatcher.py or resources/py/dispatcher.py.
func FindProjectRoot(start string) (string, bool) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", false
	}
	for {
		if fileExists(filepath.Join(dir, EntryScript)) ||
			fileExists(filepath.Join(dir, "resources", "py", EntryScript)) {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

// ResolveEntry prefers <root>/resources/py/<filename>, falling back to
// <root>/<filename>. The fallback is returned even when it does not exist.
func ResolveEntry(projectRoot, filename string) string {
	bundled := filepath.Join(projectRoot, "resources", "py", filename)
	if fileExists(bundled) {
		return bundled
	}
	return filepath.Join(projectRoot, filename)
}

func resolveScript(projectRoot, configured, fallback string) string {
	configured = strings.TrimSpace(configured)
	if configured == "" {
		return ResolveEntry(projectRoot, fallback)
	}
	if filepath.IsAbs(configured) {
		return configured
	}
	return filepath.Join(projectRoot, configured)
}

// ResolveInterpreter picks the Python interpreter: $PYTHON_BIN, then the
// bundled resources/.venv, then the project .venv, then "python" from PATH.
func ResolveInterpreter(projectRoot string) string {
	if bin := os.Getenv(InterpreterEnv); bin != "" {
		return bin
	}
	for _, venv := range []string{
		filepath.Join(projectRoot, "resources", ".venv"),
		filepath.Join(projectRoot, ".venv"),
	} {
		candidate := venvPython(venv)
		if fileExists(candidate) {
			return candidate
		}
	}
	return "python"
}

func venvPython(venv string) string {
	if runtime.GOOS == "windows" {
		return filepath.Join(venv, "Scripts", "python.exe")
	}
	return filepath.Join(venv, "bin", "python")
}

// DefaultGPUDevice is the accelerated device name the pipeline expects on
// this platform.
func DefaultGPUDevice() string {
	if runtime.GOOS == "darwin" {
		return "mps"
	}
	return "cuda"
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
