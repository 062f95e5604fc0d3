package service

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
)

// Opener hands a path to the desktop's default application.
type Opener interface {
	Open(ctx context.Context, path string) error
}

// SystemOpener uses open on macOS, explorer on Windows and xdg-open
// elsewhere. The launched process is not waited for.
type SystemOpener struct{}

func (SystemOpener) Open(_ context.Context, path string) error {
	name := "xdg-open"
	switch runtime.GOOS {
	case "darwin":
		name = "open"
	case "windows":
		name = "explorer"
	}

	cmd := exec.Command(name, path)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to launch %s: %w", name, err)
	}
	go func() { _ = cmd.Wait() }()
	return nil
}
