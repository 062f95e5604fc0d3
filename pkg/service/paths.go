package service

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	apperrors "github.com/ricopen19/OCR-to-doc/internal/errors"
	"github.com/ricopen19/OCR-to-doc/pkg/resolver"
)

// ValidateResultDirName rejects names that could leave the results root.
// It never touches the filesystem.
func ValidateResultDirName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("directory name is empty")
	}
	if name == "." || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("invalid directory name: %q", name)
	}
	return nil
}

// resultDir validates dirName, then resolves it and checks that the
// canonical path stays inside the canonical results root.
func (s *Service) resultDir(op, dirName string) (string, error) {
	if err := ValidateResultDirName(dirName); err != nil {
		return "", apperrors.Wrap(apperrors.KindValidation, op, err, "invalid result directory")
	}

	env, err := s.environment(op)
	if err != nil {
		return "", err
	}
	root, err := canonicalize(resolver.ResultsRoot(env.ProjectRoot))
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindLookup, op, err, "results directory not found")
	}
	target, err := canonicalize(filepath.Join(root, dirName))
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindLookup, op, err, "result directory not found")
	}
	if !within(root, target) {
		return "", apperrors.Security(op, "%s resolves outside the results directory", dirName)
	}
	st, err := os.Stat(target)
	if err != nil || !st.IsDir() {
		return "", apperrors.Lookup(op, "result directory not found: %s", dirName)
	}
	return target, nil
}

func canonicalize(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", err
	}
	return filepath.Abs(resolved)
}

// within reports whether target is root or below it.
func within(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
