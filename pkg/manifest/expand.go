package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/ricopen19/OCR-to-doc/pkg/pipeline"
)

// ExpandInputs resolves input entries to existing regular files, in entry
// order with each pattern's matches sorted and duplicates dropped. Relative
// entries are joined to baseDir.
//
// A literal entry that does not exist is an error; a pattern that matches
// nothing is an error too, so a typo never silently shrinks a batch.
func ExpandInputs(entries []string, baseDir string) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string

	for _, entry := range entries {
		pattern := entry
		if !filepath.IsAbs(pattern) && baseDir != "" {
			pattern = filepath.Join(baseDir, pattern)
		}

		if !hasMeta(pattern) {
			info, err := os.Stat(pattern)
			if err != nil {
				return nil, fmt.Errorf("input not found: %s", entry)
			}
			if !info.Mode().IsRegular() {
				return nil, fmt.Errorf("input is not a regular file: %s", entry)
			}
			if _, ok := seen[pattern]; !ok {
				seen[pattern] = struct{}{}
				out = append(out, pattern)
			}
			continue
		}

		if !doublestar.ValidatePattern(filepath.ToSlash(pattern)) {
			return nil, fmt.Errorf("invalid input pattern: %s", entry)
		}
		matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("expand %s: %w", entry, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("pattern matched no files: %s", entry)
		}
		sort.Strings(matches)
		for _, m := range matches {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, m)
		}
	}
	return out, nil
}

func hasMeta(path string) bool {
	for i := 0; i < len(path); i++ {
		switch path[i] {
		case '*', '?', '[', '{':
			return true
		}
	}
	return false
}

// Resolve expands the manifest's inputs against baseDir and re-keys per-file
// options the same way, so relative keys match the expanded paths.
func (m *Manifest) Resolve(baseDir string) ([]string, pipeline.RunOptions, error) {
	inputs, err := ExpandInputs(m.Inputs, baseDir)
	if err != nil {
		return nil, pipeline.RunOptions{}, err
	}

	opts := m.RunOptions()
	if len(opts.FileOptions) > 0 && baseDir != "" {
		rekeyed := make(map[string]pipeline.FileOptions, len(opts.FileOptions))
		for key, fo := range opts.FileOptions {
			if !filepath.IsAbs(key) {
				key = filepath.Join(baseDir, key)
			}
			rekeyed[key] = fo
		}
		opts.FileOptions = rekeyed
	}
	return inputs, opts, nil
}
