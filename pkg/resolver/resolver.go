// Package resolver locates the artifacts the conversion pipeline writes.
//
// The pipeline writes into <projectRoot>/result/<stem> or, for page-range
// qualified reruns, <projectRoot>/result/<stem>_<suffix>. A rerun creates a
// new directory rather than overwriting the old one, so the most recently
// modified candidate wins.
//
// Every function here is pure with respect to process state and safe for
// concurrent use.
package resolver

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ResultsDirName is the conventional results area under the project root.
const ResultsDirName = "result"

// ResultsRoot returns <projectRoot>/result.
func ResultsRoot(projectRoot string) string {
	return filepath.Join(projectRoot, ResultsDirName)
}

// Stem returns the input file name without directory and final extension.
func Stem(inputPath string) string {
	base := filepath.Base(inputPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" || stem == "." || stem == string(filepath.Separator) {
		return "output"
	}
	return stem
}

// CollectOutputFiles returns the existing artifact paths for inputs in the
// requested formats, in discovery order and without duplicates. Each format
// contributes its first matching name, except csv which contributes every
// .csv file of the result directory.
func CollectOutputFiles(projectRoot string, inputs, formats []string) []string {
	found := newPathSet()
	resultRoot := ResultsRoot(projectRoot)

	for _, input := range inputs {
		stem := Stem(input)
		dir, hasDir := PickLatestResultDir(resultRoot, stem)
		dirName := filepath.Base(dir)

		for _, format := range formats {
			format = strings.TrimSpace(format)
			if format == "" {
				continue
			}

			matched := false
			if hasDir {
				switch format {
				case "csv":
					for _, name := range filesWithExt(dir, ".csv") {
						found.addIfExists(filepath.Join(dir, name))
						matched = true
					}
				case "xlsx":
					// the spreadsheet exporter names the workbook after the directory
					matched = found.addFirst(
						filepath.Join(dir, dirName+".xlsx"),
						filepath.Join(dir, stem+".xlsx"),
						filepath.Join(dir, dirName+"_merged.xlsx"),
						filepath.Join(dir, stem+"_merged.xlsx"),
					)
				default:
					matched = found.addFirst(
						filepath.Join(dir, dirName+"_merged."+format),
						filepath.Join(dir, stem+"_merged."+format),
						filepath.Join(dir, stem+"."+format),
						filepath.Join(dir, dirName+"."+format),
					)
				}
			}
			if matched {
				continue
			}

			found.addFirst(
				filepath.Join(projectRoot, stem+"_merged."+format),
				filepath.Join(projectRoot, stem+"."+format),
			)
		}
	}

	return found.paths
}

// PickLatestResultDir returns the most recently modified directory under
// resultRoot named stem or stem_<suffix>. Ties keep directory-entry order,
// with the exact-stem directory first.
func PickLatestResultDir(resultRoot, stem string) (string, bool) {
	type candidate struct {
		modified time.Time
		path     string
	}
	var candidates []candidate

	direct := filepath.Join(resultRoot, stem)
	if info, err := os.Stat(direct); err == nil && info.IsDir() {
		candidates = append(candidates, candidate{modified: info.ModTime(), path: direct})
	}

	entries, err := os.ReadDir(resultRoot)
	if err != nil && len(candidates) == 0 {
		return "", false
	}
	prefix := stem + "_"
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		path := filepath.Join(resultRoot, name)
		info, err := os.Stat(path)
		if err != nil || !info.IsDir() {
			continue
		}
		candidates = append(candidates, candidate{modified: info.ModTime(), path: path})
	}

	if len(candidates) == 0 {
		return "", false
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].modified.After(candidates[j].modified)
	})
	return candidates[0].path, true
}

// FindOutputPath locates an artifact by bare file name: first inside any
// results subdirectory (directory-entry order), then directly under the
// project root.
func FindOutputPath(projectRoot, filename string) (string, bool) {
	resultRoot := ResultsRoot(projectRoot)
	if entries, err := os.ReadDir(resultRoot); err == nil {
		for _, entry := range entries {
			candidate := filepath.Join(resultRoot, entry.Name(), filename)
			if fileExists(candidate) {
				return candidate, true
			}
		}
	}

	candidate := filepath.Join(projectRoot, filename)
	if fileExists(candidate) {
		return candidate, true
	}
	return "", false
}

func filesWithExt(dir, ext string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if filepath.Ext(name) != ext {
			continue
		}
		if isRegularFile(filepath.Join(dir, name)) {
			names = append(names, name)
		}
	}
	return names
}

type pathSet struct {
	seen  map[string]struct{}
	paths []string
}

func newPathSet() *pathSet {
	return &pathSet{seen: make(map[string]struct{}), paths: []string{}}
}

func (s *pathSet) addIfExists(path string) {
	if _, ok := s.seen[path]; ok {
		return
	}
	if !fileExists(path) {
		return
	}
	s.seen[path] = struct{}{}
	s.paths = append(s.paths, path)
}

// addFirst adds the first existing candidate and reports whether one existed.
func (s *pathSet) addFirst(candidates ...string) bool {
	for _, path := range candidates {
		if fileExists(path) {
			s.addIfExists(path)
			return true
		}
	}
	return false
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
