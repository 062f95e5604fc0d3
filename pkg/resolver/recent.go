package resolver

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultRecentLimit is used when ListRecent is called with limit <= 0.
const DefaultRecentLimit = 10

// RecentResult summarizes one results directory.
type RecentResult struct {
	DirName     string  `json:"dirName"`
	UpdatedAtMs int64   `json:"updatedAtMs"`
	PageRange   *string `json:"pageRange,omitempty"`
	BestFile    *string `json:"bestFile,omitempty"`
}

// ListRecent returns up to limit results directories, newest first. A
// missing results root yields an empty list.
func ListRecent(projectRoot string, limit int) ([]RecentResult, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}

	resultRoot := ResultsRoot(projectRoot)
	entries, err := os.ReadDir(resultRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return []RecentResult{}, nil
		}
		return nil, fmt.Errorf("read results dir: %w", err)
	}

	type dirEntry struct {
		name string
		ms   int64
	}
	dirs := make([]dirEntry, 0, len(entries))
	for _, entry := range entries {
		info, err := os.Stat(filepath.Join(resultRoot, entry.Name()))
		if err != nil || !info.IsDir() {
			continue
		}
		dirs = append(dirs, dirEntry{name: entry.Name(), ms: info.ModTime().UnixMilli()})
	}

	sort.SliceStable(dirs, func(i, j int) bool {
		return dirs[i].ms > dirs[j].ms
	})
	if len(dirs) > limit {
		dirs = dirs[:limit]
	}

	out := make([]RecentResult, 0, len(dirs))
	for _, d := range dirs {
		r := RecentResult{DirName: d.name, UpdatedAtMs: d.ms}
		if pr, ok := ParsePageRangeFromDirectory(d.name); ok {
			r.PageRange = &pr
		}
		if best, ok := PickBestFileInDir(filepath.Join(resultRoot, d.name), d.name); ok {
			r.BestFile = &best
		}
		out = append(out, r)
	}
	return out, nil
}

// PickBestFileInDir chooses the file a user most likely wants to open:
// word document, then spreadsheet, then csv, then markdown. Conventional
// names are tried first, then the directory is scanned by extension.
func PickBestFileInDir(dir, dirName string) (string, bool) {
	candidates := []string{
		dirName + "_merged.docx",
		dirName + ".docx",
		dirName + ".xlsx",
		dirName + "_merged.xlsx",
		dirName + ".csv",
		dirName + "_merged.csv",
		dirName + "_merged.md",
		dirName + ".md",
	}
	for _, name := range candidates {
		if fileExists(filepath.Join(dir, name)) {
			return name, true
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	priority := []string{".docx", ".xlsx", ".csv", ".md"}
	firstByExt := make(map[string]string, len(priority))
	for _, entry := range entries {
		name := entry.Name()
		if !isRegularFile(filepath.Join(dir, name)) {
			continue
		}
		lower := strings.ToLower(name)
		for _, ext := range priority {
			if strings.HasSuffix(lower, ext) {
				if _, ok := firstByExt[ext]; !ok {
					firstByExt[ext] = name
				}
				break
			}
		}
	}
	for _, ext := range priority {
		if name, ok := firstByExt[ext]; ok {
			return name, true
		}
	}
	return "", false
}

// ParsePageRangeFromDirectory extracts "pN-M" from a directory name ending
// in _p<digits>-<digits>.
func ParsePageRangeFromDirectory(name string) (string, bool) {
	pos := strings.LastIndex(name, "_p")
	if pos < 0 {
		return "", false
	}
	start, end, ok := strings.Cut(name[pos+2:], "-")
	if !ok || !allDigits(start) || !allDigits(end) {
		return "", false
	}
	return "p" + start + "-" + end, true
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
