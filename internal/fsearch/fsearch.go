// Package fsearch implements the workspace file picker: a bounded
// case-insensitive substring search over relative paths.
package fsearch

import (
	"errors"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/charlievieth/fastwalk"
)

// Directories never descended into. Dependency and state directories
// dwarf the rest of a workspace and are never what the picker wants.
var skippedDirs = map[string]struct{}{
	".git":         {},
	".codex":       {},
	"node_modules": {},
}

const minScan = 200

var errScanBudget = errors.New("fsearch: scan budget exhausted")

// Search returns up to limit relative paths under root whose normalized
// form contains query, case-insensitively. The walk is budgeted at five
// times the limit so huge trees cannot stall the picker; results found
// within the budget are returned even when the walk stops early.
func Search(root, query string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 50
	}
	maxScan := limit * 5
	if maxScan < minScan {
		maxScan = minScan
	}
	needle := strings.ToLower(query)

	var (
		mu      sync.Mutex
		matches []string
		scanned int
	)
	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if _, skip := skippedDirs[d.Name()]; skip {
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		mu.Lock()
		defer mu.Unlock()
		scanned++
		if needle == "" || strings.Contains(strings.ToLower(rel), needle) {
			matches = append(matches, rel)
		}
		if scanned >= maxScan || len(matches) >= maxScan {
			return errScanBudget
		}
		return nil
	})
	if err != nil && !errors.Is(err, errScanBudget) {
		return nil, err
	}

	rankMatches(matches, needle)
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// rankMatches sorts basename prefix matches first, then everything else,
// alphabetically within each group.
func rankMatches(matches []string, needle string) {
	prefixMatch := func(rel string) bool {
		if needle == "" {
			return false
		}
		base := strings.ToLower(filepath.Base(rel))
		return strings.HasPrefix(base, needle)
	}
	sort.SliceStable(matches, func(i, j int) bool {
		pi, pj := prefixMatch(matches[i]), prefixMatch(matches[j])
		if pi != pj {
			return pi
		}
		return matches[i] < matches[j]
	})
}
