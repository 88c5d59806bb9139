// Package locate finds the launchable application bundle on a mounted
// volume.
package locate

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/charlievieth/fastwalk"
	"github.com/rs/zerolog/log"
)

// ErrNoCandidate means the volume holds no launchable bundle. The
// caller aborts integration; nothing is wrong with the volume itself.
var ErrNoCandidate = errors.New("no launch candidate")

// Candidate is the application artifact chosen from a mounted volume.
type Candidate struct {
	Path string
}

// Locator scans a mount path for files with the configured bundle
// extension, descending at most depth directory levels below the root.
type Locator struct {
	ext   string
	depth int
}

func New(ext string, depth int) *Locator {
	return &Locator{ext: strings.ToLower(ext), depth: depth}
}

// Find returns the single launch candidate under root. With multiple
// matches the lexicographically first path wins; fastwalk traverses
// concurrently in no particular order, so matches are collected and
// sorted before selection.
func (l *Locator) Find(root string) (Candidate, error) {
	var mu sync.Mutex
	var matches []string

	conf := fastwalk.Config{}
	err := fastwalk.Walk(&conf, root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable entries are skipped, not fatal.
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil || rel == "." {
			return nil
		}
		depth := strings.Count(rel, string(filepath.Separator)) + 1
		if d.IsDir() {
			if depth >= l.depth {
				return filepath.SkipDir
			}
			return nil
		}
		if depth > l.depth || !d.Type().IsRegular() {
			return nil
		}
		if !strings.HasSuffix(strings.ToLower(d.Name()), l.ext) {
			return nil
		}
		mu.Lock()
		matches = append(matches, path)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return Candidate{}, fmt.Errorf("scan %s: %w", root, err)
	}

	if len(matches) == 0 {
		return Candidate{}, fmt.Errorf("scan %s: %w", root, ErrNoCandidate)
	}
	sort.Strings(matches)
	if len(matches) > 1 {
		log.Warn().
			Str("chosen", matches[0]).
			Int("matches", len(matches)).
			Msg("multiple launch candidates on volume, using first by name")
	}
	return Candidate{Path: matches[0]}, nil
}
