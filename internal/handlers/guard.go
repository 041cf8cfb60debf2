package handlers

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Guard confines writes to the subtrees matching its globs, relative to root.
type Guard struct {
	root  string
	globs []string
}

// NewGuard returns a guard allowing paths under root that match any glob.
func NewGuard(root string, globs ...string) *Guard {
	return &Guard{root: root, globs: globs}
}

// Check returns an error unless path falls inside an allowed subtree.
func (g *Guard) Check(path string) error {
	rel := path
	if filepath.IsAbs(path) {
		r, err := filepath.Rel(g.root, path)
		if err != nil {
			return failed("guard", err)
		}
		rel = r
	}
	rel = filepath.ToSlash(filepath.Clean(rel))
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return failed("guard", fmt.Errorf("%s escapes the root", path))
	}
	for _, glob := range g.globs {
		ok, err := doublestar.Match(glob, rel)
		if err == nil && ok {
			return nil
		}
	}
	return failed("guard", fmt.Errorf("%s is outside the handler subtree", rel))
}
