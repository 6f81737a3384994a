// Package manifest describes the synchronization-relevant state of a
// directory tree: one content hash per relative file path.
package manifest

import (
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// Entry is one file of a manifest. Path is the '/'-separated path relative
// to the tree root and doubles as the manifest key. Size and ModTime are
// informational; only Hash takes part in comparisons.
type Entry struct {
	Path    string `json:"-"`
	Hash    string `json:"hash"`
	Size    int64  `json:"size"`
	ModTime int64  `json:"mtime,omitempty"`
}

// Manifest maps relative path to Entry.
type Manifest map[string]Entry

// New returns a manifest holding entries.
func New(entries ...Entry) Manifest {
	m := make(Manifest, len(entries))
	for _, e := range entries {
		m.Add(e)
	}
	return m
}

// Add inserts or replaces e.
func (m Manifest) Add(e Entry) {
	m[e.Path] = e
}

// Hash returns the hash recorded for p.
func (m Manifest) Hash(p string) (string, bool) {
	e, ok := m[p]
	return e.Hash, ok
}

// Paths returns the manifest keys in lexical order.
func (m Manifest) Paths() []string {
	paths := make([]string, 0, len(m))
	for p := range m {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Equal reports whether both manifests hold the same paths with the same
// hashes. Iteration order and informational fields are irrelevant.
func (m Manifest) Equal(other Manifest) bool {
	if len(m) != len(other) {
		return false
	}
	for p, e := range m {
		o, ok := other[p]
		if !ok || o.Hash != e.Hash {
			return false
		}
	}
	return true
}

// Normalize fills Entry.Path from the map keys and rejects keys that are not
// safe relative paths. It is applied to every manifest received off the wire.
func (m Manifest) Normalize() error {
	for p, e := range m {
		if !ValidPath(p) {
			return fmt.Errorf("invalid manifest path %q", p)
		}
		if e.Hash == "" {
			return fmt.Errorf("manifest entry %q has no hash", p)
		}
		e.Path = p
		m[p] = e
	}
	return nil
}

// ValidPath reports whether p is a clean '/'-separated path that stays
// inside the tree it is relative to.
func ValidPath(p string) bool {
	if p == "" || strings.Contains(p, "\\") || path.IsAbs(p) {
		return false
	}
	if path.Clean(p) != p {
		return false
	}
	return filepath.IsLocal(filepath.FromSlash(p))
}
