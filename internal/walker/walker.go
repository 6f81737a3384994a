package walker

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	gitignore "github.com/sabhiram/go-gitignore"
	"github.com/spf13/afero"
)

const (
	// IgnoreFileName is read from the root of a walked tree, gitignore syntax.
	IgnoreFileName = ".lansyncignore"
	// LockFileName is held by a client while it syncs into a root.
	LockFileName = ".lansync.lock"
	// PartialSuffix marks a download that has not been verified yet.
	PartialSuffix = ".lansync-partial"
)

var defaultIgnoreLines = []string{
	IgnoreFileName,
	LockFileName,
	"*" + PartialSuffix,
}

// FileInfo represents a regular file found under the root
type FileInfo struct {
	Path    string // Absolute path
	RelPath string // Relative path from root, '/'-separated
	Size    int64
	ModTime int64 // Unix nanoseconds
	Mode    os.FileMode
}

// Filter decides which relative paths take part in a sync
type Filter struct {
	Excludes []string
	Includes []string
}

// Validate checks that every pattern is a valid doublestar glob.
func (f Filter) Validate() error {
	for _, pattern := range append(append([]string{}, f.Excludes...), f.Includes...) {
		if !doublestar.ValidatePattern(strings.TrimSuffix(pattern, "/")) {
			return fmt.Errorf("invalid pattern %q", pattern)
		}
	}
	return nil
}

// Allows reports whether relPath passes the include and exclude patterns.
func (f Filter) Allows(relPath string) bool {
	if f.isExcluded(relPath) {
		return false
	}
	if len(f.Includes) == 0 {
		return true
	}
	for _, pattern := range f.Includes {
		if matchPattern(pattern, relPath) {
			return true
		}
	}
	return false
}

func (f Filter) isExcluded(relPath string) bool {
	for _, pattern := range f.Excludes {
		if matchPattern(pattern, relPath) {
			return true
		}
	}
	return false
}

// matchPattern matches a glob against a path. Patterns ending with "/"
// match everything below a directory.
func matchPattern(pattern, path string) bool {
	if !strings.HasSuffix(pattern, "/") {
		matched, _ := doublestar.Match(pattern, path)
		return matched
	}

	dirPattern := strings.TrimSuffix(pattern, "/")
	parts := strings.Split(path, "/")
	for i := 1; i < len(parts); i++ {
		if matched, _ := doublestar.Match(dirPattern, strings.Join(parts[:i], "/")); matched {
			return true
		}
	}
	return false
}

// Walker walks the regular files of a tree, honoring ignore rules and filters
type Walker struct {
	fs     afero.Fs
	root   string
	filter Filter
	ignore *gitignore.GitIgnore
}

// NewWalker creates a walker for root, creating the directory if it does not
// exist yet.
func NewWalker(fs afero.Fs, root string, filter Filter) (*Walker, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("get absolute path: %w", err)
	}

	if err := fs.MkdirAll(absRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create root: %w", err)
	}

	info, err := fs.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root is not a directory: %s", absRoot)
	}

	w := &Walker{
		fs:     fs,
		root:   absRoot,
		filter: filter,
	}
	w.loadIgnore()
	return w, nil
}

// Root returns the absolute root directory.
func (w *Walker) Root() string {
	return w.root
}

func (w *Walker) loadIgnore() {
	lines := append([]string{}, defaultIgnoreLines...)

	ignorePath := filepath.Join(w.root, IgnoreFileName)
	file, err := w.fs.Open(ignorePath)
	if err == nil {
		defer file.Close()

		rules := 0
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			lines = append(lines, line)
			rules++
		}
		if err := scanner.Err(); err != nil {
			slog.Warn("error reading ignore file", "path", ignorePath, "error", err)
		} else {
			slog.Debug("loaded ignore file", "path", ignorePath, "rules", rules)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to open ignore file", "path", ignorePath, "error", err)
	}

	w.ignore = gitignore.CompileIgnoreLines(lines...)
}

// Ignored reports whether relPath is hidden by the ignore rules or filters,
// either directly or through an ignored parent directory.
func (w *Walker) Ignored(relPath string) bool {
	if w.ignore.MatchesPath(relPath) || !w.filter.Allows(relPath) {
		return true
	}
	for dir := path.Dir(relPath); dir != "." && dir != "/"; dir = path.Dir(dir) {
		if w.ignore.MatchesPath(dir + "/") {
			return true
		}
	}
	return false
}

// Walk returns every regular file under the root that is not ignored.
// Entries that cannot be read are skipped with a warning.
func (w *Walker) Walk() ([]FileInfo, error) {
	var files []FileInfo

	err := afero.Walk(w.fs, w.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if path == w.root {
				return err
			}
			slog.Warn("skipping unreadable path", "path", path, "error", err)
			return nil
		}

		if path == w.root {
			return nil
		}

		relPath, err := filepath.Rel(w.root, path)
		if err != nil {
			return fmt.Errorf("get relative path: %w", err)
		}
		relPath = filepath.ToSlash(relPath)

		if info.IsDir() {
			if w.ignore.MatchesPath(relPath + "/") {
				return filepath.SkipDir
			}
			return nil
		}

		// Symlinks, sockets and devices are not synced.
		if !info.Mode().IsRegular() {
			return nil
		}

		if w.Ignored(relPath) {
			return nil
		}

		files = append(files, FileInfo{
			Path:    path,
			RelPath: relPath,
			Size:    info.Size(),
			ModTime: info.ModTime().UnixNano(),
			Mode:    info.Mode(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk directory: %w", err)
	}

	return files, nil
}
