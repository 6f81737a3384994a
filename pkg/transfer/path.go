package transfer

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/yuya-takeyama/lansync/pkg/manifest"
	"github.com/yuya-takeyama/lansync/pkg/syncerr"
)

// AccessDenied is the ERROR text sent for any file that cannot be served.
// It does not reveal whether the file exists.
const AccessDenied = "file not found or access denied"

// ResolvePath maps a requested '/'-separated relative path to a path under
// root. Absolute paths, paths that escape root lexically and, on the OS
// filesystem, paths whose symlinks lead outside root are rejected with a
// FileAccessError.
func ResolvePath(fs afero.Fs, root, rel string) (string, error) {
	if !manifest.ValidPath(rel) {
		return "", &syncerr.FileAccessError{Path: rel, Reason: "path escapes share root"}
	}

	full := filepath.Join(root, filepath.FromSlash(rel))

	if _, ok := fs.(*afero.OsFs); !ok {
		return full, nil
	}

	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", &syncerr.FileAccessError{Path: rel, Reason: "share root unavailable"}
	}
	realPath, err := filepath.EvalSymlinks(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", &syncerr.FileAccessError{Path: rel, Reason: "not found"}
		}
		return "", &syncerr.FileAccessError{Path: rel, Reason: err.Error()}
	}
	if !within(realRoot, realPath) {
		return "", &syncerr.FileAccessError{Path: rel, Reason: "path escapes share root"}
	}
	return full, nil
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}
