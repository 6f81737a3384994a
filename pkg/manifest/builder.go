package manifest

import (
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/spf13/afero"

	"github.com/yuya-takeyama/lansync/internal/checksum"
	"github.com/yuya-takeyama/lansync/internal/walker"
	"github.com/yuya-takeyama/lansync/pkg/syncerr"
)

// cacheKey identifies a file version well enough to reuse its hash.
type cacheKey struct {
	path    string
	size    int64
	modTime int64
}

// Builder computes manifests. It is safe for concurrent use.
type Builder struct {
	fs     afero.Fs
	filter walker.Filter
	cache  *lru.Cache[cacheKey, string]
}

// Option configures a Builder.
type Option func(*Builder)

// WithFs makes the builder read from fs instead of the OS filesystem.
func WithFs(fs afero.Fs) Option {
	return func(b *Builder) { b.fs = fs }
}

// WithFilter restricts manifests to paths allowed by f.
func WithFilter(f walker.Filter) Option {
	return func(b *Builder) { b.filter = f }
}

// NewBuilder returns a Builder. cacheSize > 0 enables a hash cache keyed by
// path, size and modification time.
func NewBuilder(cacheSize int, opts ...Option) (*Builder, error) {
	b := &Builder{fs: afero.NewOsFs()}
	for _, opt := range opts {
		opt(b)
	}

	if err := b.filter.Validate(); err != nil {
		return nil, err
	}

	if cacheSize > 0 {
		cache, err := lru.New[cacheKey, string](cacheSize)
		if err != nil {
			return nil, err
		}
		b.cache = cache
	}
	return b, nil
}

// Fs returns the filesystem the builder reads.
func (b *Builder) Fs() afero.Fs {
	return b.fs
}

// Filter returns the path filter applied to built manifests.
func (b *Builder) Filter() walker.Filter {
	return b.filter
}

// Build walks root and hashes every regular file. The root is created when
// missing. Files that cannot be read are left out with a warning.
func (b *Builder) Build(root string) (Manifest, error) {
	m, _, err := b.Scan(root)
	return m, err
}

// Scan is Build that also returns the walker used, so callers can hold other
// manifests to the same ignore rules and filters.
func (b *Builder) Scan(root string) (Manifest, *walker.Walker, error) {
	w, err := walker.NewWalker(b.fs, root, b.filter)
	if err != nil {
		return nil, nil, syncerr.Filesystem("open root", root, err)
	}

	files, err := w.Walk()
	if err != nil {
		return nil, nil, syncerr.Filesystem("walk", root, err)
	}

	m := make(Manifest, len(files))
	for _, f := range files {
		hash, err := b.hash(f)
		if err != nil {
			slog.Warn("skipping unreadable file", "path", f.RelPath, "error", err)
			continue
		}
		m.Add(Entry{
			Path:    f.RelPath,
			Hash:    hash,
			Size:    f.Size,
			ModTime: f.ModTime,
		})
	}
	return m, w, nil
}

func (b *Builder) hash(f walker.FileInfo) (string, error) {
	key := cacheKey{path: f.Path, size: f.Size, modTime: f.ModTime}
	if b.cache != nil {
		if hash, ok := b.cache.Get(key); ok {
			return hash, nil
		}
	}

	hash, err := checksum.CalculateFile(b.fs, f.Path)
	if err != nil {
		return "", err
	}

	if b.cache != nil {
		b.cache.Add(key, hash)
	}
	return hash, nil
}
