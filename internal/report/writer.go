package report

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/spf13/afero"

	"github.com/yuya-takeyama/lansync/pkg/s3client"
)

// Writer stores JSON reports on the local filesystem or, for s3:// paths,
// in S3.
type Writer struct {
	fs afero.Fs
	s3 func(ctx context.Context) (s3client.Client, error)
}

// NewWriter returns a writer. newS3 is called at most once, on the first
// s3:// destination, and may be nil when S3 output is not wanted.
func NewWriter(fs afero.Fs, newS3 func(ctx context.Context) (s3client.Client, error)) *Writer {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	w := &Writer{fs: fs}
	if newS3 != nil {
		var client s3client.Client
		w.s3 = func(ctx context.Context) (s3client.Client, error) {
			if client != nil {
				return client, nil
			}
			c, err := newS3(ctx)
			if err != nil {
				return nil, err
			}
			client = c
			return client, nil
		}
	}
	return w
}

// Write marshals v as indented JSON to dest.
func (w *Writer) Write(ctx context.Context, dest string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	data = append(data, '\n')

	if s3client.IsURI(dest) {
		return w.writeS3(ctx, dest, data)
	}

	if dir := filepath.Dir(dest); dir != "." {
		if err := w.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	if err := afero.WriteFile(w.fs, dest, data, 0o644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

func (w *Writer) writeS3(ctx context.Context, dest string, data []byte) error {
	bucket, key, err := s3client.ParseURI(dest)
	if err != nil {
		return err
	}
	if w.s3 == nil {
		return fmt.Errorf("cannot write %s: S3 output is not configured", dest)
	}
	client, err := w.s3(ctx)
	if err != nil {
		return err
	}
	return client.PutObject(ctx, &s3client.PutObjectRequest{
		Bucket:      bucket,
		Key:         key,
		Body:        data,
		ContentType: "application/json",
	})
}
