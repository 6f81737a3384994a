package s3client

import (
	"context"
	"fmt"
	"strings"
)

// Client stores small documents in S3.
type Client interface {
	PutObject(ctx context.Context, req *PutObjectRequest) error
}

type PutObjectRequest struct {
	Bucket      string
	Key         string
	Body        []byte
	ContentType string
}

// ParseURI splits s3://bucket/key into its parts. The key must name an
// object, not a prefix.
func ParseURI(uri string) (bucket, key string, err error) {
	if !strings.HasPrefix(uri, "s3://") {
		return "", "", fmt.Errorf("invalid S3 URI %q: must start with s3://", uri)
	}

	path := strings.TrimPrefix(uri, "s3://")
	parts := strings.SplitN(path, "/", 2)

	if parts[0] == "" {
		return "", "", fmt.Errorf("invalid S3 URI %q: missing bucket name", uri)
	}
	if len(parts) < 2 || parts[1] == "" || strings.HasSuffix(parts[1], "/") {
		return "", "", fmt.Errorf("invalid S3 URI %q: missing object key", uri)
	}

	return parts[0], parts[1], nil
}

// IsURI reports whether dest points at S3.
func IsURI(dest string) bool {
	return strings.HasPrefix(dest, "s3://")
}
