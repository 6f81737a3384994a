package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/spf13/afero"
)

// BlockSize is the read size used when streaming a file through the hash.
const BlockSize = 8 * 1024

// CalculateFile returns the hex SHA-256 of the file at path on fs.
func CalculateFile(fs afero.Fs, path string) (string, error) {
	file, err := fs.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	return Calculate(file)
}

// Calculate returns the hex SHA-256 of everything read from r.
func Calculate(r io.Reader) (string, error) {
	hash := sha256.New()
	buffer := make([]byte, BlockSize)

	for {
		n, err := r.Read(buffer)
		if n > 0 {
			hash.Write(buffer[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read: %w", err)
		}
	}

	return hex.EncodeToString(hash.Sum(nil)), nil
}

// Bytes returns the hex SHA-256 of b.
func Bytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
