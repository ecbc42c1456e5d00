// Package blob implements a content-addressed file store.
//
// Every blob lives at <root>/<first two hex digits>/<sha256-hex> and is
// written at most once: the name is derived from the bytes, so a second Put
// of identical content is a no-op. Writes go through a temporary file and an
// atomic rename, so readers never observe a partial blob.
package blob

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
)

var (
	// ErrDigestMismatch is returned when a caller-supplied digest does not
	// match the digest of the bytes it accompanies.
	ErrDigestMismatch = errors.New("blob digest mismatch")

	// ErrInvalidDigest is returned for strings that are not a lowercase
	// hex-encoded SHA-256.
	ErrInvalidDigest = errors.New("invalid blob digest")

	// ErrNotFound is returned when no blob exists for a digest.
	ErrNotFound = errors.New("blob not found")
)

// Store is a directory of content-addressed blobs.
type Store struct {
	root string
}

// New opens (creating if needed) a blob store rooted at dir.
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("blob directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &Store{root: dir}, nil
}

// Digest returns the lowercase hex SHA-256 of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Verify computes the digest of data and, when claimed is non-empty,
// checks it against the computed value. Comparison is case-insensitive.
func Verify(data []byte, claimed string) (string, error) {
	computed := Digest(data)
	if claimed == "" {
		return computed, nil
	}
	if !strings.EqualFold(strings.TrimSpace(claimed), computed) {
		return computed, fmt.Errorf("%w: claimed %s, computed %s", ErrDigestMismatch, claimed, computed)
	}
	return computed, nil
}

// ValidDigest reports whether s looks like a lowercase hex SHA-256.
func ValidDigest(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// Path returns where the blob for digest lives, whether or not it exists.
// Blobs are sharded into subdirectories named by the first two hex digits.
func (s *Store) Path(digest string) string {
	if len(digest) < 2 {
		return filepath.Join(s.root, digest)
	}
	return filepath.Join(s.root, digest[:2], digest)
}

// Has reports whether a blob for digest is present.
func (s *Store) Has(digest string) bool {
	if !ValidDigest(digest) {
		return false
	}
	info, err := os.Stat(s.Path(digest))
	return err == nil && info.Mode().IsRegular()
}

// Put stores data under digest. The digest must match the bytes; nothing is
// written otherwise. It reports whether a new file was created.
func (s *Store) Put(digest string, data []byte) (string, bool, error) {
	if !ValidDigest(digest) {
		return "", false, fmt.Errorf("%w: %q", ErrInvalidDigest, digest)
	}
	if _, err := Verify(data, digest); err != nil {
		return "", false, err
	}

	path := s.Path(digest)
	if s.Has(digest) {
		return path, false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", false, fmt.Errorf("failed to create blob shard: %w", err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return "", false, fmt.Errorf("failed to write blob %s: %w", digest, err)
	}
	return path, true, nil
}

// Open returns a reader for the blob.
func (s *Store) Open(digest string) (io.ReadCloser, error) {
	if !ValidDigest(digest) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDigest, digest)
	}
	f, err := os.Open(s.Path(digest))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, digest)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open blob %s: %w", digest, err)
	}
	return f, nil
}
