package blob

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "cas"))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return s
}

func TestDigest_KnownValue(t *testing.T) {
	got := Digest([]byte("hello"))
	want := "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if got != want {
		t.Errorf("Digest(hello) = %s, want %s", got, want)
	}
}

func TestPut_WritesOnce(t *testing.T) {
	s := newTestStore(t)
	data := []byte("attachment body")
	digest := Digest(data)

	path, created, err := s.Put(digest, data)
	if err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	if !created {
		t.Error("first Put() created = false, want true")
	}
	if path != filepath.Join(s.root, digest[:2], digest) {
		t.Errorf("path = %q, want sharded by %s", path, digest[:2])
	}

	_, created, err = s.Put(digest, data)
	if err != nil {
		t.Fatalf("second Put() failed: %v", err)
	}
	if created {
		t.Error("second Put() created = true, want false")
	}

	entries, err := os.ReadDir(filepath.Join(s.root, digest[:2]))
	if err != nil {
		t.Fatalf("ReadDir() failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("shard holds %d files, want 1", len(entries))
	}

	r, err := s.Open(digest)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer r.Close()
	got, _ := io.ReadAll(r)
	if string(got) != string(data) {
		t.Errorf("content = %q, want %q", got, data)
	}
}

func TestPut_RejectsBadDigest(t *testing.T) {
	s := newTestStore(t)

	if _, _, err := s.Put("not-a-digest", []byte("x")); !errors.Is(err, ErrInvalidDigest) {
		t.Errorf("Put(bad) error = %v, want ErrInvalidDigest", err)
	}

	wrong := Digest([]byte("other"))
	if _, _, err := s.Put(wrong, []byte("x")); !errors.Is(err, ErrDigestMismatch) {
		t.Errorf("Put(mismatch) error = %v, want ErrDigestMismatch", err)
	}
	if s.Has(wrong) {
		t.Error("Has() = true after rejected Put")
	}
}

func TestOpen_Missing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Open(Digest([]byte("absent")))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Open() error = %v, want ErrNotFound", err)
	}
}

func TestVerify_Property(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		data := rapid.SliceOf(rapid.Byte()).Draw(rt, "data")
		other := rapid.SliceOf(rapid.Byte()).Draw(rt, "other")

		computed, err := Verify(data, "")
		if err != nil {
			rt.Fatalf("Verify(no claim) failed: %v", err)
		}
		if _, err := Verify(data, strings.ToUpper(computed)); err != nil {
			rt.Fatalf("Verify(upper-case claim) failed: %v", err)
		}

		claimed := Digest(other)
		_, err = Verify(data, claimed)
		if string(data) == string(other) {
			if err != nil {
				rt.Fatalf("Verify(equal bytes) failed: %v", err)
			}
			return
		}
		if !errors.Is(err, ErrDigestMismatch) {
			rt.Fatalf("Verify(mismatch) error = %v, want ErrDigestMismatch", err)
		}
	})
}
