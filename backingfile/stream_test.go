package backingfile

import (
	"os"
	"testing"
)

func TestOpenRegularFileUsesDefaultBlockSize(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "iso")
	if err != nil {
		t.Fatalf("unexpected TempFile error: %v", err)
	}
	name := f.Name()
	if err := f.Truncate(2048 * 4); err != nil {
		t.Fatalf("unexpected Truncate error: %v", err)
	}
	f.Close()

	s, err := Open(name)
	if err != nil {
		t.Fatalf("unexpected Open error: %v", err)
	}
	defer s.Close()

	if s.Size() != 2048*4 {
		t.Fatalf("unexpected size: got %d", s.Size())
	}
	if s.BlockSize() != DefaultBlockSize {
		t.Fatalf("unexpected block size: got %d, want %d", s.BlockSize(), DefaultBlockSize)
	}
	if s.IsDevice() {
		t.Fatal("expected a plain file to not be reported as a device node")
	}
}

func TestOpenMissingFile(t *testing.T) {
	if _, err := Open("/nonexistent/path/does-not-exist.iso"); err == nil {
		t.Fatal("expected an error opening a missing path")
	}
}

func TestReadAtReadsBackingBytes(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "iso")
	if err != nil {
		t.Fatalf("unexpected TempFile error: %v", err)
	}
	name := f.Name()
	want := []byte("sector 0")
	buf := make([]byte, 2048)
	copy(buf, want)
	if _, err := f.Write(buf); err != nil {
		t.Fatalf("unexpected Write error: %v", err)
	}
	f.Close()

	s, err := Open(name)
	if err != nil {
		t.Fatalf("unexpected Open error: %v", err)
	}
	defer s.Close()

	got := make([]byte, len(want))
	if _, err := s.ReadAt(got, 0); err != nil {
		t.Fatalf("unexpected ReadAt error: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("unexpected bytes: got %q, want %q", got, want)
	}
}
