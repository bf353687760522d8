package sink

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOpenTruncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.fasta")
	if err := os.WriteFile(path, []byte(">old\nOLD\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 0 {
		t.Fatalf("file not truncated: %q", data)
	}
}

func TestWriteIsVisibleBeforeClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.fasta")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if err := s.Write(">a\nAAAA\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s.Write(">b\nCCCC"); err != nil {
		t.Fatalf("write: %v", err)
	}

	// Read through a separate handle while the sink is still open.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if want := ">a\nAAAA\n>b\nCCCC\n"; string(data) != want {
		t.Fatalf("content = %q, want %q", data, want)
	}
	if s.Written() != 2 {
		t.Fatalf("written = %d, want 2", s.Written())
	}

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := s.Write(">c\nDD\n"); err == nil {
		t.Fatalf("write after close should fail")
	}
}

func TestOpenMissingDir(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "nope", "out.fasta")); err == nil {
		t.Fatalf("expected error for missing directory")
	}
}
