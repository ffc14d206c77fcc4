package fsutil

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, data, 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	return p
}

func TestReadTextFile_RejectsInvalidPath(t *testing.T) {
	for _, p := range []string{"", ".", string(filepath.Separator)} {
		if _, err := ReadTextFile(p, 0); err == nil {
			t.Fatalf("expected error for %q", p)
		}
	}
}

func TestLocalPath(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "a.txt", want: "a.txt"},
		{in: "src/../b.txt", want: "b.txt"},
		{in: ".", want: "."},
		{in: "../secret.txt", wantErr: true},
		{in: "src/../../secret.txt", wantErr: true},
		{in: string(filepath.Separator) + "etc", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := LocalPath(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrOutsideRoot) {
				t.Errorf("LocalPath(%q) error = %v, want ErrOutsideRoot", tt.in, err)
			}
			continue
		}
		if err != nil || got != filepath.FromSlash(tt.want) {
			t.Errorf("LocalPath(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestReadRootFile_StaysInsideRoot(t *testing.T) {
	base := t.TempDir()
	writeFile(t, base, "secret.txt", []byte("TOPSECRET"))
	project := filepath.Join(base, "project")
	writeFile(t, project, "ok.txt", []byte("fine"))
	if err := os.Symlink(filepath.Join(base, "secret.txt"), filepath.Join(project, "link.txt")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	root, err := os.OpenRoot(project)
	if err != nil {
		t.Fatal(err)
	}
	defer root.Close()

	if b, err := ReadRootTextFile(root, "ok.txt", 0); err != nil || string(b) != "fine" {
		t.Fatalf("ReadRootTextFile(ok.txt) = %q, %v", b, err)
	}
	for _, name := range []string{"../secret.txt", "link.txt"} {
		if b, err := ReadRootFile(root, name, 0); err == nil {
			t.Errorf("ReadRootFile(%q) escaped root: %q", name, b)
		}
	}
}

func TestReadTextFile_Errors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "big.txt", []byte(strings.Repeat("x", 100)))
	writeFile(t, dir, "bin.dat", []byte{0x7f, 'E', 'L', 'F', 0, 1, 2})
	writeFile(t, dir, "bad.txt", []byte{0xff, 0xfe, 'a'})
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		path   string
		limit  int64
		target error
	}{
		{"too large", filepath.Join(dir, "big.txt"), 10, ErrTooLarge},
		{"nul byte", filepath.Join(dir, "bin.dat"), 0, ErrBinary},
		{"invalid utf8", filepath.Join(dir, "bad.txt"), 0, ErrBinary},
		{"missing file", filepath.Join(dir, "missing.txt"), 0, os.ErrNotExist},
		{"missing dir", filepath.Join(dir, "nodir", "f.txt"), 0, os.ErrNotExist},
		{"directory", filepath.Join(dir, "sub"), 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadTextFile(tt.path, tt.limit)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.target != nil && !errors.Is(err, tt.target) {
				t.Fatalf("expected %v, got %v", tt.target, err)
			}
		})
	}
}

func TestReadTextFile_WithinLimit(t *testing.T) {
	p := writeFile(t, t.TempDir(), "ok.txt", []byte("héllo\n"))
	b, err := ReadTextFile(p, int64(len("héllo\n")))
	if err != nil {
		t.Fatalf("ReadTextFile: %v", err)
	}
	if string(b) != "héllo\n" {
		t.Fatalf("unexpected content: %q", b)
	}
}

func TestReadTextFile_UnnormalizedPath(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, filepath.Join("a", "f.txt"), []byte("nested"))
	p := filepath.Join(dir, "a", "..", "a", ".", "f.txt")

	b, err := ReadTextFile(p, 0)
	if err != nil {
		t.Fatalf("ReadTextFile: %v", err)
	}
	if string(b) != "nested" {
		t.Fatalf("unexpected content: %q", b)
	}
}

func TestIsText(t *testing.T) {
	if !IsText(nil) {
		t.Error("empty content is text")
	}
	// A multi-byte rune straddling the sniff boundary must not flag the file.
	data := append([]byte(strings.Repeat("a", sniffLen-1)), []byte("é tail")...)
	if !IsText(data) {
		t.Error("rune at sniff boundary misclassified")
	}
	if IsText([]byte("ab\x00cd")) {
		t.Error("NUL byte not detected")
	}
}
