package fsutil

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"unicode/utf8"
)

var (
	// ErrTooLarge is returned when a file exceeds the caller's byte limit.
	ErrTooLarge = errors.New("file exceeds size limit")
	// ErrBinary is returned for content that is not UTF-8 text.
	ErrBinary = errors.New("file is not text")
)

// sniffLen is how much of a file is inspected for binary content.
const sniffLen = 8000

// ErrOutsideRoot is returned for paths that are absolute or climb out of
// the directory they are resolved against.
var ErrOutsideRoot = errors.New("path escapes root directory")

// LocalPath cleans a caller-supplied relative path and rejects absolute
// paths and ".." escapes. The result is safe to pass to an *os.Root.
func LocalPath(path string) (string, error) {
	if !filepath.IsLocal(path) {
		return "", fmt.Errorf("%q: %w", path, ErrOutsideRoot)
	}
	return filepath.Clean(path), nil
}

// ReadTextFile reads a UTF-8 text file named by an operator-supplied path.
// limit bounds the file size in bytes; zero means unbounded.
func ReadTextFile(path string, limit int64) ([]byte, error) {
	cleaned := filepath.Clean(path)
	base := filepath.Base(cleaned)
	if path == "" || base == "." || base == string(filepath.Separator) {
		return nil, fmt.Errorf("invalid file path: %q", path)
	}

	root, err := os.OpenRoot(filepath.Dir(cleaned))
	if err != nil {
		return nil, err
	}
	defer root.Close()
	return ReadRootTextFile(root, base, limit)
}

// ReadRootTextFile reads the UTF-8 text file name inside root.
func ReadRootTextFile(root *os.Root, name string, limit int64) ([]byte, error) {
	data, err := ReadRootFile(root, name, limit)
	if err != nil {
		return nil, err
	}
	if !IsText(data) {
		return nil, fmt.Errorf("%s: %w", name, ErrBinary)
	}
	return data, nil
}

// ReadRootFile reads the regular file name inside root. Symlinks and ".."
// components may not leave root. limit bounds the size; zero means unbounded.
func ReadRootFile(root *os.Root, name string, limit int64) ([]byte, error) {
	file, err := root.Open(name)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", name)
	}
	if limit > 0 && info.Size() > limit {
		return nil, fmt.Errorf("%s (%d bytes, limit %d): %w", name, info.Size(), limit, ErrTooLarge)
	}

	var r io.Reader = file
	if limit > 0 {
		r = io.LimitReader(file, limit+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, fmt.Errorf("%s grew past limit %d: %w", name, limit, ErrTooLarge)
	}
	return data, nil
}

// IsText reports whether data looks like UTF-8 text. Only the leading
// bytes are inspected; a NUL byte marks binary content.
func IsText(data []byte) bool {
	head := data
	if len(head) > sniffLen {
		head = head[:sniffLen]
		// Do not judge a rune cut in half at the boundary.
		for i := 0; i < utf8.UTFMax && len(head) > 0 && !utf8.RuneStart(data[len(head)]); i++ {
			head = head[:len(head)-1]
		}
	}
	if bytes.IndexByte(head, 0) >= 0 {
		return false
	}
	return utf8.Valid(head)
}
