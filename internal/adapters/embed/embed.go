// Package embed renders caller-supplied files into prompt context.
package embed

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/fsutil"
	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/logging"
)

// Embedding limits.
const (
	DefaultMaxFileBytes  = 256 * 1024
	DefaultMaxTotalBytes = 1024 * 1024
	DefaultMaxFiles      = 200
)

// skipDirs are never descended into when a directory is embedded.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
	".venv":        true,
}

// FileEmbedder implements core.ContextEmbedder by reading files from disk
// and numbering their lines. Every path is resolved inside one root
// directory; absolute paths and ".." escapes are rejected.
type FileEmbedder struct {
	root          string
	maxFileBytes  int64
	maxTotalBytes int
	maxFiles      int
	logger        *logging.Logger
}

// Option configures a FileEmbedder.
type Option func(*FileEmbedder)

// WithRoot confines embedding to dir instead of the working directory.
func WithRoot(dir string) Option {
	return func(e *FileEmbedder) {
		if dir != "" {
			e.root = dir
		}
	}
}

// WithLimits overrides the per-file and total byte budgets.
func WithLimits(perFile int64, total int) Option {
	return func(e *FileEmbedder) {
		if perFile > 0 {
			e.maxFileBytes = perFile
		}
		if total > 0 {
			e.maxTotalBytes = total
		}
	}
}

// WithMaxFiles bounds how many files one call may embed.
func WithMaxFiles(n int) Option {
	return func(e *FileEmbedder) {
		if n > 0 {
			e.maxFiles = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *FileEmbedder) { e.logger = l }
}

// New creates a file embedder.
func New(opts ...Option) *FileEmbedder {
	e := &FileEmbedder{
		root:          ".",
		maxFileBytes:  DefaultMaxFileBytes,
		maxTotalBytes: DefaultMaxTotalBytes,
		maxFiles:      DefaultMaxFiles,
		logger:        logging.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Embed renders every path as a numbered block. Directories are expanded
// recursively. Missing paths fail the call, and so do paths outside the
// root. Binary or oversized files are replaced by a one-line note so the
// models know they were skipped.
func (e *FileEmbedder) Embed(ctx context.Context, paths []string) (string, error) {
	root, err := os.OpenRoot(e.root)
	if err != nil {
		return "", fmt.Errorf("opening files root: %w", err)
	}
	defer root.Close()

	files, err := e.expand(ctx, root, paths)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	omitted := 0
	for i, path := range files {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if i >= e.maxFiles || b.Len() >= e.maxTotalBytes {
			omitted = len(files) - i
			break
		}

		block := e.render(root, path)
		if b.Len()+len(block) > e.maxTotalBytes {
			omitted = len(files) - i
			break
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(block)
	}
	if omitted > 0 {
		e.logger.Warn("context files omitted", "omitted", omitted, "budget_bytes", e.maxTotalBytes)
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "[%d more file(s) omitted: context budget exhausted]\n", omitted)
	}
	return b.String(), nil
}

// resolve maps a caller path to a name inside the root.
func resolve(raw string) (string, error) {
	name, err := fsutil.LocalPath(raw)
	if err != nil {
		return "", core.ErrValidation(core.CodeInvalidPath,
			fmt.Sprintf("file %q must be a relative path inside the files root", raw)).WithCause(err)
	}
	return name, nil
}

// expand resolves paths, walks directories and removes duplicates while
// keeping the caller's order. Returned names are slash-separated and
// relative to root.
func (e *FileEmbedder) expand(ctx context.Context, root *os.Root, paths []string) ([]string, error) {
	seen := make(map[string]bool, len(paths))
	var out []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}

	for _, raw := range paths {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		name, err := resolve(raw)
		if err != nil {
			return nil, err
		}
		info, err := root.Stat(name)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, core.ErrNotFound("file", raw)
			}
			return nil, core.ErrValidation(core.CodeInvalidPath, fmt.Sprintf("file %q", raw)).WithCause(err)
		}
		start := filepath.ToSlash(name)
		if !info.IsDir() {
			add(start)
			continue
		}

		var found []string
		err = fs.WalkDir(root.FS(), start, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if d.IsDir() {
				if p != start && (skipDirs[d.Name()] || strings.HasPrefix(d.Name(), ".")) {
					return fs.SkipDir
				}
				return nil
			}
			if d.Type().IsRegular() {
				found = append(found, p)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking %s: %w", raw, err)
		}
		sort.Strings(found)
		for _, p := range found {
			add(p)
		}
	}
	return out, nil
}

// render formats one file. Read failures become a note inside the block.
func (e *FileEmbedder) render(root *os.Root, path string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "--- BEGIN FILE: %s ---\n", path)

	data, err := fsutil.ReadRootTextFile(root, filepath.FromSlash(path), e.maxFileBytes)
	switch {
	case errors.Is(err, fsutil.ErrTooLarge):
		fmt.Fprintf(&b, "[file skipped: larger than %d bytes]\n", e.maxFileBytes)
	case errors.Is(err, fsutil.ErrBinary):
		b.WriteString("[file skipped: binary content]\n")
	case err != nil:
		e.logger.Warn("context file unreadable", "path", path, "error", err)
		fmt.Fprintf(&b, "[file skipped: %v]\n", err)
	default:
		b.WriteString(NumberLines(string(data)))
	}

	fmt.Fprintf(&b, "--- END FILE: %s ---\n", path)
	return b.String()
}

// NumberLines prefixes each line with its 1-based number and the "│"
// marker. The number column is right-aligned to the widest line number,
// at least four characters wide.
func NumberLines(content string) string {
	if content == "" {
		return ""
	}
	content = strings.ReplaceAll(content, "\r\n", "\n")
	lines := strings.Split(strings.TrimSuffix(content, "\n"), "\n")
	width := len(fmt.Sprint(len(lines)))
	if width < 4 {
		width = 4
	}

	var b strings.Builder
	for i, line := range lines {
		fmt.Fprintf(&b, "%*d│ %s\n", width, i+1, line)
	}
	return b.String()
}

var _ core.ContextEmbedder = (*FileEmbedder)(nil)
