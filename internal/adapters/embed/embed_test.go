package embed

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/testutil"
)

func TestNumberLines(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"empty", "", ""},
		{"single", "package main", "   1│ package main\n"},
		{"trailing newline", "a\nb\n", "   1│ a\n   2│ b\n"},
		{"crlf", "a\r\nb", "   1│ a\n   2│ b\n"},
		{"blank lines kept", "a\n\nb", "   1│ a\n   2│ \n   3│ b\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NumberLines(tt.content))
		})
	}
}

func TestNumberLines_WidensForLongFiles(t *testing.T) {
	out := NumberLines(strings.Repeat("x\n", 12345))
	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	require.Len(t, lines, 12345)
	assert.Equal(t, "    1│ x", lines[0])
	assert.Equal(t, "12345│ x", lines[12344])
}

func TestEmbed_RendersFilesInOrder(t *testing.T) {
	dir := t.TempDir()
	testutil.TempFile(t, dir, "b.go", "package b\n")
	testutil.TempFile(t, dir, "a.go", "package a\n\nfunc A() {}\n")

	out, err := New(WithRoot(dir)).Embed(context.Background(), []string{"b.go", "a.go", "b.go"})
	require.NoError(t, err)

	want := "--- BEGIN FILE: b.go ---\n" +
		"   1│ package b\n" +
		"--- END FILE: b.go ---\n" +
		"\n" +
		"--- BEGIN FILE: a.go ---\n" +
		"   1│ package a\n" +
		"   2│ \n" +
		"   3│ func A() {}\n" +
		"--- END FILE: a.go ---\n"
	assert.Equal(t, want, out)
}

func TestEmbed_ExpandsDirectories(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	testutil.TempFile(t, src, "z.txt", "z")
	testutil.TempFile(t, src, "a.txt", "a")
	testutil.TempFile(t, filepath.Join(src, ".git"), "HEAD", "ref")
	testutil.TempFile(t, filepath.Join(src, "node_modules"), "x.js", "x")

	out, err := New(WithRoot(dir)).Embed(context.Background(), []string{"src"})
	require.NoError(t, err)

	assert.Equal(t, 2, strings.Count(out, "--- BEGIN FILE:"))
	testutil.AssertContains(t, out, "--- BEGIN FILE: src/a.txt ---")
	assert.Less(t, strings.Index(out, "src/a.txt"), strings.Index(out, "src/z.txt"))
	testutil.AssertNotContains(t, out, "HEAD")
	testutil.AssertNotContains(t, out, "x.js")
}

func TestEmbed_RejectsPathsOutsideRoot(t *testing.T) {
	base := t.TempDir()
	secret := testutil.TempFile(t, base, "secret.txt", "TOPSECRET")
	project := filepath.Join(base, "project")
	testutil.TempFile(t, project, "ok.txt", "fine")

	for _, path := range []string{"../secret.txt", "sub/../../secret.txt", secret} {
		t.Run(path, func(t *testing.T) {
			out, err := New(WithRoot(project)).Embed(context.Background(), []string{"ok.txt", path})
			require.Error(t, err)
			assert.Equal(t, core.CodeInvalidPath, core.GetCode(err))
			assert.Empty(t, out)
		})
	}
}

func TestEmbed_SymlinkCannotLeaveRoot(t *testing.T) {
	base := t.TempDir()
	testutil.TempFile(t, base, "secret.txt", "TOPSECRET")
	project := filepath.Join(base, "project")
	testutil.TempFile(t, project, "ok.txt", "fine")
	if err := os.Symlink(filepath.Join(base, "secret.txt"), filepath.Join(project, "link.txt")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	out, err := New(WithRoot(project)).Embed(context.Background(), []string{"link.txt"})
	if err == nil {
		testutil.AssertNotContains(t, out, "TOPSECRET")
	}

	out, err = New(WithRoot(project)).Embed(context.Background(), []string{"."})
	require.NoError(t, err)
	testutil.AssertContains(t, out, "fine")
	testutil.AssertNotContains(t, out, "TOPSECRET")
}

func TestEmbed_MissingFile(t *testing.T) {
	_, err := New(WithRoot(t.TempDir())).Embed(context.Background(), []string{"nope.go"})
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatNotFound))
}

func TestEmbed_SkipsBinaryAndOversized(t *testing.T) {
	dir := t.TempDir()
	testutil.TempFile(t, dir, "bin.dat", "ab\x00cd")
	testutil.TempFile(t, dir, "big.txt", strings.Repeat("y", 64))

	out, err := New(WithRoot(dir), WithLimits(32, 0)).Embed(context.Background(), []string{"bin.dat", "big.txt"})
	require.NoError(t, err)

	testutil.AssertContains(t, out, "[file skipped: binary content]")
	testutil.AssertContains(t, out, "[file skipped: larger than 32 bytes]")
	testutil.AssertNotContains(t, out, "yyyy")
}

func TestEmbed_TotalBudget(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"1.txt", "2.txt", "3.txt"} {
		testutil.TempFile(t, dir, name, strings.Repeat("q", 40))
	}

	root, err := os.OpenRoot(dir)
	require.NoError(t, err)
	defer root.Close()
	// Room for exactly one block.
	budget := len(New().render(root, "1.txt")) + 10
	out, err := New(WithRoot(dir), WithLimits(0, budget)).Embed(context.Background(), []string{"1.txt", "2.txt", "3.txt"})
	require.NoError(t, err)

	assert.Equal(t, 1, strings.Count(out, "--- BEGIN FILE:"))
	testutil.AssertContains(t, out, "[2 more file(s) omitted: context budget exhausted]")
}

func TestEmbed_MaxFiles(t *testing.T) {
	dir := t.TempDir()
	testutil.TempFile(t, dir, "1.txt", "one")
	testutil.TempFile(t, dir, "2.txt", "two")

	out, err := New(WithRoot(dir), WithMaxFiles(1)).Embed(context.Background(), []string{"1.txt", "2.txt"})
	require.NoError(t, err)
	testutil.AssertContains(t, out, "one")
	testutil.AssertContains(t, out, "[1 more file(s) omitted")
}

func TestEmbed_Cancelled(t *testing.T) {
	dir := t.TempDir()
	testutil.TempFile(t, dir, "1.txt", "one")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(WithRoot(dir)).Embed(ctx, []string{"1.txt"})
	assert.ErrorIs(t, err, context.Canceled)
}
