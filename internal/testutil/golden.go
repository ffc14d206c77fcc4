package testutil

import (
	"flag"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

var update = flag.Bool("update", false, "update golden files")

// Golden compares rendered prompts and reports against files under a
// testdata directory. Run tests with -update to rewrite them.
type Golden struct {
	t   *testing.T
	dir string
}

// NewGolden creates a golden helper rooted at dir.
func NewGolden(t *testing.T, dir string) *Golden {
	return &Golden{t: t, dir: dir}
}

// AssertString compares actual against <dir>/<name>.golden.
func (g *Golden) AssertString(name, actual string) {
	g.t.Helper()
	path := filepath.Join(g.dir, name+".golden")

	if *update {
		if err := os.MkdirAll(g.dir, 0o755); err != nil {
			g.t.Fatalf("creating golden directory: %v", err)
		}
		if err := os.WriteFile(path, []byte(actual), 0o644); err != nil {
			g.t.Fatalf("writing golden file: %v", err)
		}
		g.t.Logf("updated golden file: %s", path)
		return
	}

	expected, err := os.ReadFile(path)
	if err != nil {
		g.t.Fatalf("reading golden file %s: %v", path, err)
	}
	if Normalize(string(expected)) != Normalize(actual) {
		g.t.Errorf("output mismatch for %s:\n--- expected ---\n%s\n--- actual ---\n%s", name, expected, actual)
	}
}

// Normalize unifies line endings and strips trailing whitespace.
func Normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}

var (
	uuidPattern    = regexp.MustCompile(`[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
	secondsPattern = regexp.MustCompile(`"(initial|refinement|total)_response_time":\s*[0-9.e-]+`)
)

// ScrubReport replaces thread ids and measured timings in a JSON report.
func ScrubReport(s string) string {
	s = uuidPattern.ReplaceAllString(s, "[UUID]")
	s = secondsPattern.ReplaceAllString(s, `"${1}_response_time": [SECONDS]`)
	return Normalize(s)
}
