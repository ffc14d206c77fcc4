package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"

	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/core"
)

const maxSlugLen = 40

// Frontmatter is the YAML header of an archived report.
type Frontmatter struct {
	Tool           string    `yaml:"tool"`
	Status         string    `yaml:"status"`
	Workflow       string    `yaml:"workflow"`
	CreatedAt      time.Time `yaml:"created_at"`
	Prompt         string    `yaml:"prompt"`
	Models         []string  `yaml:"models"`
	Failed         []string  `yaml:"failed,omitempty"`
	Successful     int       `yaml:"successful"`
	Refined        int       `yaml:"refined"`
	ContinuationID string    `yaml:"continuation_id,omitempty"`
}

// Writer archives reports as markdown files with YAML frontmatter.
type Writer struct {
	dir string
	now func() time.Time
}

// NewWriter creates a writer storing files under dir.
func NewWriter(dir string) *Writer {
	return &Writer{dir: dir, now: time.Now}
}

// Write stores report and returns the file path.
func (w *Writer) Write(r *core.ConsensusReport) (string, error) {
	if err := os.MkdirAll(w.dir, 0o750); err != nil {
		return "", fmt.Errorf("creating report directory: %w", err)
	}

	created := w.now().UTC()
	doc, err := Document(r, created)
	if err != nil {
		return "", err
	}

	name := created.Format("20060102-150405") + "-" + slug(r.InitialPrompt) + ".md"
	path := filepath.Join(w.dir, name)
	if err := renameio.WriteFile(path, []byte(doc), 0o600); err != nil {
		return "", fmt.Errorf("writing report: %w", err)
	}
	return path, nil
}

// Document renders the full archived file: frontmatter then markdown body.
func Document(r *core.ConsensusReport, created time.Time) (string, error) {
	fm := Frontmatter{
		Tool:       r.Metadata.ToolName,
		Status:     r.Status,
		Workflow:   r.Metadata.WorkflowType,
		CreatedAt:  created,
		Prompt:     r.InitialPrompt,
		Models:     make([]string, 0, len(r.Responses)),
		Successful: r.SuccessfulResponses,
		Refined:    r.Metadata.ModelsWithRefinements,
	}
	for _, resp := range r.Responses {
		fm.Models = append(fm.Models, resp.Model)
	}
	for _, f := range r.FailedModels {
		fm.Failed = append(fm.Failed, f.Model)
	}
	if r.ContinuationOffer != nil {
		fm.ContinuationID = r.ContinuationOffer.ContinuationID
	}

	header, err := yaml.Marshal(fm)
	if err != nil {
		return "", fmt.Errorf("encoding frontmatter: %w", err)
	}

	var b strings.Builder
	b.WriteString("---\n")
	b.Write(header)
	b.WriteString("---\n\n")
	b.WriteString(RenderReport(r))
	return b.String(), nil
}

// slug turns a prompt into a short ASCII file-name fragment.
func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if b.Len() >= maxSlugLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		return "consultation"
	}
	return out
}
