package consensus

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
)

//go:embed prompts/*.md.tmpl
var promptsFS embed.FS

var promptTemplates = template.Must(
	template.New("prompts").Funcs(templateFuncs()).ParseFS(promptsFS, "prompts/*.md.tmpl"),
)

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"add":       func(a, b int) int { return a + b },
		"trimSpace": strings.TrimSpace,
	}
}

func renderPrompt(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := promptTemplates.ExecuteTemplate(&buf, name+".md.tmpl", data); err != nil {
		return "", fmt.Errorf("rendering %s prompt: %w", name, err)
	}
	return buf.String(), nil
}

// DefaultSystemPrompt returns the system prompt sent with every consultation.
func DefaultSystemPrompt() string {
	s, err := renderPrompt("system", nil)
	if err != nil {
		// The template is static and parsed at init.
		panic(err)
	}
	return s
}
