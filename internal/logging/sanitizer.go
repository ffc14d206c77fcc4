package logging

import (
	"regexp"
)

const redactedPlaceholder = "[REDACTED]"

// Sanitizer redacts provider credentials from log output.
type Sanitizer struct {
	patterns []*regexp.Regexp
}

// NewSanitizer creates a sanitizer with the default credential patterns.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{patterns: compilePatterns(credentialPatterns)}
}

var credentialPatterns = []string{
	// Anthropic
	`sk-ant-[a-zA-Z0-9-]{40,}`,
	// OpenRouter
	`sk-or-v1-[a-f0-9]{32,}`,
	// OpenAI and compatible gateways
	`sk-[A-Za-z0-9_-]{20,}`,
	// Google AI
	`AIza[a-zA-Z0-9_-]{35}`,
	// xAI
	`xai-[A-Za-z0-9]{20,}`,
	// Bearer headers echoed by HTTP clients
	`(?i)bearer\s+[a-zA-Z0-9._-]{20,}`,
	// key=value style secrets
	`(?i)(api[_-]?key|secret|token)["'\s:=]+[a-zA-Z0-9_-]{20,}`,
	`(?i)password["'\s:=]+[^\s"']{8,}`,
	// Redis URLs with credentials
	`redis://[^:@\s]*:[^@\s]+@`,
}

func compilePatterns(patterns []string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		compiled = append(compiled, regexp.MustCompile(p))
	}
	return compiled
}

// Sanitize redacts sensitive information from a string.
func (s *Sanitizer) Sanitize(input string) string {
	result := input
	for _, pattern := range s.patterns {
		result = pattern.ReplaceAllString(result, redactedPlaceholder)
	}
	return result
}

// AddPattern adds a custom pattern.
func (s *Sanitizer) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	s.patterns = append(s.patterns, re)
	return nil
}
