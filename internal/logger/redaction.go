package logger

import (
	"io"
	"regexp"
)

const redacted = "[REDACTED]"

// Provider key formats are listed before the generic key=value rules so a
// key is masked whole.
var defaultPatterns = []string{
	`sk-ant-[a-zA-Z0-9_-]{20,}`,
	`sk-(proj-)?[a-zA-Z0-9_-]{20,}`,
	`Bearer\s+[a-zA-Z0-9._-]+`,
	`(?i)x-api-key["\s:=]+[a-zA-Z0-9._-]{16,}`,
	`(?i)api[_-]?key["\s:=]+[a-zA-Z0-9._-]{16,}`,
	`token["\s:=]+[a-zA-Z0-9._-]{20,}`,
	`password["\s:=]+[^\s"]+`,
	`secret["\s:=]+[^\s"]+`,
}

// Redactor masks credentials in log output.
type Redactor struct {
	patterns []*regexp.Regexp
}

// NewRedactor returns a redactor loaded with the built-in credential patterns.
func NewRedactor() *Redactor {
	r := &Redactor{patterns: make([]*regexp.Regexp, 0, len(defaultPatterns))}
	for _, p := range defaultPatterns {
		r.patterns = append(r.patterns, regexp.MustCompile(p))
	}
	return r
}

// AddPattern adds a custom redaction pattern
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.patterns = append(r.patterns, re)
	return nil
}

// AddSecret masks every occurrence of a literal value. Values shorter than
// eight characters are ignored.
func (r *Redactor) AddSecret(secret string) {
	if len(secret) < 8 {
		return
	}
	r.patterns = append(r.patterns, regexp.MustCompile(regexp.QuoteMeta(secret)))
}

// Redact masks every match of the configured patterns.
func (r *Redactor) Redact(s string) string {
	for _, re := range r.patterns {
		s = re.ReplaceAllString(s, redacted)
	}
	return s
}

// Wrap returns a writer that redacts each write before passing it on.
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return writerFunc(func(p []byte) (int, error) {
		if _, err := io.WriteString(w, r.Redact(string(p))); err != nil {
			return 0, err
		}
		// Report the caller's length even when masking changed it.
		return len(p), nil
	})
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
