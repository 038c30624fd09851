package events

import "regexp"

// Credential-shaped values are scrubbed from event text before any sink
// sees them. Labeled assignments catch config and log echoes; the token
// shapes catch real keys pasted verbatim into output.
var redactPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key\s*[=:]\s*)\S+`),
	regexp.MustCompile(`(?i)(password\s*[=:]\s*)\S+`),
	regexp.MustCompile(`(?i)(token\s*[=:]\s*)\S+`),
	regexp.MustCompile(`(?i)(secret\s*[=:]\s*)\S+`),
	regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9._\-]+`),
}

var redactTokenShapes = []*regexp.Regexp{
	regexp.MustCompile(`sk-[A-Za-z0-9_\-]{20,}`),
	regexp.MustCompile(`ghp_[A-Za-z0-9]{36}`),
	regexp.MustCompile(`AKIA[A-Z0-9]{16}`),
}

// Redact replaces credential values in s with a placeholder, keeping
// the label so the event remains readable.
func Redact(s string) string {
	for _, re := range redactPatterns {
		s = re.ReplaceAllString(s, "${1}[REDACTED]")
	}
	for _, re := range redactTokenShapes {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}
