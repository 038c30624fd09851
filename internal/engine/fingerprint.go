package engine

import (
	"regexp"
	"strings"
)

var (
	hexRunRe   = regexp.MustCompile(`\b[0-9a-f]{8,}\b`)
	digitRunRe = regexp.MustCompile(`\d+`)
	pathRe     = regexp.MustCompile(`(/[\w.\-]+)+`)
)

// fingerprint keys a failed approach as tool name plus a normalized
// error signature. Two failures that differ only in paths, counters or
// generated identifiers share a fingerprint, so retrying the same
// approach with cosmetically different errors still counts against one
// limit.
func fingerprint(tool, errText string) string {
	sig := strings.ToLower(strings.TrimSpace(errText))
	sig = pathRe.ReplaceAllString(sig, "/~")
	sig = hexRunRe.ReplaceAllString(sig, "#")
	sig = digitRunRe.ReplaceAllString(sig, "#")
	if len(sig) > 120 {
		sig = sig[:120]
	}
	return tool + "|" + sig
}
