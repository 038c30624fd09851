// Package preprocess prepares skill instruction text for execution:
// placeholder substitution, supporting-file indexing and inline command
// injection. Every stage returns a value describing what it changed;
// none of them can fail a task on its own.
package preprocess

import (
	"regexp"
	"strings"
	"time"
)

// Context is the runtime record substituted into skill text.
type Context struct {
	Arguments  string
	SessionID  string
	SkillDir   string
	WorkingDir string
	User       string
	Date       time.Time
	Extra      map[string]string // arbitrary named extras
}

// SubstitutionResult records what substitution changed.
type SubstitutionResult struct {
	Text      string
	Count     int      // placeholders replaced
	Undefined []string // placeholder names left in place (diagnostics only)
}

var placeholderRe = regexp.MustCompile(`\$([A-Z][A-Z0-9_]*)`)

// Substitute replaces every recognized placeholder with its runtime
// value. Unresolved placeholders are left in place and reported, never
// an error. If $ARGUMENTS appears nowhere and arguments are non-empty,
// the value is appended as a labeled line so argument data is never
// silently dropped. Idempotent on text without remaining placeholders.
func Substitute(text string, pctx Context) SubstitutionResult {
	values := map[string]string{
		"ARGUMENTS":   pctx.Arguments,
		"SESSION_ID":  pctx.SessionID,
		"SKILL_DIR":   pctx.SkillDir,
		"WORKING_DIR": pctx.WorkingDir,
		"USER":        pctx.User,
	}
	if !pctx.Date.IsZero() {
		values["DATE"] = pctx.Date.Format("2006-01-02")
	}
	for k, v := range pctx.Extra {
		values[strings.ToUpper(k)] = v
	}

	hadArguments := strings.Contains(text, "$ARGUMENTS")

	res := SubstitutionResult{}
	seen := make(map[string]bool)

	res.Text = placeholderRe.ReplaceAllStringFunc(text, func(match string) string {
		name := strings.TrimPrefix(match, "$")
		if val, ok := values[name]; ok {
			res.Count++
			return val
		}
		if !seen[name] {
			seen[name] = true
			res.Undefined = append(res.Undefined, name)
		}
		return match
	})

	// Appending only when the labeled line is absent keeps a second
	// pass over already-substituted text a no-op.
	appended := "ARGUMENTS: " + pctx.Arguments
	if !hadArguments && pctx.Arguments != "" && !strings.Contains(res.Text, appended) {
		res.Text += "\n\n" + appended
	}

	return res
}
