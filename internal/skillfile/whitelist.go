package skillfile

import (
	"fmt"
	"regexp"
	"strings"
)

// Pattern is one whitelist entry: either an exact tool name ("gh") or
// a scoped form ("gh(pr:*)") restricting the tool to invocations whose
// first argument begins with the given sub-token.
type Pattern struct {
	Tool   string
	Prefix string // empty means any invocation of Tool
}

var patternRe = regexp.MustCompile(`^([a-zA-Z0-9_-]+)(?:\(([a-zA-Z0-9_./-]+):\*\))?$`)

// ParsePattern parses a single whitelist entry.
func ParsePattern(entry string) (Pattern, error) {
	m := patternRe.FindStringSubmatch(strings.TrimSpace(entry))
	if m == nil {
		return Pattern{}, fmt.Errorf("invalid allowed-tools entry %q (expected \"tool\" or \"tool(prefix:*)\")", entry)
	}
	return Pattern{Tool: m[1], Prefix: m[2]}, nil
}

// Whitelist is a parsed capability whitelist. A nil/empty whitelist
// means unrestricted; callers are expected to treat that state as a
// security warning, not as business as usual.
type Whitelist []Pattern

// ParseWhitelist parses all entries, rejecting the whole list on the
// first malformed one.
func ParseWhitelist(entries []string) (Whitelist, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	wl := make(Whitelist, 0, len(entries))
	for _, e := range entries {
		p, err := ParsePattern(e)
		if err != nil {
			return nil, err
		}
		wl = append(wl, p)
	}
	return wl, nil
}

// Empty reports whether no restriction is declared.
func (w Whitelist) Empty() bool {
	return len(w) == 0
}

// AllowsTool reports whether any entry names the given tool, ignoring
// argument scoping. Used to build the tool catalogue offered to the
// reasoning loop.
func (w Whitelist) AllowsTool(name string) bool {
	if w.Empty() {
		return true
	}
	for _, p := range w {
		if p.Tool == name {
			return true
		}
	}
	return false
}

// AllowsCommand reports whether a tokenized command (first token = tool
// name, remaining tokens = arguments) is permitted. Scoped entries
// require the arguments to begin with the declared sub-token: the entry
// gh(pr:*) permits "gh pr diff" but not "gh repo delete".
func (w Whitelist) AllowsCommand(tokens []string) bool {
	if len(tokens) == 0 {
		return false
	}
	if w.Empty() {
		return true
	}
	name := tokens[0]
	for _, p := range w {
		if p.Tool != name {
			continue
		}
		if p.Prefix == "" {
			return true
		}
		if len(tokens) > 1 && strings.HasPrefix(tokens[1], p.Prefix) {
			return true
		}
	}
	return false
}

// Names returns the distinct tool names mentioned in the whitelist, in
// declaration order.
func (w Whitelist) Names() []string {
	seen := make(map[string]bool)
	var names []string
	for _, p := range w {
		if !seen[p.Tool] {
			seen[p.Tool] = true
			names = append(names, p.Tool)
		}
	}
	return names
}
