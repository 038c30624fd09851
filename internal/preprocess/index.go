package preprocess

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// FileRef describes one supporting file referenced by skill text. The
// content is never read here: Loaded is flipped by the engine when the
// file-reading tool actually pulls the file in, which keeps context
// cost proportional to what the loop asks for rather than total skill
// size.
type FileRef struct {
	Name        string
	Path        string
	Description string
	EstLines    int
	Loaded      bool
}

// FileIndex maps file name to its reference.
type FileIndex map[string]*FileRef

// fileName matches a plausible supporting-file name.
const fileName = `[A-Za-z0-9][A-Za-z0-9._/-]*\.(?:md|txt|csv|json|yaml|yml|rst)`

var (
	// prose: "see reference.md", "read docs/usage.md (120 lines)"
	proseRefRe = regexp.MustCompile(`(?i)(?:see|read|refer to|consult)\s+(` + fileName + `)(?:\s*\((\d+)\s+lines?\))?`)

	// bulleted: "- reference.md: validation rules (80 lines)"
	bulletRefRe = regexp.MustCompile(`(?m)^\s*[-*]\s+(` + fileName + `)(?:\s*\((\d+)\s+lines?\))?(?:\s*[:—-]\s*(.+))?$`)

	// emphasized: "`reference.md`" or "**reference.md**"
	emphasisRefRe = regexp.MustCompile("(?:`(" + fileName + ")`|\\*\\*(" + fileName + ")\\*\\*)" + `(?:\s*\((\d+)\s+lines?\))?`)
)

// IndexFiles scans skill text for supporting-file references and keeps
// only files that actually exist under the skill directory. Missing
// references are dropped silently: this is a discovery aid, not a
// validator.
func IndexFiles(text, skillDir string) FileIndex {
	index := make(FileIndex)

	add := func(name, lines, desc string) {
		if name == "" {
			return
		}
		path := filepath.Join(skillDir, name)
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			return
		}
		ref, ok := index[name]
		if !ok {
			ref = &FileRef{Name: name, Path: path}
			index[name] = ref
		}
		if lines != "" && ref.EstLines == 0 {
			ref.EstLines, _ = strconv.Atoi(lines)
		}
		if desc != "" && ref.Description == "" {
			ref.Description = strings.TrimSpace(desc)
		}
	}

	for _, m := range proseRefRe.FindAllStringSubmatch(text, -1) {
		add(m[1], m[2], "")
	}
	for _, m := range bulletRefRe.FindAllStringSubmatch(text, -1) {
		add(m[1], m[2], m[3])
	}
	for _, m := range emphasisRefRe.FindAllStringSubmatch(text, -1) {
		name := m[1]
		if name == "" {
			name = m[2]
		}
		add(name, m[3], "")
	}

	return index
}

// Unloaded returns the names of files not yet loaded, sorted for
// stable prompt output.
func (fi FileIndex) Unloaded() []*FileRef {
	var refs []*FileRef
	for _, ref := range fi {
		if !ref.Loaded {
			refs = append(refs, ref)
		}
	}
	sortRefs(refs)
	return refs
}

// MarkLoaded flips the loaded flag for a file, reporting whether the
// name was in the index.
func (fi FileIndex) MarkLoaded(name string) bool {
	ref, ok := fi[name]
	if !ok {
		return false
	}
	ref.Loaded = true
	return true
}

func sortRefs(refs []*FileRef) {
	sort.Slice(refs, func(i, j int) bool { return refs[i].Name < refs[j].Name })
}
