package skillfile

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Discover finds all skills in a directory. Invalid skills are skipped:
// discovery is best-effort, full validation happens at Load time.
func Discover(skillsDir string) ([]SkillRef, error) {
	var refs []SkillRef

	entries, err := os.ReadDir(skillsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		skillPath := filepath.Join(skillsDir, entry.Name(), "SKILL.md")
		if _, err := os.Stat(skillPath); os.IsNotExist(err) {
			continue
		}

		ref, err := parseRef(skillPath)
		if err != nil {
			continue
		}
		ref.Path = filepath.Join(skillsDir, entry.Name())
		refs = append(refs, ref)
	}

	return refs, nil
}

// parseRef quickly parses just the frontmatter for discovery.
func parseRef(path string) (SkillRef, error) {
	f, err := os.Open(path)
	if err != nil {
		return SkillRef{}, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var inFrontmatter bool
	var fmLines []string

	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		if !inFrontmatter {
			if trimmed == "---" {
				inFrontmatter = true
			}
			continue
		}

		if trimmed == "---" {
			break
		}
		fmLines = append(fmLines, line)
	}

	var ref SkillRef
	if err := yaml.Unmarshal([]byte(strings.Join(fmLines, "\n")), &ref); err != nil {
		return SkillRef{}, err
	}

	return ref, nil
}

// Index caches discovered skill references across lookups and
// invalidates the cache when anything under the watched directories
// changes on disk.
type Index struct {
	mu      sync.Mutex
	dirs    []string
	refs    []SkillRef
	stale   bool
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewIndex creates an index over the given skill directories. Watching
// is best-effort: if the watcher cannot be created the index still
// works, it just re-scans on every lookup.
func NewIndex(dirs []string) *Index {
	idx := &Index{dirs: dirs, stale: true, done: make(chan struct{})}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return idx
	}
	idx.watcher = watcher
	for _, d := range dirs {
		_ = watcher.Add(d)
	}
	go idx.watch()
	return idx
}

// watch marks the cache stale on any filesystem change.
func (i *Index) watch() {
	for {
		select {
		case _, ok := <-i.watcher.Events:
			if !ok {
				return
			}
			i.mu.Lock()
			i.stale = true
			i.mu.Unlock()
		case _, ok := <-i.watcher.Errors:
			if !ok {
				return
			}
		case <-i.done:
			return
		}
	}
}

// Refs returns the cached references, re-scanning if stale.
func (i *Index) Refs() []SkillRef {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.stale || i.watcher == nil {
		var refs []SkillRef
		for _, d := range i.dirs {
			found, err := Discover(d)
			if err != nil {
				continue
			}
			refs = append(refs, found...)
		}
		i.refs = refs
		i.stale = false
	}
	return i.refs
}

// Find returns the reference with the given name, if discovered.
func (i *Index) Find(name string) (SkillRef, bool) {
	for _, ref := range i.Refs() {
		if ref.Name == name {
			return ref, true
		}
	}
	return SkillRef{}, false
}

// Close stops the watcher.
func (i *Index) Close() {
	close(i.done)
	if i.watcher != nil {
		i.watcher.Close()
	}
}
