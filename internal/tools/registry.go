package tools

import (
	"fmt"
	"sort"
	"sync"

	"github.com/skillrun/skillrun/internal/skillfile"
)

// ErrUnknownTool marks lookups for tools that are not registered at
// all, as opposed to tools hidden by the active restriction.
var ErrUnknownTool = fmt.Errorf("unknown tool")

// ErrRestricted marks lookups blocked by the active skill whitelist.
var ErrRestricted = fmt.Errorf("tool not permitted by active skill")

// Registry holds the tool set for one runtime. Construct one per
// runtime and pass it where needed; there is no package-level instance.
type Registry struct {
	mu          sync.RWMutex
	tools       map[string]Invoker
	restriction *restriction
}

type restriction struct {
	whitelist skillfile.Whitelist
	skill     string
	prev      *restriction
}

// NewRegistry builds a registry from the given tools. Duplicate names
// are an error: two tools answering to one name would make directive
// dispatch ambiguous.
func NewRegistry(invokers ...Invoker) (*Registry, error) {
	r := &Registry{tools: make(map[string]Invoker, len(invokers))}
	for _, inv := range invokers {
		if _, dup := r.tools[inv.Name()]; dup {
			return nil, fmt.Errorf("duplicate tool %q", inv.Name())
		}
		r.tools[inv.Name()] = inv
	}
	return r, nil
}

// Register adds one more tool after construction.
func (r *Registry) Register(inv Invoker) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.tools[inv.Name()]; dup {
		return fmt.Errorf("duplicate tool %q", inv.Name())
	}
	r.tools[inv.Name()] = inv
	return nil
}

// Lookup resolves a tool name against the registry and the active
// restriction.
func (r *Registry) Lookup(name string) (Invoker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inv, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
	if r.restriction != nil && !r.restriction.whitelist.AllowsTool(name) {
		return nil, fmt.Errorf("%w: %q (skill %q)", ErrRestricted, name, r.restriction.skill)
	}
	return inv, nil
}

// Names lists the tools visible under the active restriction, sorted.
// This is the catalogue offered to the reasoning loop.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	for name := range r.tools {
		if r.restriction != nil && !r.restriction.whitelist.AllowsTool(name) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe returns name and description for every visible tool, sorted
// by name.
func (r *Registry) Describe() []Invoker {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Invoker, 0, len(names))
	for _, name := range names {
		out = append(out, r.tools[name])
	}
	return out
}

// Restrict activates a skill's whitelist and returns the restore
// function. Restrictions stack: a sub-agent's skill narrows on top of
// its parent's, and restore pops exactly one level. Call restore with
// defer so every exit path unwinds it.
func (r *Registry) Restrict(skill string, wl skillfile.Whitelist) (restore func()) {
	r.mu.Lock()
	r.restriction = &restriction{whitelist: wl, skill: skill, prev: r.restriction}
	current := r.restriction
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			// Unwind to just below the level this restore owns, which
			// also drops any levels left behind by a missed restore.
			for node := r.restriction; node != nil; node = node.prev {
				if node == current {
					r.restriction = node.prev
					return
				}
			}
		})
	}
}
