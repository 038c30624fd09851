// Package skillfile loads and validates skill declarations. A skill is
// a folder containing SKILL.md: YAML frontmatter (name, tool
// whitelist, execution policy) followed by a markdown instruction body.
package skillfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/skillrun/skillrun/internal/config"
)

// ErrValidation marks a bad skill declaration. Execution never starts
// for a skill that fails validation.
var ErrValidation = errors.New("skill validation failed")

// MaxBodyLines is the hard cap on instruction body length. Bodies over
// the cap fail validation unless the legacy override flag is set, in
// which case loading succeeds with a logged warning. The override
// affects only this length check, never the command-injection security
// layers (decision pending product confirmation).
const MaxBodyLines = 500

// Mode is the declared execution mode.
type Mode string

const (
	ModeAutonomous Mode = "autonomous" // iterative tool loop (default)
	ModeSimple     Mode = "simple"     // single LLM pass, no tools
)

// Skill represents a loaded skill declaration. Immutable once loaded:
// the orchestrator owns it for the duration of one task and nothing
// mutates it during execution.
type Skill struct {
	// From frontmatter
	Name             string   `yaml:"name"`
	Description      string   `yaml:"description"`
	AllowedTools     []string `yaml:"allowed-tools,omitempty"`
	ExecutionMode    string   `yaml:"execution-mode,omitempty"`
	Fork             bool     `yaml:"fork,omitempty"`
	MaxIterations    *int     `yaml:"max-iterations,omitempty"`
	MaxRetries       *int     `yaml:"max-retries-per-tool,omitempty"`
	IterationTimeout string   `yaml:"iteration-timeout,omitempty"`
	Model            string   `yaml:"model,omitempty"`
	EarlyTermination *bool    `yaml:"early-termination,omitempty"`
	LengthOverride   bool     `yaml:"legacy-length-override,omitempty"`

	// From content
	Instructions string `yaml:"-"`

	// Location
	Path string `yaml:"-"`

	// LengthWarning is set when the body exceeds MaxBodyLines and the
	// legacy override allowed it through. Callers must log it.
	LengthWarning string `yaml:"-"`

	whitelist Whitelist
}

// SkillRef is a minimal reference for discovery.
type SkillRef struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Path        string `yaml:"-"`
}

// Load loads a skill from a directory.
func Load(skillDir string) (*Skill, error) {
	skillPath := filepath.Join(skillDir, "SKILL.md")

	content, err := os.ReadFile(skillPath)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot read SKILL.md: %v", ErrValidation, err)
	}

	skill, err := Parse(string(content))
	if err != nil {
		return nil, err
	}

	skill.Path = skillDir

	// The declared name anchors tool restrictions and trace
	// attribution, so it must match the directory.
	dirName := filepath.Base(skillDir)
	if skill.Name != dirName {
		return nil, fmt.Errorf("%w: skill name %q does not match directory name %q", ErrValidation, skill.Name, dirName)
	}

	return skill, nil
}

// Parse parses SKILL.md content.
func Parse(content string) (*Skill, error) {
	frontmatter, body, err := splitFrontmatter(content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	skill := &Skill{}
	if err := yaml.Unmarshal([]byte(frontmatter), skill); err != nil {
		return nil, fmt.Errorf("%w: invalid frontmatter: %v", ErrValidation, err)
	}

	if skill.Name == "" {
		return nil, fmt.Errorf("%w: missing required field: name", ErrValidation)
	}
	if skill.Description == "" {
		return nil, fmt.Errorf("%w: missing required field: description", ErrValidation)
	}
	if err := validateName(skill.Name); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	switch skill.ExecutionMode {
	case "", string(ModeAutonomous), string(ModeSimple):
	default:
		return nil, fmt.Errorf("%w: execution-mode is %q, must be %q or %q", ErrValidation, skill.ExecutionMode, ModeAutonomous, ModeSimple)
	}

	if skill.MaxIterations != nil && (*skill.MaxIterations < 1 || *skill.MaxIterations > 100) {
		return nil, fmt.Errorf("%w: max-iterations is %d, must be between 1 and 100", ErrValidation, *skill.MaxIterations)
	}
	if skill.MaxRetries != nil && (*skill.MaxRetries < 0 || *skill.MaxRetries > 10) {
		return nil, fmt.Errorf("%w: max-retries-per-tool is %d, must be between 0 and 10", ErrValidation, *skill.MaxRetries)
	}
	if skill.IterationTimeout != "" {
		if _, err := time.ParseDuration(skill.IterationTimeout); err != nil {
			return nil, fmt.Errorf("%w: iteration-timeout %q is not a valid duration (use forms like \"30s\", \"1m\", \"500ms\")", ErrValidation, skill.IterationTimeout)
		}
	}

	wl, err := ParseWhitelist(skill.AllowedTools)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	skill.whitelist = wl

	skill.Instructions = strings.TrimSpace(body)

	if n := countLines(skill.Instructions); n > MaxBodyLines {
		if !skill.LengthOverride {
			return nil, fmt.Errorf("%w: instruction body is %d lines, the maximum is %d (set legacy-length-override to load anyway)", ErrValidation, n, MaxBodyLines)
		}
		skill.LengthWarning = fmt.Sprintf("instruction body is %d lines, over the %d-line limit; loaded via legacy-length-override", n, MaxBodyLines)
	}

	return skill, nil
}

// Mode returns the declared execution mode, defaulting to autonomous.
func (s *Skill) Mode() Mode {
	if s.ExecutionMode == string(ModeSimple) {
		return ModeSimple
	}
	return ModeAutonomous
}

// Whitelist returns the parsed tool-capability whitelist.
func (s *Skill) Whitelist() Whitelist {
	return s.whitelist
}

// Overrides returns the skill's execution policy overrides for merging
// with platform defaults.
func (s *Skill) Overrides() config.Overrides {
	ov := config.Overrides{
		MaxIterations:     s.MaxIterations,
		MaxRetriesPerTool: s.MaxRetries,
		EarlyTermination:  s.EarlyTermination,
		Model:             s.Model,
	}
	if s.IterationTimeout != "" {
		d, err := time.ParseDuration(s.IterationTimeout)
		if err == nil {
			ov.IterationTimeout = &d
		}
	}
	return ov
}

// ScriptsDir returns the directory bundled scripts must live in.
func (s *Skill) ScriptsDir() string {
	return filepath.Join(s.Path, "scripts")
}

// ScriptPath returns the full path to a bundled script.
func (s *Skill) ScriptPath(name string) string {
	return filepath.Join(s.Path, "scripts", name)
}

// ListScripts lists available scripts in the skill.
func (s *Skill) ListScripts() ([]string, error) {
	entries, err := os.ReadDir(s.ScriptsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var scripts []string
	for _, entry := range entries {
		if !entry.IsDir() {
			scripts = append(scripts, entry.Name())
		}
	}
	return scripts, nil
}

// splitFrontmatter extracts YAML frontmatter from markdown.
func splitFrontmatter(content string) (frontmatter, body string, err error) {
	lines := strings.Split(content, "\n")

	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return "", "", fmt.Errorf("missing frontmatter delimiter")
	}

	var fmLines []string
	var bodyStart int
	inFrontmatter := true

	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			inFrontmatter = false
			bodyStart = i + 1
			break
		}
		if inFrontmatter {
			fmLines = append(fmLines, lines[i])
		}
	}

	if inFrontmatter {
		return "", "", fmt.Errorf("unclosed frontmatter")
	}

	frontmatter = strings.Join(fmLines, "\n")
	if bodyStart < len(lines) {
		body = strings.Join(lines[bodyStart:], "\n")
	}

	return frontmatter, body, nil
}

// validateName validates a skill name.
func validateName(name string) error {
	if len(name) == 0 || len(name) > 64 {
		return fmt.Errorf("name must be 1-64 characters")
	}
	if strings.HasPrefix(name, "-") || strings.HasSuffix(name, "-") {
		return fmt.Errorf("name cannot start or end with hyphen")
	}
	if strings.Contains(name, "--") {
		return fmt.Errorf("name cannot contain consecutive hyphens")
	}
	for _, r := range name {
		if !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-') {
			return fmt.Errorf("name can only contain lowercase letters, numbers, and hyphens")
		}
	}
	return nil
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	return strings.Count(s, "\n") + 1
}
