package skillfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validSkill = `---
name: summarize
description: Summarize a document
allowed-tools:
  - read_file
  - gh(pr:*)
execution-mode: autonomous
max-iterations: 10
---
Read the document at $ARGUMENTS and produce a summary.
`

func TestParse_ValidSkill(t *testing.T) {
	skill, err := Parse(validSkill)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if skill.Name != "summarize" {
		t.Errorf("expected name %q, got %q", "summarize", skill.Name)
	}
	if skill.Description != "Summarize a document" {
		t.Errorf("expected description %q, got %q", "Summarize a document", skill.Description)
	}
	if skill.Mode() != ModeAutonomous {
		t.Errorf("expected mode %q, got %q", ModeAutonomous, skill.Mode())
	}
	if skill.MaxIterations == nil || *skill.MaxIterations != 10 {
		t.Errorf("expected max-iterations 10, got %v", skill.MaxIterations)
	}
	if !strings.Contains(skill.Instructions, "$ARGUMENTS") {
		t.Errorf("expected body preserved, got %q", skill.Instructions)
	}
}

func TestParse_Whitelist(t *testing.T) {
	skill, err := Parse(validSkill)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wl := skill.Whitelist()
	if wl.Empty() {
		t.Fatal("expected non-empty whitelist")
	}
	if !wl.AllowsCommand([]string{"read_file", "doc.md"}) {
		t.Error("expected read_file to be allowed")
	}
	if !wl.AllowsCommand([]string{"gh", "pr", "diff"}) {
		t.Error("expected gh pr to be allowed by scoped entry")
	}
	if wl.AllowsCommand([]string{"gh", "repo", "delete"}) {
		t.Error("expected gh repo to be rejected by scoped entry")
	}
	if wl.AllowsCommand([]string{"rm", "-rf", "/"}) {
		t.Error("expected unlisted command to be rejected")
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"no frontmatter", "just a body\n", "frontmatter"},
		{"unclosed frontmatter", "---\nname: x\n", "unclosed"},
		{"missing name", "---\ndescription: d\n---\nbody\n", "name"},
		{"missing description", "---\nname: x\n---\nbody\n", "description"},
		{"uppercase name", "---\nname: Bad\ndescription: d\n---\nbody\n", "lowercase"},
		{"bad mode", "---\nname: x\ndescription: d\nexecution-mode: turbo\n---\nbody\n", "execution-mode"},
		{"iterations out of range", "---\nname: x\ndescription: d\nmax-iterations: 0\n---\nbody\n", "max-iterations"},
		{"bad whitelist entry", "---\nname: x\ndescription: d\nallowed-tools:\n  - \"gh(pr\"\n---\nbody\n", "allowed-tools"},
		{"bad timeout", "---\nname: x\ndescription: d\niteration-timeout: fast\n---\nbody\n", "iteration-timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.content)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !errors.Is(err, ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error mentioning %q, got %q", tt.wantErr, err.Error())
			}
		})
	}
}

func TestParse_BodyLengthCap(t *testing.T) {
	body := strings.Repeat("instruction line\n", MaxBodyLines+1)

	over := "---\nname: long\ndescription: d\n---\n" + body
	if _, err := Parse(over); err == nil {
		t.Fatal("expected error for body over the line cap")
	}

	withOverride := "---\nname: long\ndescription: d\nlegacy-length-override: true\n---\n" + body
	skill, err := Parse(withOverride)
	if err != nil {
		t.Fatalf("expected override to allow loading, got %v", err)
	}
	if skill.LengthWarning == "" {
		t.Error("expected a length warning when loaded via override")
	}
	if !strings.Contains(skill.LengthWarning, "legacy-length-override") {
		t.Errorf("warning should name the override, got %q", skill.LengthWarning)
	}
}

func TestLoad_NameMustMatchDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "other-name")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "SKILL.md"), []byte(validSkill), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(dir)
	if err == nil {
		t.Fatal("expected error for name/directory mismatch")
	}
	if !strings.Contains(err.Error(), "does not match directory") {
		t.Errorf("expected mismatch error, got %q", err.Error())
	}
}

func TestLoad_Valid(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "summarize")
	if err := os.MkdirAll(filepath.Join(dir, "scripts"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "SKILL.md"), []byte(validSkill), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "scripts", "fetch.sh"), []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	skill, err := Load(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if skill.Path != dir {
		t.Errorf("expected path %q, got %q", dir, skill.Path)
	}

	scripts, err := skill.ListScripts()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(scripts) != 1 || scripts[0] != "fetch.sh" {
		t.Errorf("expected scripts [fetch.sh], got %v", scripts)
	}
}

func TestDiscover(t *testing.T) {
	root := t.TempDir()
	for i, name := range []string{"alpha", "beta"} {
		dir := filepath.Join(root, name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		content := fmt.Sprintf("---\nname: %s\ndescription: skill %d\n---\nbody\n", name, i)
		if err := os.WriteFile(filepath.Join(dir, "SKILL.md"), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	// A directory without SKILL.md is not a skill.
	if err := os.MkdirAll(filepath.Join(root, "notes"), 0o755); err != nil {
		t.Fatal(err)
	}

	refs, err := Discover(root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("expected 2 skills, got %d", len(refs))
	}

	idx := NewIndex([]string{root})
	defer idx.Close()
	ref, ok := idx.Find("beta")
	if !ok {
		t.Fatal("expected to find skill beta")
	}
	if ref.Path != filepath.Join(root, "beta") {
		t.Errorf("expected path %q, got %q", filepath.Join(root, "beta"), ref.Path)
	}
	if _, ok := idx.Find("missing"); ok {
		t.Error("expected missing skill to not be found")
	}
}

func TestParsePattern(t *testing.T) {
	p, err := ParsePattern("gh(pr:*)")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Tool != "gh" || p.Prefix != "pr" {
		t.Errorf("expected tool=gh prefix=pr, got tool=%q prefix=%q", p.Tool, p.Prefix)
	}

	if _, err := ParsePattern("gh(pr:"); err == nil {
		t.Error("expected error for malformed pattern")
	}
	if _, err := ParsePattern("rm -rf"); err == nil {
		t.Error("expected error for pattern with spaces")
	}
}
