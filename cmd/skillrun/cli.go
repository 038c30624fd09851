// Package main is the entry point for the skillrun CLI.
package main

// CLI defines the command-line interface.
type CLI struct {
	Run      RunCmd      `cmd:"" help:"Run a skill"`
	Validate ValidateCmd `cmd:"" help:"Validate a skill definition"`
	Version  VersionCmd  `cmd:"" help:"Show version information"`
}

// RunCmd executes a skill.
type RunCmd struct {
	Skill     string `arg:"" help:"Skill directory (containing SKILL.md)"`
	Args      string `short:"a" help:"Arguments passed to the skill"`
	Config    string `help:"Config file path"`
	Mode      string `help:"Force execution strategy (autonomous|simple|fork)"`
	Model     string `help:"Model override for this run"`
	NATS      string `name:"nats" help:"NATS URL for streaming events"`
	TracesDir string `default:".skillrun/traces" help:"Directory for sub-agent traces"`
	Skills    string `help:"Directory searched when skills delegate by name"`
	Quiet     bool   `short:"q" help:"Suppress progress events, print only the answer"`
}

// ValidateCmd validates a SKILL.md without executing it.
type ValidateCmd struct {
	Skill string `arg:"" help:"Skill directory (containing SKILL.md)"`
}

// VersionCmd shows build information.
type VersionCmd struct{}
