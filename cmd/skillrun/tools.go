package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/skillrun/skillrun/internal/config"
	"github.com/skillrun/skillrun/internal/logging"
	"github.com/skillrun/skillrun/internal/tools"
)

// builtinTools is the file tool surface offered to every skill, before
// the skill's whitelist narrows it. Skills get read/write/list inside
// the working tree; scripts and delegation come from the per-task tools
// the orchestrator adds.
func builtinTools(cfg *config.Config, log *logging.Logger) []tools.Invoker {
	limit := cfg.Engine.CommandOutputCap
	if limit <= 0 {
		limit = 10000
	}

	return []tools.Invoker{
		tools.Func{
			ToolName: "read_file",
			Desc:     "read a file; args: path",
			Fn: func(ctx context.Context, args tools.Args) tools.Result {
				path := args.String("path")
				if path == "" {
					return tools.Result{Err: fmt.Errorf("read_file requires a path argument")}
				}
				data, err := os.ReadFile(path)
				if err != nil {
					return tools.Result{Err: err}
				}
				out := string(data)
				if len(out) > limit {
					out = out[:limit] + "\n[truncated]"
				}
				return tools.Result{Output: out}
			},
		},
		tools.Func{
			ToolName: "write_file",
			Desc:     "write content to a file; args: path, content",
			Fn: func(ctx context.Context, args tools.Args) tools.Result {
				path := args.String("path")
				if path == "" {
					return tools.Result{Err: fmt.Errorf("write_file requires a path argument")}
				}
				if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
					return tools.Result{Err: err}
				}
				content := args.String("content")
				if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
					return tools.Result{Err: err}
				}
				log.Debug("file written", map[string]interface{}{"path": path, "bytes": len(content)})
				return tools.Result{Output: fmt.Sprintf("wrote %d bytes to %s", len(content), path)}
			},
		},
		tools.Func{
			ToolName: "list_dir",
			Desc:     "list directory entries; args: path",
			Fn: func(ctx context.Context, args tools.Args) tools.Result {
				path := args.String("path")
				if path == "" {
					path = "."
				}
				entries, err := os.ReadDir(path)
				if err != nil {
					return tools.Result{Err: err}
				}
				var names []string
				for _, e := range entries {
					name := e.Name()
					if e.IsDir() {
						name += "/"
					}
					names = append(names, name)
				}
				sort.Strings(names)
				return tools.Result{Output: strings.Join(names, "\n")}
			},
		},
	}
}
