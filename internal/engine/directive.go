package engine

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Directive is the structured next step parsed from an LLM response:
// either a final answer or a thought plus one tool action.
type Directive struct {
	Thought string  `json:"thought"`
	Action  *Action `json:"action"`
	Final   string  `json:"final"`
}

// Action names a tool and its decoded arguments.
type Action struct {
	Tool string                 `json:"tool"`
	Args map[string]interface{} `json:"args"`
}

// IsFinal reports whether the directive ends the task.
func (d *Directive) IsFinal() bool {
	return d.Final != ""
}

// parseDirective extracts the JSON object from a response that may be
// wrapped in markdown or prose and decodes it. A response with neither
// a final answer nor a usable action is malformed.
func parseDirective(content string) (*Directive, error) {
	jsonStr := extractJSON(content)
	if jsonStr == "" {
		return nil, fmt.Errorf("no JSON object in response")
	}

	var d Directive
	if err := json.Unmarshal([]byte(jsonStr), &d); err != nil {
		return nil, fmt.Errorf("undecodable directive: %w", err)
	}

	if d.Final == "" && (d.Action == nil || d.Action.Tool == "") {
		return nil, fmt.Errorf("directive has neither final answer nor action")
	}
	return &d, nil
}

// extractJSON finds the first balanced JSON object in content that may
// contain surrounding text.
func extractJSON(content string) string {
	start := strings.Index(content, "{")
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(content); i++ {
		c := content[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return content[start : i+1]
			}
		}
	}
	return ""
}
