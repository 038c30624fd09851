package preprocess

import (
	"strings"
	"testing"
	"time"
)

func TestSubstitute_ArgumentsPlaceholder(t *testing.T) {
	res := Substitute("Process: $ARGUMENTS", Context{Arguments: "data.csv"})

	if res.Text != "Process: data.csv" {
		t.Errorf("text wrong. expected=%q, got=%q", "Process: data.csv", res.Text)
	}
	if res.Count != 1 {
		t.Errorf("count wrong. expected=1, got=%d", res.Count)
	}
	if strings.Contains(res.Text, "ARGUMENTS:") {
		t.Errorf("arguments should not be appended when the placeholder was present")
	}
}

func TestSubstitute_AppendsUnplacedArguments(t *testing.T) {
	res := Substitute("Analyze the file.", Context{Arguments: "test.txt"})

	if !strings.HasSuffix(res.Text, "\n\nARGUMENTS: test.txt") {
		t.Errorf("arguments not appended, got=%q", res.Text)
	}
	if res.Count != 0 {
		t.Errorf("count wrong. expected=0, got=%d", res.Count)
	}
}

func TestSubstitute_NoAppendForEmptyArguments(t *testing.T) {
	res := Substitute("Analyze the file.", Context{})

	if res.Text != "Analyze the file." {
		t.Errorf("text changed without placeholders or arguments: %q", res.Text)
	}
}

func TestSubstitute_AllPlaceholders(t *testing.T) {
	date := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	text := "$SESSION_ID $SKILL_DIR $WORKING_DIR $USER $DATE"
	res := Substitute(text, Context{
		SessionID:  "s-1",
		SkillDir:   "/skills/demo",
		WorkingDir: "/work",
		User:       "alice",
		Date:       date,
	})

	want := "s-1 /skills/demo /work alice 2026-03-14"
	if res.Text != want {
		t.Errorf("text wrong. expected=%q, got=%q", want, res.Text)
	}
	if res.Count != 5 {
		t.Errorf("count wrong. expected=5, got=%d", res.Count)
	}
}

func TestSubstitute_UnknownPlaceholderLeftInPlace(t *testing.T) {
	res := Substitute("use $UNKNOWN_VAR twice: $UNKNOWN_VAR", Context{Arguments: "x"})

	if !strings.Contains(res.Text, "$UNKNOWN_VAR") {
		t.Errorf("unknown placeholder should stay in text, got=%q", res.Text)
	}
	if len(res.Undefined) != 1 || res.Undefined[0] != "UNKNOWN_VAR" {
		t.Errorf("undefined list wrong: %v", res.Undefined)
	}
}

func TestSubstitute_ExtraValues(t *testing.T) {
	res := Substitute("branch=$BRANCH", Context{
		Arguments: "go",
		Extra:     map[string]string{"branch": "main"},
	})

	if !strings.HasPrefix(res.Text, "branch=main") {
		t.Errorf("extra placeholder not replaced, got=%q", res.Text)
	}
}

func TestSubstitute_Idempotent(t *testing.T) {
	pctx := Context{Arguments: "data.csv", User: "bob"}
	first := Substitute("Run for $USER on $ARGUMENTS", pctx)
	second := Substitute(first.Text, pctx)

	if second.Text != first.Text {
		t.Errorf("second pass changed text. first=%q second=%q", first.Text, second.Text)
	}
	if second.Count != 0 {
		t.Errorf("second pass replaced placeholders: %d", second.Count)
	}
}

func TestSubstitute_AppendIdempotent(t *testing.T) {
	pctx := Context{Arguments: "test.txt"}
	first := Substitute("Analyze the file.", pctx)
	second := Substitute(first.Text, pctx)

	if second.Text != first.Text {
		t.Errorf("second pass changed text. first=%q second=%q", first.Text, second.Text)
	}
	if got := strings.Count(second.Text, "ARGUMENTS: test.txt"); got != 1 {
		t.Errorf("expected exactly one appended arguments line, got %d in %q", got, second.Text)
	}
}
