package sanitize

import (
	"errors"
	"strings"
	"testing"
)

func TestSubjectToken(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"uuid unchanged", "0190c8e2-7b1a-7c3e-9d3f-2a1b4c5d6e7f", "0190c8e2-7b1a-7c3e-9d3f-2a1b4c5d6e7f"},
		{"case kept", "TaskA", "TaskA"},
		{"dots replaced", "ops.tasks", "ops_tasks"},
		{"wildcards replaced", "a*b>c", "a_b_c"},
		{"whitespace replaced", "my task", "my_task"},
		{"underscores collapsed", "a..b", "a_b"},
		{"edges trimmed", ".a.", "a"},
		{"empty", "", DefaultToken},
		{"only wildcards", "*>", DefaultToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SubjectToken(tt.input); got != tt.expected {
				t.Errorf("SubjectToken(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestSubjectToken_Truncation(t *testing.T) {
	long := strings.Repeat("a", 100)
	got := SubjectToken(long)
	if len(got) != MaxTokenLength {
		t.Errorf("len = %d, want %d", len(got), MaxTokenLength)
	}

	other := SubjectToken(strings.Repeat("a", 99) + "b")
	if got == other {
		t.Errorf("distinct long inputs collided: %q", got)
	}
	if SubjectToken(long) != got {
		t.Error("truncation is not deterministic")
	}
}

func TestValidateID(t *testing.T) {
	valid := []string{"0190c8e2-7b1a-7c3e-9d3f-2a1b4c5d6e7f", "task_1", "a"}
	for _, id := range valid {
		if err := ValidateID(id, "id"); err != nil {
			t.Errorf("ValidateID(%q) = %v, want nil", id, err)
		}
	}

	invalid := []string{"", "a b", "a/b", `a\b`, "a\tb", "a\x00b", strings.Repeat("x", MaxIDLength+1)}
	for _, id := range invalid {
		err := ValidateID(id, "id")
		if !errors.Is(err, ErrInvalidID) {
			t.Errorf("ValidateID(%q) = %v, want ErrInvalidID", id, err)
		}
	}
}
