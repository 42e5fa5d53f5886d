package apiexec

import "testing"

func TestSubstitute(t *testing.T) {
	tests := []struct {
		name  string
		ctx   Context
		input string
		want  string
	}{
		{
			"simple reference",
			Context{"$base": "https://api.example.com"},
			"$base/health",
			"https://api.example.com/health",
		},
		{
			"longer names win over prefixes",
			Context{"$id": "1", "$id_token": "abc"},
			"Bearer $id_token for user $id",
			"Bearer abc for user 1",
		},
		{
			"numeric values render without decimals",
			Context{"$count": float64(42)},
			"limit=$count",
			"limit=42",
		},
		{
			"fractional values keep the fraction",
			Context{"$ratio": 0.5},
			"r=$ratio",
			"r=0.5",
		},
		{
			"unknown references pass through",
			Context{"$a": "x"},
			"$missing stays",
			"$missing stays",
		},
		{
			"no variables is a no-op",
			Context{},
			"plain text",
			"plain text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ctx.Substitute(tt.input); got != tt.want {
				t.Errorf("Substitute(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNewContextPrecedence(t *testing.T) {
	ctx := NewContext(
		map[string]any{"$env": "prod", "$owner": "task"},
		map[string]string{"$env": "staging", "$region": "us-east"},
	)
	if ctx["$env"] != "staging" {
		t.Errorf("system variables must win over initial variables, got %v", ctx["$env"])
	}
	if ctx["$owner"] != "task" {
		t.Errorf("initial variable missing: %v", ctx["$owner"])
	}
	if ctx["$region"] != "us-east" {
		t.Errorf("system variable missing: %v", ctx["$region"])
	}
}
