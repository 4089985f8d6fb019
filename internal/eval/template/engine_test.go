package template

import "testing"

func TestRender(t *testing.T) {
	e := NewEngine()
	data := map[string]interface{}{
		"subject": "a lighthouse",
		"style":   "watercolor",
		"tags":    []interface{}{"sea", "dusk"},
		"mood":    "  CALM ",
	}

	tests := []struct {
		tmpl string
		want string
	}{
		{"{{subject}}", "a lighthouse"},
		{"{{uppercase style}} painting", "WATERCOLOR painting"},
		{"{{join tags \", \"}}", "sea, dusk"},
		{"{{trim mood}}", "CALM"},
		{"{{lowercase style}}", "watercolor"},
		{"plain text", "plain text"},
	}

	for _, tt := range tests {
		got, err := e.Render(tt.tmpl, data)
		if err != nil {
			t.Errorf("%q: unexpected error: %v", tt.tmpl, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Render(%q) = %q, want %q", tt.tmpl, got, tt.want)
		}
	}
}

func TestRender_ParseError(t *testing.T) {
	if _, err := NewEngine().Render("{{#if}}", nil); err == nil {
		t.Error("expected parse error")
	}
}

func TestNewEngine_Twice(t *testing.T) {
	NewEngine()
	NewEngine()
}
