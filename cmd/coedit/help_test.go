package main

import "testing"

func TestColorizeHelpOutput_NoColor(t *testing.T) {
	// Color is forced off for the package.
	in := "Usage:\n  coedit [command]\n\nSessions:\n  create      Create a session\n\nFlags:\n      --code string   code text\n      --http-url string   HTTP server URL (default \"http://localhost:4000\")\n"
	if got := colorizeHelpOutput(in); got != in {
		t.Errorf("colorizeHelpOutput changed text:\n%q\nwant\n%q", got, in)
	}
}

func TestHelpRules_Match(t *testing.T) {
	tests := []struct {
		rule int
		line string
		want string
	}{
		{0, "Sessions:", "Sessions:"},
		{1, "  create      Create a session", "create"},
		{2, "      --timeout duration   limit", "duration"},
		{3, `URL (default "http")`, `(default "http")`},
	}
	for _, tt := range tests {
		sub := helpRules[tt.rule].re.FindStringSubmatch(tt.line)
		if len(sub) != 3 || sub[2] != tt.want {
			t.Errorf("rule %d on %q = %q, want %q", tt.rule, tt.line, sub, tt.want)
		}
	}
}
