package store

import "testing"

func TestValidTransition(t *testing.T) {
	cases := []struct {
		action string
		from   string
		valid  bool
	}{
		{"call_next", "waiting", true},
		{"call_next", "serving", false},
		{"start_serving", "called", true},
		{"start_serving", "waiting", false},
		{"complete", "serving", true},
		{"complete", "called", false},
		{"complete", "waiting", false},
		{"hold", "serving", true},
		{"hold", "waiting", false},
		{"resume", "on_hold", true},
		{"resume", "serving", false},
		{"no_show", "called", true},
		{"no_show", "serving", true},
		{"no_show", "waiting", false},
		{"cancel", "waiting", true},
		{"cancel", "called", true},
		{"cancel", "serving", false},
		{"transfer", "serving", true},
		{"transfer", "waiting", false},
		{"recall", "called", true},
		{"recall", "completed", false},
		{"escalate", "waiting", true},
		{"escalate", "called", true},
		{"escalate", "serving", false},
		{"unknown", "waiting", false},
	}

	for _, tt := range cases {
		if got := ValidTransition(tt.action, tt.from); got != tt.valid {
			t.Fatalf("ValidTransition(%q, %q)=%v, want %v", tt.action, tt.from, got, tt.valid)
		}
	}
}

func TestTerminalRulesNeverLeaveTerminalStates(t *testing.T) {
	terminal := []string{"completed", "transferred", "no_show", "cancelled"}
	for action, rule := range transitionMap {
		for _, status := range terminal {
			if rule.Allows(status) {
				t.Fatalf("action %s allows terminal status %s", action, status)
			}
		}
	}
}
