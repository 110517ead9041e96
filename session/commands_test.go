package session

import "testing"

func TestInterpreter(t *testing.T) {
	tests := []struct {
		text   string
		want   Intent
		wantOK bool
	}{
		{"Hello there", IntentGreeting, true},
		{"please STOP now", IntentStopWorkflow, true},
		{"nonsense", "", false},
		{"", "", false},
		{"Begin the workflow", IntentStartWorkflow, true},
		{"give me a status", IntentStatusCheck, true},
		{"REPORT please", IntentStatusCheck, true},
		{"I need help", IntentShowHelp, true},
		// Первое правило побеждает
		{"hello, start now", IntentGreeting, true},
		{"start and stop", IntentStartWorkflow, true},
		// Подстрока: "this" содержит "hi"
		{"this", IntentGreeting, true},
	}

	in := NewInterpreter()
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, ok := in.Interpret(tt.text)
			if ok != tt.wantOK || got != tt.want {
				t.Fatalf("Interpret(%q) = %q, %v; want %q, %v", tt.text, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
