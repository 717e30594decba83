package models

import "testing"

func TestIsValidEscrowTransition(t *testing.T) {
	tests := []struct {
		from     string
		to       string
		expected bool
	}{
		// Happy path
		{EscrowStatusCreated, EscrowStatusDeposited, true},
		{EscrowStatusDeposited, EscrowStatusShipped, true},
		{EscrowStatusDeposited, EscrowStatusReleased, true},
		{EscrowStatusShipped, EscrowStatusReleased, true},

		// Disputes from either funded state
		{EscrowStatusDeposited, EscrowStatusDisputed, true},
		{EscrowStatusShipped, EscrowStatusDisputed, true},

		// Arbitration outcomes
		{EscrowStatusDisputed, EscrowStatusReleased, true},
		{EscrowStatusDisputed, EscrowStatusCancelled, true},

		// Cancellation paths
		{EscrowStatusCreated, EscrowStatusCancelled, true},
		{EscrowStatusDeposited, EscrowStatusCancelled, true},
		{EscrowStatusShipped, EscrowStatusCancelled, true},

		// Invalid transitions
		{EscrowStatusCreated, EscrowStatusReleased, false},
		{EscrowStatusCreated, EscrowStatusShipped, false},
		{EscrowStatusCreated, EscrowStatusDisputed, false},
		{EscrowStatusReleased, EscrowStatusDisputed, false},
		{EscrowStatusReleased, EscrowStatusCancelled, false},
		{EscrowStatusCancelled, EscrowStatusDeposited, false},
		{EscrowStatusDisputed, EscrowStatusShipped, false},
		{EscrowStatusDisputed, EscrowStatusDeposited, false},
		{"nonexistent", EscrowStatusDeposited, false},
		{EscrowStatusCreated, "nonexistent", false},
	}

	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			result := IsValidEscrowTransition(tt.from, tt.to)
			if result != tt.expected {
				t.Errorf("IsValidEscrowTransition(%q, %q) = %v, want %v", tt.from, tt.to, result, tt.expected)
			}
		})
	}
}

func TestAllStatusesHaveTransitionEntry(t *testing.T) {
	allStatuses := []string{
		EscrowStatusCreated, EscrowStatusDeposited, EscrowStatusShipped,
		EscrowStatusDisputed, EscrowStatusReleased, EscrowStatusCancelled,
	}

	for _, status := range allStatuses {
		if _, ok := ValidEscrowTransitions[status]; !ok {
			t.Errorf("status %q missing from ValidEscrowTransitions map", status)
		}
	}
}

func TestTerminalStatusesHaveNoTransitions(t *testing.T) {
	terminal := []string{EscrowStatusReleased, EscrowStatusCancelled}
	for _, status := range terminal {
		transitions := ValidEscrowTransitions[status]
		if len(transitions) != 0 {
			t.Errorf("terminal status %q should have no transitions, got %v", status, transitions)
		}
	}
}
