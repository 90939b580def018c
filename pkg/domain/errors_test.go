package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestCallErrorFormat(t *testing.T) {
	if got := NewCallError(FailureTimeout, "").Error(); got != "call timeout" {
		t.Errorf("Error() = %q", got)
	}
	if got := NewCallError(FailureRefused, "quota exceeded").Error(); got != "call refused: quota exceeded" {
		t.Errorf("Error() = %q", got)
	}
}

func TestAsCallErrorThroughWrap(t *testing.T) {
	inner := NewCallError(FailureUnavailable, "peer not ready")
	wrapped := fmt.Errorf("calling planner: %w", inner)

	ce, ok := AsCallError(wrapped)
	if !ok {
		t.Fatal("AsCallError should find the CallError in the chain")
	}
	if ce.Kind != FailureUnavailable {
		t.Errorf("Kind = %q, want unavailable", ce.Kind)
	}

	if _, ok := AsCallError(errors.New("plain")); ok {
		t.Error("AsCallError should not match plain errors")
	}
}

func TestOutcomeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "Success", err: nil, want: OutcomeSuccess},
		{name: "Timeout", err: NewCallError(FailureTimeout, ""), want: "timeout"},
		{name: "Refused", err: NewCallError(FailureRefused, "no"), want: "refused"},
		{name: "Detached", err: NewCallError(FailureDetached, ""), want: "detached"},
		{name: "Plain Error", err: errors.New("boom"), want: "transport"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := OutcomeOf(tt.err); got != tt.want {
				t.Errorf("OutcomeOf() = %q, want %q", got, tt.want)
			}
		})
	}
}
