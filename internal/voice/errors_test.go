package voice

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureKind
	}{
		{"auth", ErrAuth, FailureAuth},
		{"rate limited", ErrRateLimited, FailureRateLimited},
		{"quota", ErrQuotaExceeded, FailureQuota},
		{"bad request", ErrBadRequest, FailureBadRequest},
		{"validation", ErrValidation, FailureValidation},
		{"unavailable", ErrUnavailable, FailureUnavailable},
		{"wrapped sentinel", fmt.Errorf("calling out: %w", ErrRateLimited), FailureRateLimited},
		{"plain error", errors.New("unexpected"), FailureGeneric},
		{"nil", nil, FailureGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestUserMessagePerKind(t *testing.T) {
	// Each classified kind carries its own user-facing message; everything
	// else shares the generic one.
	distinct := []FailureKind{FailureAuth, FailureRateLimited, FailureBadRequest, FailureUnavailable}
	seen := map[string]FailureKind{}
	for _, kind := range distinct {
		msg := UserMessage(kind)
		if msg == "" {
			t.Errorf("UserMessage(%v) is empty", kind)
		}
		if prev, dup := seen[msg]; dup {
			t.Errorf("UserMessage(%v) duplicates message for %v", kind, prev)
		}
		seen[msg] = kind
	}

	if UserMessage(FailureGeneric) != UserMessage(FailureQuota) {
		// Quota has no bespoke generation message; it falls back to generic.
		t.Error("quota failures should use the generic message")
	}
}

func TestFailureKindString(t *testing.T) {
	if got := FailureRateLimited.String(); got != "rate_limited" {
		t.Errorf("String() = %q", got)
	}
	if got := FailureKind(99).String(); got != "generic" {
		t.Errorf("unknown kind String() = %q", got)
	}
}
