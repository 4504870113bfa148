package classify

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassifyKinds(t *testing.T) {
	t.Parallel()
	c := NewPatterns(nil)

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "nil", err: nil, want: Transient},
		{name: "timeout", err: errors.New("net/http: request timed out"), want: Transient},
		{name: "page load", err: errors.New("navigation failed: page crashed"), want: Transient},
		{name: "suspended", err: errors.New("This account has been SUSPENDED"), want: Banned},
		{name: "banned wrapped", err: fmt.Errorf("desktop flow: %w", errors.New("user is banned")), want: Banned},
		{name: "locked", err: errors.New("your account has been locked"), want: Banned},
		{name: "verify prompt", err: errors.New("please verify your account to continue"), want: Compromised},
		{name: "unusual activity", err: errors.New("we detected unusual activity"), want: Compromised},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.err)
			if got.Kind != tt.want {
				t.Fatalf("Classify(%v).Kind = %v, want %v", tt.err, got.Kind, tt.want)
			}
			if tt.want != Transient && got.Reason == "" {
				t.Fatal("non-transient verdict has no reason")
			}
		})
	}
}

func TestClassifyExtraPatterns(t *testing.T) {
	t.Parallel()
	c := NewPatterns([]string{"Flagged For Review", "  "})

	v := c.Classify(errors.New("account flagged for review by operator"))
	if v.Kind != Banned {
		t.Fatalf("extra pattern not matched: %+v", v)
	}
}

func TestBanWinsOverCompromise(t *testing.T) {
	t.Parallel()
	c := NewPatterns(nil)
	v := c.Classify(errors.New("suspended after unusual activity"))
	if v.Kind != Banned {
		t.Fatalf("ban signature should dominate: %+v", v)
	}
}
