// Package classify decides what a caught task-flow error means for the
// account: transient noise, an account ban, or a security challenge.
//
// Classification is text-based and inherently tied to upstream wording, so
// it lives behind a small interface instead of inline matching in the
// orchestration code.
package classify

import "strings"

type Kind int

const (
	// Transient failures are retried locally and then recorded as an
	// account-level error string; they never stop the run.
	Transient Kind = iota
	// Banned is terminal for the account's remaining flows and may trigger
	// global standby depending on config.
	Banned
	// Compromised (security challenge) halts only the account's remaining
	// steps; it does not imply a ban.
	Compromised
)

func (k Kind) String() string {
	switch k {
	case Banned:
		return "banned"
	case Compromised:
		return "compromised"
	default:
		return "transient"
	}
}

type Verdict struct {
	Kind   Kind
	Reason string
}

// Classifier inspects a caught error and returns a verdict.
type Classifier interface {
	Classify(err error) Verdict
}

// Known upstream wordings. Substring match, case-insensitive.
var (
	banSignatures = []string{
		"suspended",
		"banned",
		"account has been locked",
		"serious violation",
		"terms of use",
		"abuse",
	}
	compromiseSignatures = []string{
		"verify your account",
		"unusual activity",
		"security challenge",
		"identity verification",
		"suspicious sign",
	}
)

// Patterns matches error text against the built-in ban/compromise
// signatures plus any extra ban patterns from config.
type Patterns struct {
	extraBan []string
}

func NewPatterns(extraBanPatterns []string) *Patterns {
	extra := make([]string, 0, len(extraBanPatterns))
	for _, p := range extraBanPatterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			extra = append(extra, p)
		}
	}
	return &Patterns{extraBan: extra}
}

func (c *Patterns) Classify(err error) Verdict {
	if err == nil {
		return Verdict{Kind: Transient}
	}
	text := strings.ToLower(err.Error())

	for _, sig := range banSignatures {
		if strings.Contains(text, sig) {
			return Verdict{Kind: Banned, Reason: sig}
		}
	}
	for _, sig := range c.extraBan {
		if strings.Contains(text, sig) {
			return Verdict{Kind: Banned, Reason: sig}
		}
	}
	for _, sig := range compromiseSignatures {
		if strings.Contains(text, sig) {
			return Verdict{Kind: Compromised, Reason: sig}
		}
	}
	return Verdict{Kind: Transient}
}
