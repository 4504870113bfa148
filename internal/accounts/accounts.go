// Package accounts loads the read-only account list that a run operates on.
package accounts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// Account holds one identity this system automates tasks for.
// The list is loaded once at startup and never mutated during a run.
type Account struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	TOTPSecret string `json:"totp_secret,omitempty"`

	Proxy *Proxy `json:"proxy,omitempty"`

	RecoveryEmail string `json:"recovery_email,omitempty"`
	RecoveryPhone string `json:"recovery_phone,omitempty"`
}

type Proxy struct {
	URL      string `json:"url"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// ID returns the stable identity used for job-state keys and summaries.
func (a Account) ID() string { return strings.ToLower(strings.TrimSpace(a.Email)) }

// Load reads an ordered account list from a YAML or JSON file.
// Order is preserved; emails must be unique.
func Load(path string) ([]Account, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	jb := b
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		var v any
		if err := yaml.Unmarshal(b, &v); err != nil {
			return nil, fmt.Errorf("accounts: yaml unmarshal: %w", err)
		}
		jb, err = json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("accounts: yaml->json marshal: %w", err)
		}
	}

	var list []Account
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&list); err != nil {
		return nil, fmt.Errorf("accounts: decode %s: %w", path, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("accounts: trailing data in %s", path)
	}

	if err := Validate(list); err != nil {
		return nil, err
	}
	return list, nil
}

// Validate checks the minimum requirements for a usable account list.
func Validate(list []Account) error {
	if len(list) == 0 {
		return fmt.Errorf("accounts: list is empty")
	}
	seen := make(map[string]struct{}, len(list))
	for i, a := range list {
		id := a.ID()
		if id == "" {
			return fmt.Errorf("accounts: entry %d has no email", i)
		}
		if strings.TrimSpace(a.Password) == "" {
			return fmt.Errorf("accounts: %s has no password", id)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("accounts: duplicate email %s", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// Partition splits list into at most n contiguous chunks whose sizes differ
// by at most one. No account is lost or duplicated. When n exceeds the list
// length, one chunk per account is returned (idle chunks are never created).
func Partition(list []Account, n int) [][]Account {
	if len(list) == 0 || n <= 0 {
		return nil
	}
	if n > len(list) {
		n = len(list)
	}
	chunks := make([][]Account, 0, n)
	size := len(list) / n
	rem := len(list) % n
	start := 0
	for i := 0; i < n; i++ {
		end := start + size
		if i < rem {
			end++
		}
		chunks = append(chunks, list[start:end])
		start = end
	}
	return chunks
}
