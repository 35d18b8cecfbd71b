package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/routecc/rcc/core"
)

func errInvalid() error { return core.ErrInvalidConfiguration }

// CredentialList accepts either a single string or a list of strings in
// YAML/JSON, so `api_key: sk-abc` and `api_key: [sk-a, sk-b]` both parse.
type CredentialList []string

// UnmarshalYAML implements yaml.Unmarshaler
func (c *CredentialList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		*c = CredentialList{s}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := value.Decode(&list); err != nil {
			return err
		}
		*c = CredentialList(list)
		return nil
	default:
		return fmt.Errorf("api_key must be a string or a list of strings")
	}
}

// looksLikePath reports whether a credential entry references the
// filesystem rather than carrying an inline secret.
func looksLikePath(entry string) bool {
	if strings.HasPrefix(entry, "./") || strings.HasPrefix(entry, "/") || strings.HasPrefix(entry, "../") {
		return true
	}
	for _, suffix := range []string{".key", ".txt", ".token", ".pem", ".json"} {
		if strings.HasSuffix(entry, suffix) {
			return true
		}
	}
	return false
}

// resolveSecret reads filesystem-referenced secrets and passes inline
// secrets through unchanged.
func resolveSecret(entry string) (string, error) {
	if !looksLikePath(entry) {
		return entry, nil
	}
	data, err := os.ReadFile(entry)
	if err != nil {
		return "", fmt.Errorf("failed to read credential file %s: %w", entry, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Normalize resolves credential file references, merges the api_key
// shorthand into named credential slots, and deduplicates identical secret
// material within each provider. Duplicate warnings are returned on the
// Config for the caller to log.
func (c *Config) Normalize() error {
	for i := range c.Providers {
		p := &c.Providers[i]

		// Shorthand api_key entries become anonymous weight-1 slots
		for idx, entry := range p.APIKey {
			secret, err := resolveSecret(entry)
			if err != nil {
				return fmt.Errorf("provider %q: %w", p.ID, err)
			}
			if secret == "" {
				continue
			}
			p.Credentials = append(p.Credentials, CredentialConfig{
				Name:   fmt.Sprintf("key-%d", idx+1),
				Secret: secret,
				Weight: 1,
			})
		}
		p.APIKey = nil

		// Named slots may also reference files
		for j := range p.Credentials {
			slot := &p.Credentials[j]
			secret, err := resolveSecret(slot.Secret)
			if err != nil {
				return fmt.Errorf("provider %q credential %q: %w", p.ID, slot.Name, err)
			}
			slot.Secret = secret
			if slot.Weight <= 0 {
				slot.Weight = 1
			}
		}

		// Collapse identical secret material to a single slot
		seen := make(map[string]bool)
		deduped := p.Credentials[:0]
		for _, slot := range p.Credentials {
			if slot.Secret == "" {
				continue
			}
			if seen[slot.Secret] {
				c.warnings = append(c.warnings,
					fmt.Sprintf("provider %q: credential %q duplicates existing secret material, dropped", p.ID, slot.Name))
				continue
			}
			seen[slot.Secret] = true
			deduped = append(deduped, slot)
		}
		p.Credentials = deduped
	}
	return nil
}

// Warnings returns non-fatal diagnostics produced during Normalize
func (c *Config) Warnings() []string {
	return c.warnings
}
