package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// PolicyFile is the external YAML format for the reconciliation policy.
// Lists present in the file replace the env values; absent lists keep them.
type PolicyFile struct {
	SourceDomains []string `yaml:"source_domains"` // Allow-listed source email domains
	Whitelist     []string `yaml:"whitelist"`      // Primary emails exempt from create and disable
}

// LoadPolicyFile loads a reconciliation policy from YAML.
// Unlike the env values the file must exist once configured.
func LoadPolicyFile(path string) (*PolicyFile, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("policy file not found: %s", path)
	}

	data, err := os.ReadFile(path) // #nosec G304 - operator supplied path
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file %s: %w", path, err)
	}

	var policy PolicyFile
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return nil, fmt.Errorf("failed to parse policy YAML %s: %w", path, err)
	}

	if err := ValidatePolicyFile(&policy); err != nil {
		return nil, fmt.Errorf("invalid policy in %s: %w", path, err)
	}

	return &policy, nil
}

// ValidatePolicyFile rejects entries that can never match an account
func ValidatePolicyFile(policy *PolicyFile) error {
	if policy == nil {
		return fmt.Errorf("policy is nil")
	}

	for i, email := range policy.Whitelist {
		if !strings.Contains(email, "@") {
			return fmt.Errorf("whitelist entry %d (%q) is not an email address", i, email)
		}
	}

	for i, domain := range policy.SourceDomains {
		if strings.TrimSpace(domain) == "" || strings.Contains(domain, "@") {
			return fmt.Errorf("source domain entry %d (%q) is not a domain", i, domain)
		}
	}

	return nil
}

// ApplyPolicyFile loads Policy.File, when set, and merges it into the config
func (c *Config) ApplyPolicyFile() error {
	if c.Policy.File == "" {
		return nil
	}

	policy, err := LoadPolicyFile(c.Policy.File)
	if err != nil {
		return err
	}

	if policy.SourceDomains != nil {
		c.Policy.SourceDomains = normalizeList(policy.SourceDomains)
	}
	if policy.Whitelist != nil {
		c.Policy.Whitelist = normalizeList(policy.Whitelist)
	}

	return nil
}

func normalizeList(values []string) []string {
	return parseList(strings.Join(values, ","))
}
