package policy

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Load reads and validates a YAML rule file. The returned set is the
// process-wide policy configuration; callers must not mutate it after
// handing it to an engine.
func Load(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates rule YAML
func Parse(data []byte) (*Set, error) {
	var set Set
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}

	if err := validator.New().Struct(&set); err != nil {
		return nil, fmt.Errorf("invalid policy rules: %w", err)
	}

	names := make(map[string]bool, len(set.Rules))
	for _, rule := range set.Rules {
		if names[rule.Name] {
			return nil, fmt.Errorf("duplicate policy rule name: %s", rule.Name)
		}
		names[rule.Name] = true
	}

	return &set, nil
}

// Default returns the rule set used when no policy file is configured:
// destructive actions and anything in a prod environment require approval.
func Default() *Set {
	destructive := true
	return &Set{
		Rules: []Rule{
			{
				Name:   "destructive-requires-approval",
				Effect: "REQUIRE_APPROVAL",
				Match:  Match{Destructive: &destructive},
			},
			{
				Name:   "prod-requires-approval",
				Effect: "REQUIRE_APPROVAL",
				Match:  Match{Environment: "prod"},
			},
		},
	}
}
