// Package patterns provides embedded default policy table definitions.
// YAML files in this directory use the warden policy fragment format:
// safety rule families in safety.yaml, intent patterns and channel trust
// levels in intents.yaml. Operators can override individual rules by name
// via WARDEN_POLICY_FILE.
package patterns

import _ "embed"

//go:embed safety.yaml
var safetyYAML []byte

//go:embed intents.yaml
var intentsYAML []byte

// SafetyYAML returns the embedded default safety rule definitions.
func SafetyYAML() []byte { return safetyYAML }

// IntentsYAML returns the embedded default intent pattern definitions.
func IntentsYAML() []byte { return intentsYAML }
