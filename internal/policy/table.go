// Package policy defines the immutable, versioned policy table: content
// safety rule families, intent detection patterns, channel trust levels, and
// enforcement thresholds. A table is loaded once at process start; updates
// require constructing a new table and swapping the reference, never
// in-place mutation, so concurrent evaluation stays deterministic.
package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Safety rule families. Hard-deny always wins over soft-rewrite.
const (
	FamilyHardDeny    = "hard_deny"
	FamilySoftRewrite = "soft_rewrite"
)

// Task types form a closed enumeration; intent resolution never produces a
// value outside this set.
const (
	TaskEmail       = "email"
	TaskWhatsApp    = "whatsapp"
	TaskReminder    = "reminder"
	TaskGeneralTask = "general_task"
	TaskNone        = "none"
)

// Table is the parsed policy table (warden policy YAML schema). Fragments
// from the embedded defaults and an optional operator override file are
// merged into one Table before compilation.
type Table struct {
	Version     string            `yaml:"version,omitempty" json:"version,omitempty"`
	Enforcement EnforcementConfig `yaml:"enforcement" json:"enforcement"`
	Channels    ChannelsConfig    `yaml:"channels" json:"channels"`
	Safety      SafetyConfig      `yaml:"safety" json:"safety"`
	Intents     []IntentRule      `yaml:"intents" json:"intents"`

	// Computed fields (not serialized from YAML)
	Hash       string `yaml:"-" json:"-"`
	VersionTag string `yaml:"-" json:"-"`
}

// EnforcementConfig holds the decision engine thresholds and the rewrite
// transform applied to outbound content on REWRITE.
type EnforcementConfig struct {
	TerminateThreshold   float64 `yaml:"terminate_threshold,omitempty" json:"terminate_threshold,omitempty"`
	RewriteTemplate      string  `yaml:"rewrite_template,omitempty" json:"rewrite_template,omitempty"`
	RewriteSubjectPrefix string  `yaml:"rewrite_subject_prefix,omitempty" json:"rewrite_subject_prefix,omitempty"`
}

// ChannelsConfig carries per-channel trust levels consumed by the risk
// classifier. Unknown channels fall back to the lowest configured trust.
type ChannelsConfig struct {
	Trust map[string]float64 `yaml:"trust,omitempty" json:"trust,omitempty"`
}

// SafetyConfig is the ordered list of safety rules.
type SafetyConfig struct {
	Rules []SafetyRule `yaml:"rules,omitempty" json:"rules,omitempty"`
}

// SafetyRule is one named rule in a pattern family.
type SafetyRule struct {
	Name         string          `yaml:"name" json:"name"`
	Family       string          `yaml:"family" json:"family"`
	RiskCategory string          `yaml:"risk_category" json:"risk_category"`
	ReasonCode   string          `yaml:"reason_code" json:"reason_code"`
	Enabled      *bool           `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Patterns     []PatternConfig `yaml:"patterns,omitempty" json:"patterns,omitempty"`
}

// PatternConfig is a single regex pattern within a safety rule.
type PatternConfig struct {
	Name  string `yaml:"name" json:"name"`
	Regex string `yaml:"regex" json:"regex"`
}

// IntentRule maps an ordered set of patterns to one task type.
type IntentRule struct {
	TaskType string   `yaml:"task_type" json:"task_type"`
	Patterns []string `yaml:"patterns" json:"patterns"`
}

// isEnabled returns true if the rule is enabled (defaults to true when nil).
func (r *SafetyRule) isEnabled() bool {
	if r.Enabled == nil {
		return true
	}
	return *r.Enabled
}

// ComputeHash generates a SHA-256 hash of the merged table content and sets
// the VersionTag to "{version}:sha256:{first8chars}".
func (t *Table) ComputeHash(content []byte) {
	hash := sha256.Sum256(content)
	t.Hash = hex.EncodeToString(hash[:])
	version := t.Version
	if version == "" {
		version = "default"
	}
	t.VersionTag = fmt.Sprintf("%s:sha256:%s", version, t.Hash[:8])
}

// TrustFor returns the configured trust level for a channel. Channels absent
// from the table are treated as fully untrusted.
func (t *Table) TrustFor(channel string) float64 {
	if v, ok := t.Channels.Trust[channel]; ok {
		return v
	}
	return 0.0
}
