package policy

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel/attribute"
	"gopkg.in/yaml.v3"

	wardenotel "github.com/warden-io/warden/internal/otel"
	"github.com/warden-io/warden/patterns"
)

var tracer = wardenotel.Tracer("github.com/warden-io/warden/internal/policy")

// Load builds the active policy table: embedded defaults first, then the
// optional operator override file merged on top (safety rules override by
// name; a non-empty intents section replaces the default intent table;
// enforcement and channel settings override field-wise). The returned table
// is compiled and immutable.
func Load(ctx context.Context, overridePath string) (*Compiled, error) {
	_, span := tracer.Start(ctx, "policy.load")
	defer span.End()

	table, content, err := mergeFragments(overridePath)
	if err != nil {
		return nil, err
	}

	applyDefaults(table)
	table.ComputeHash(content)

	compiled, err := Compile(table)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.String("policy.version_tag", table.VersionTag),
		attribute.Int("policy.safety_rules", len(table.Safety.Rules)),
		attribute.Int("policy.intent_rules", len(table.Intents)),
	)

	return compiled, nil
}

// mergeFragments parses the embedded default fragments and, when an override
// path is given, layers the operator file on top. Returns the merged table
// and the raw bytes that contribute to the version hash.
func mergeFragments(overridePath string) (*Table, []byte, error) {
	var table Table
	if err := yaml.Unmarshal(patterns.SafetyYAML(), &table); err != nil {
		return nil, nil, fmt.Errorf("parsing embedded safety fragment: %w", err)
	}
	var intents Table
	if err := yaml.Unmarshal(patterns.IntentsYAML(), &intents); err != nil {
		return nil, nil, fmt.Errorf("parsing embedded intents fragment: %w", err)
	}
	table.Channels = intents.Channels
	table.Intents = intents.Intents

	content := bytes.Join([][]byte{patterns.SafetyYAML(), patterns.IntentsYAML()}, []byte("\n"))

	if overridePath == "" {
		return &table, content, nil
	}

	data, err := os.ReadFile(overridePath)
	if err != nil {
		if os.IsNotExist(err) {
			// Missing override file is a no-op, matching how operators run
			// with defaults before any customization exists.
			return &table, content, nil
		}
		return nil, nil, fmt.Errorf("reading policy file %s: %w", overridePath, err)
	}

	var override Table
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, nil, fmt.Errorf("parsing policy file %s: %w", overridePath, err)
	}

	table.Safety.Rules = mergeRulesByName(table.Safety.Rules, override.Safety.Rules)
	if len(override.Intents) > 0 {
		table.Intents = override.Intents
	}
	if override.Channels.Trust != nil {
		table.Channels.Trust = override.Channels.Trust
	}
	if override.Enforcement.TerminateThreshold > 0 {
		table.Enforcement.TerminateThreshold = override.Enforcement.TerminateThreshold
	}
	if override.Enforcement.RewriteTemplate != "" {
		table.Enforcement.RewriteTemplate = override.Enforcement.RewriteTemplate
	}
	if override.Enforcement.RewriteSubjectPrefix != "" {
		table.Enforcement.RewriteSubjectPrefix = override.Enforcement.RewriteSubjectPrefix
	}
	if override.Version != "" {
		table.Version = override.Version
	}

	return &table, append(content, data...), nil
}

// mergeRulesByName layers override rules onto the defaults: a rule with a
// matching name replaces the default in place (preserving table order), new
// rules are appended.
func mergeRulesByName(defaults, overrides []SafetyRule) []SafetyRule {
	index := make(map[string]int, len(defaults))
	merged := make([]SafetyRule, len(defaults))
	copy(merged, defaults)
	for i, r := range merged {
		index[r.Name] = i
	}
	for _, r := range overrides {
		if idx, exists := index[r.Name]; exists {
			merged[idx] = r
		} else {
			index[r.Name] = len(merged)
			merged = append(merged, r)
		}
	}
	return merged
}

// applyDefaults fills in values the fragments may omit.
func applyDefaults(t *Table) {
	if t.Enforcement.TerminateThreshold == 0 {
		t.Enforcement.TerminateThreshold = 0.95
	}
	if t.Enforcement.RewriteTemplate == "" {
		t.Enforcement.RewriteTemplate = "This message has been rewritten for safety compliance."
	}
	if t.Channels.Trust == nil {
		t.Channels.Trust = map[string]float64{}
	}
}
