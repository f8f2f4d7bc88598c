package policy

import (
	"fmt"
	"regexp"
)

// Compiled is the runtime form of a policy table: every regex compiled,
// rules split by family in table order. Compiled tables are read-only after
// construction and safe for concurrent use.
type Compiled struct {
	Table       *Table
	HardDeny    []CompiledRule
	SoftRewrite []CompiledRule
	Intents     []CompiledIntent
}

// CompiledRule is one safety rule with its patterns compiled.
type CompiledRule struct {
	Name         string
	RiskCategory string
	ReasonCode   string
	Patterns     []CompiledPattern
}

// CompiledPattern pairs a pattern name with its compiled regex.
type CompiledPattern struct {
	Name  string
	Regex *regexp.Regexp
}

// CompiledIntent is one intent table entry with its patterns compiled.
type CompiledIntent struct {
	TaskType string
	Patterns []*regexp.Regexp
}

// Compile validates and compiles a merged table. Disabled rules are skipped.
// An invalid regex or an unknown family/task type fails the load: a table
// that cannot be fully compiled must never become active.
func Compile(t *Table) (*Compiled, error) {
	c := &Compiled{Table: t}

	for _, rule := range t.Safety.Rules {
		if !rule.isEnabled() {
			continue
		}
		compiled, err := compileRule(rule)
		if err != nil {
			return nil, err
		}
		switch rule.Family {
		case FamilyHardDeny:
			c.HardDeny = append(c.HardDeny, compiled)
		case FamilySoftRewrite:
			c.SoftRewrite = append(c.SoftRewrite, compiled)
		default:
			return nil, fmt.Errorf("rule %q: unknown family %q", rule.Name, rule.Family)
		}
	}

	for _, intent := range t.Intents {
		if !validTaskType(intent.TaskType) {
			return nil, fmt.Errorf("intent table: unknown task type %q", intent.TaskType)
		}
		ci := CompiledIntent{TaskType: intent.TaskType}
		for _, p := range intent.Patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("compiling intent pattern %q for %s: %w", p, intent.TaskType, err)
			}
			ci.Patterns = append(ci.Patterns, re)
		}
		c.Intents = append(c.Intents, ci)
	}

	return c, nil
}

func compileRule(rule SafetyRule) (CompiledRule, error) {
	cr := CompiledRule{
		Name:         rule.Name,
		RiskCategory: rule.RiskCategory,
		ReasonCode:   rule.ReasonCode,
	}
	for _, p := range rule.Patterns {
		re, err := regexp.Compile(p.Regex)
		if err != nil {
			return cr, fmt.Errorf("compiling pattern %q in rule %q: %w", p.Name, rule.Name, err)
		}
		cr.Patterns = append(cr.Patterns, CompiledPattern{Name: p.Name, Regex: re})
	}
	return cr, nil
}

func validTaskType(t string) bool {
	switch t {
	case TaskEmail, TaskWhatsApp, TaskReminder, TaskGeneralTask, TaskNone:
		return true
	}
	return false
}
