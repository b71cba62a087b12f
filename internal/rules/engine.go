package rules

import (
	"github.com/abdelilah771/devsecops-pipeline/internal/model"
)

// Rule is a deterministic detector evaluated against a single event
type Rule interface {
	// Name identifies the rule in vulnerability evidence
	Name() string
	// Match reports whether the event triggers the rule
	Match(ev model.Event) bool
	// Build creates the vulnerability for a matching event.
	// VulnID and RunID are stamped by the caller.
	Build(ev model.Event) model.Vulnerability
}

// Func adapts a predicate/builder pair to the Rule interface
type Func struct {
	RuleName  string
	Predicate func(ev model.Event) bool
	Builder   func(ev model.Event) model.Vulnerability
}

// Name returns the rule name
func (f Func) Name() string { return f.RuleName }

// Match runs the predicate
func (f Func) Match(ev model.Event) bool { return f.Predicate(ev) }

// Build runs the builder
func (f Func) Build(ev model.Event) model.Vulnerability { return f.Builder(ev) }

// Engine evaluates an ordered, append-only list of rules.
// Append is meant for startup wiring; Evaluate is safe for concurrent use
// once wiring is done.
type Engine struct {
	rules []Rule
}

// NewEngine creates an engine evaluating rules in the given order
func NewEngine(rules ...Rule) *Engine {
	e := &Engine{}
	e.Append(rules...)
	return e
}

// NewDefaultEngine creates an engine with the built-in rules
func NewDefaultEngine() *Engine {
	return NewEngine(Builtins()...)
}

// Append adds rules after the existing ones
func (e *Engine) Append(rules ...Rule) {
	for _, r := range rules {
		if r != nil {
			e.rules = append(e.rules, r)
		}
	}
}

// Rules returns a copy of the rule list in evaluation order
func (e *Engine) Rules() []Rule {
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Len returns the number of rules
func (e *Engine) Len() int {
	return len(e.rules)
}

// Evaluate runs every rule against ev, top to bottom, and returns one
// vulnerability per matching rule in rule order
func (e *Engine) Evaluate(ev model.Event) []model.Vulnerability {
	var vulns []model.Vulnerability
	for _, r := range e.rules {
		if r.Match(ev) {
			vulns = append(vulns, r.Build(ev))
		}
	}
	return vulns
}
