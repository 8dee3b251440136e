// Package ignore evaluates workspace-relative paths against ordered gitignore rules.
// It performs no I/O.
package ignore

import (
	"github.com/temirov/ctxload/internal/utils"
)

// Matcher holds an ordered rule list and the errors produced while parsing it.
// A nil Matcher ignores nothing.
type Matcher struct {
	rules       []Rule
	parseErrors []ParseError
}

// New parses ignore file text into a Matcher.
func New(text string) *Matcher {
	rules, parseErrors := Parse(text)
	return &Matcher{rules: rules, parseErrors: parseErrors}
}

// NewFromRules builds a Matcher over already parsed rules.
func NewFromRules(rules []Rule) *Matcher {
	return &Matcher{rules: append([]Rule(nil), rules...)}
}

// Extend returns a new Matcher with patterns appended after the existing rules,
// so they take precedence over earlier rules that match the same path.
func (matcher *Matcher) Extend(patterns []string) *Matcher {
	extended := &Matcher{}
	if matcher != nil {
		extended.rules = append(extended.rules, matcher.rules...)
		extended.parseErrors = append(extended.parseErrors, matcher.parseErrors...)
	}
	extraRules, extraErrors := parseLines(patterns, len(extended.rules))
	extended.rules = append(extended.rules, extraRules...)
	extended.parseErrors = append(extended.parseErrors, extraErrors...)
	return extended
}

// Rules returns the parsed rules in source order.
func (matcher *Matcher) Rules() []Rule {
	if matcher == nil {
		return nil
	}
	return append([]Rule(nil), matcher.rules...)
}

// ParseErrors returns the lines that were skipped while parsing.
func (matcher *Matcher) ParseErrors() []ParseError {
	if matcher == nil {
		return nil
	}
	return append([]ParseError(nil), matcher.parseErrors...)
}

// HasNegations reports whether any rule re-includes paths.
func (matcher *Matcher) HasNegations() bool {
	if matcher == nil {
		return false
	}
	for _, rule := range matcher.rules {
		if rule.IsNegation {
			return true
		}
	}
	return false
}

// IsIgnored reports whether the file at relativePath is excluded.
func (matcher *Matcher) IsIgnored(relativePath string) bool {
	if matcher == nil {
		return false
	}
	return matchPathOrParents(relativePath, false, matcher.rules)
}

// IsIgnoredDir reports whether the directory at relativePath is excluded.
func (matcher *Matcher) IsIgnoredDir(relativePath string) bool {
	if matcher == nil {
		return false
	}
	return matchPathOrParents(relativePath, true, matcher.rules)
}

// IsIgnored reports whether the file at relativePath is excluded by rules.
//
// The path itself is evaluated first and the last matching rule decides. When
// no rule matches the path, its ancestors are evaluated as directories from the
// nearest to the root, and the first ancestor with a match decides. A path no
// rule matches is included.
func IsIgnored(relativePath string, rules []Rule) bool {
	return matchPathOrParents(relativePath, false, rules)
}

func matchPathOrParents(relativePath string, isDirectory bool, rules []Rule) bool {
	candidatePath := utils.NormalizeRelativePath(relativePath)
	candidateIsDirectory := isDirectory
	for candidatePath != utils.EmptyString {
		if decided, ignored := lastMatch(candidatePath, candidateIsDirectory, rules); decided {
			return ignored
		}
		candidatePath = utils.ParentRelativePath(candidatePath)
		candidateIsDirectory = true
	}
	return false
}

// lastMatch evaluates rules in source order and reports whether any matched
// and, if so, whether the last match ignores the path.
func lastMatch(candidatePath string, isDirectory bool, rules []Rule) (bool, bool) {
	decided := false
	ignored := false
	for _, rule := range rules {
		if rule.Matches(candidatePath, isDirectory) {
			decided = true
			ignored = !rule.IsNegation
		}
	}
	return decided, ignored
}
