package selection

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
)

// FilterKind selects how Filter.Text is interpreted.
type FilterKind string

const (
	// FilterSubstring matches paths containing the text, ignoring case.
	FilterSubstring FilterKind = "substring"
	// FilterExtension matches file extensions; the text may list several
	// separated by commas, with or without leading dots.
	FilterExtension FilterKind = "extension"
	// FilterRegex matches paths against a regular expression.
	FilterRegex FilterKind = "regex"
)

// ErrUnknownFilterKind reports a filter kind outside the supported set.
var ErrUnknownFilterKind = errors.New("unknown filter type")

// ParseFilterKind resolves a filter kind name; the empty string selects substring.
func ParseFilterKind(name string) (FilterKind, error) {
	switch FilterKind(strings.ToLower(strings.TrimSpace(name))) {
	case FilterSubstring, "":
		return FilterSubstring, nil
	case FilterExtension, "ext":
		return FilterExtension, nil
	case FilterRegex, "regexp":
		return FilterRegex, nil
	default:
		return "", fmt.Errorf("%w %q; supported: %s, %s, %s", ErrUnknownFilterKind, name, FilterSubstring, FilterExtension, FilterRegex)
	}
}

// Filter narrows the displayed nodes without changing the selection.
type Filter struct {
	Kind FilterKind
	Text string
}

// IsEmpty reports whether the filter matches everything.
func (filter Filter) IsEmpty() bool {
	return strings.TrimSpace(filter.Text) == ""
}

func (filter Filter) predicate() (func(relativePath string) bool, error) {
	text := strings.TrimSpace(filter.Text)
	switch filter.Kind {
	case FilterSubstring, "":
		needle := strings.ToLower(text)
		return func(relativePath string) bool {
			return strings.Contains(strings.ToLower(relativePath), needle)
		}, nil
	case FilterExtension:
		extensions := make(map[string]struct{})
		for _, extension := range strings.Split(text, ",") {
			extension = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(extension), "."))
			if extension != "" {
				extensions["."+extension] = struct{}{}
			}
		}
		return func(relativePath string) bool {
			_, matched := extensions[strings.ToLower(path.Ext(relativePath))]
			return matched
		}, nil
	case FilterRegex:
		expression, compileError := regexp.Compile(text)
		if compileError != nil {
			return nil, fmt.Errorf("compile filter %q: %w", text, compileError)
		}
		return expression.MatchString, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownFilterKind, filter.Kind)
	}
}

// Match returns, in pre-order, the files matching filter together with their
// ancestor folders. An empty filter matches every node.
func (tree *Tree) Match(filter Filter) ([]NodeID, error) {
	visible := make([]bool, len(tree.nodes))
	if filter.IsEmpty() {
		for index := range visible {
			visible[index] = true
		}
	} else {
		matches, predicateError := filter.predicate()
		if predicateError != nil {
			return nil, predicateError
		}
		for index, record := range tree.nodes {
			if record.Kind != KindFile || !matches(record.RelativePath) {
				continue
			}
			for ancestor := NodeID(index); ancestor != NoParent && !visible[ancestor]; ancestor = tree.nodes[ancestor].Parent {
				visible[ancestor] = true
			}
		}
	}
	matched := make([]NodeID, 0, len(tree.nodes))
	for index, isVisible := range visible {
		if isVisible {
			matched = append(matched, NodeID(index))
		}
	}
	return matched, nil
}
