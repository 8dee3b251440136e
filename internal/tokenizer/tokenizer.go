// Package tokenizer estimates token counts for text content.
package tokenizer

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Counter estimates token counts for text content.
type Counter interface {
	Name() string
	CountString(input string) (int, error)
}

// Kind identifies one estimator of the closed estimator set.
type Kind string

const (
	// KindCharsDiv4 estimates one token per four characters.
	KindCharsDiv4 Kind = "chars4"
	// KindCL100K uses the cl100k_base encoding of GPT-3.5 and GPT-4.
	KindCL100K Kind = "cl100k_base"
	// KindO200K uses the o200k_base encoding of GPT-4o.
	KindO200K Kind = "o200k_base"
	// KindP50K uses the p50k_base encoding of Codex models.
	KindP50K Kind = "p50k_base"
)

// ErrUnknownKind reports an estimator name outside the supported set.
var ErrUnknownKind = errors.New("unknown token estimator")

var kindAliases = map[string]Kind{
	"chars4":      KindCharsDiv4,
	"chardiv4":    KindCharsDiv4,
	"heuristic":   KindCharsDiv4,
	"cl100k_base": KindCL100K,
	"cl100k":      KindCL100K,
	"gpt-4":       KindCL100K,
	"gpt-3.5":     KindCL100K,
	"o200k_base":  KindO200K,
	"o200k":       KindO200K,
	"gpt-4o":      KindO200K,
	"p50k_base":   KindP50K,
	"p50k":        KindP50K,
}

// Kinds returns every supported estimator kind.
func Kinds() []Kind {
	return []Kind{KindCharsDiv4, KindCL100K, KindO200K, KindP50K}
}

// ParseKind resolves a canonical estimator name or one of its aliases.
func ParseKind(name string) (Kind, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if kind, known := kindAliases[normalized]; known {
		return kind, nil
	}
	return "", fmt.Errorf("%w %q; supported: %s", ErrUnknownKind, name, strings.Join(kindNames(), ", "))
}

func kindNames() []string {
	names := make([]string, 0, len(Kinds()))
	for _, kind := range Kinds() {
		names = append(names, string(kind))
	}
	sort.Strings(names)
	return names
}

// String returns the canonical estimator name.
func (kind Kind) String() string {
	return string(kind)
}

// NewCounter returns the Counter implementing kind. Subword encoders are built
// once and may be shared by concurrent callers.
func NewCounter(kind Kind) (Counter, error) {
	switch kind {
	case KindCharsDiv4:
		return charsDiv4Counter{}, nil
	case KindCL100K, KindO200K, KindP50K:
		counter, counterError := newOpenAICounter(kind)
		if counterError != nil {
			return nil, counterError
		}
		return counter, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownKind, kind)
	}
}
