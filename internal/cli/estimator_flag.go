package cli

import (
	"github.com/spf13/pflag"

	"github.com/temirov/ctxload/internal/tokenizer"
)

const estimatorFlagTypeName = "estimator"

// estimatorFlagValue accepts canonical estimator names and their aliases.
type estimatorFlagValue struct {
	kind tokenizer.Kind
}

func (value *estimatorFlagValue) Set(input string) error {
	kind, parseError := tokenizer.ParseKind(input)
	if parseError != nil {
		return parseError
	}
	value.kind = kind
	return nil
}

func (value *estimatorFlagValue) String() string {
	if value == nil {
		return ""
	}
	return value.kind.String()
}

func (value *estimatorFlagValue) Type() string {
	return estimatorFlagTypeName
}

var _ pflag.Value = (*estimatorFlagValue)(nil)
