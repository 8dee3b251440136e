package tokenizer

import (
	"errors"
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

var errMissingEncoding = errors.New("tiktoken encoding not loaded")

// openAICounter counts with one of the tiktoken BPE encodings. Workspace text
// is encoded as ordinary text, so special-token markers inside a file count
// like any other characters.
type openAICounter struct {
	encoding *tiktoken.Tiktoken
	kind     Kind
}

func newOpenAICounter(kind Kind) (openAICounter, error) {
	encoding, encodingError := tiktoken.GetEncoding(string(kind))
	if encodingError != nil {
		return openAICounter{}, fmt.Errorf("initialize %s tokenizer: %w", kind, encodingError)
	}
	return openAICounter{encoding: encoding, kind: kind}, nil
}

func (counter openAICounter) Name() string {
	return counter.kind.String()
}

// Kind returns the estimator kind the counter was built for.
func (counter openAICounter) Kind() Kind {
	return counter.kind
}

func (counter openAICounter) CountString(input string) (int, error) {
	if counter.encoding == nil {
		return 0, fmt.Errorf("%s: %w", counter.kind, errMissingEncoding)
	}
	return len(counter.encoding.EncodeOrdinary(input)), nil
}
