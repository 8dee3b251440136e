package tokenizer

import "unicode/utf8"

// charactersPerToken is the divisor of the character heuristic.
const charactersPerToken = 4

type charsDiv4Counter struct{}

func (charsDiv4Counter) Name() string {
	return string(KindCharsDiv4)
}

func (charsDiv4Counter) CountString(input string) (int, error) {
	return utf8.RuneCountInString(input) / charactersPerToken, nil
}
