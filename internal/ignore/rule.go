package ignore

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const (
	commentPrefix       = '#'
	negationPrefix      = '!'
	escapeCharacter     = '\\'
	pathSeparator       = '/'
	wildcardCharacter   = '*'
	singleCharacter     = '?'
	classOpenCharacter  = '['
	classCloseCharacter = ']'

	anySegmentExpression      = "[^/]*"
	singleCharacterExpression = "[^/]"
	leadingDirectories        = "(?:.*/)?"
	trailingContents          = ".*"
	unanchoredPrefix          = "^(?:.*/)?"
	anchoredPrefix            = "^"
	expressionSuffix          = "$"
)

var (
	errEmptyPattern         = errors.New("empty pattern")
	errTrailingEscape       = errors.New("trailing unescaped backslash")
	errUnterminatedClass    = errors.New("unterminated character class")
	errInvalidClassContents = errors.New("invalid character class")
	errUnknownNamedClass    = errors.New("unknown named character class")
)

// namedClasses are the POSIX classes usable inside a bracket expression,
// e.g. "[[:upper:]]".
var namedClasses = map[string]struct{}{
	"alnum": {}, "alpha": {}, "blank": {}, "cntrl": {}, "digit": {}, "graph": {},
	"lower": {}, "print": {}, "punct": {}, "space": {}, "upper": {}, "xdigit": {},
}

// Rule is one parsed ignore pattern. Rules are immutable after parsing.
type Rule struct {
	// RawPattern is the trimmed source line the rule was parsed from.
	RawPattern string
	// IsNegation marks a "!" rule that re-includes matching paths.
	IsNegation bool
	// IsAnchored marks a rule matched against the full relative path rather than any basename.
	IsAnchored bool
	// IsDirectoryOnly marks a rule with a trailing "/" that only matches directories.
	IsDirectoryOnly bool
	// SourceOrderIndex is the rule's position among all parsed rules. Later rules win.
	SourceOrderIndex int
	// LineNumber is the 1-based line of the rule in its source text.
	LineNumber int

	expression *regexp.Regexp
}

// ParseError describes a line that could not be parsed into a rule. The line is skipped.
type ParseError struct {
	LineNumber int
	Line       string
	Err        error
}

// Error implements error.
func (parseError ParseError) Error() string {
	return fmt.Sprintf("ignore rule on line %d (%q): %v", parseError.LineNumber, parseError.Line, parseError.Err)
}

// Unwrap returns the underlying cause.
func (parseError ParseError) Unwrap() error {
	return parseError.Err
}

// Matches reports whether the rule matches relativePath. Directory-only rules
// never match a path evaluated as a file.
func (rule Rule) Matches(relativePath string, isDirectory bool) bool {
	if rule.expression == nil {
		return false
	}
	if rule.IsDirectoryOnly && !isDirectory {
		return false
	}
	return rule.expression.MatchString(relativePath)
}

// Parse converts ignore file text into ordered rules. Blank lines and comments
// produce nothing; malformed lines are reported and skipped.
func Parse(text string) ([]Rule, []ParseError) {
	return parseLines(splitLines(text), 0)
}

func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	return strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
}

func parseLines(lines []string, firstSourceOrderIndex int) ([]Rule, []ParseError) {
	var rules []Rule
	var parseErrors []ParseError
	nextSourceOrderIndex := firstSourceOrderIndex
	for lineIndex, line := range lines {
		trimmedLine := strings.TrimSpace(line)
		if trimmedLine == "" || trimmedLine[0] == commentPrefix {
			continue
		}
		rule, ruleError := parseRule(trimmedLine)
		if ruleError != nil {
			parseErrors = append(parseErrors, ParseError{LineNumber: lineIndex + 1, Line: trimmedLine, Err: ruleError})
			continue
		}
		rule.LineNumber = lineIndex + 1
		rule.SourceOrderIndex = nextSourceOrderIndex
		nextSourceOrderIndex++
		rules = append(rules, rule)
	}
	return rules, parseErrors
}

func parseRule(trimmedLine string) (Rule, error) {
	rule := Rule{RawPattern: trimmedLine}
	pattern := trimmedLine

	if pattern[0] == negationPrefix {
		rule.IsNegation = true
		pattern = pattern[1:]
	}
	if strings.HasSuffix(pattern, string(pathSeparator)) && !strings.HasSuffix(pattern, `\/`) {
		rule.IsDirectoryOnly = true
		pattern = strings.TrimRight(pattern, string(pathSeparator))
	}
	if strings.HasPrefix(pattern, string(pathSeparator)) {
		rule.IsAnchored = true
		pattern = strings.TrimLeft(pattern, string(pathSeparator))
	}
	if pattern == "" {
		return Rule{}, errEmptyPattern
	}
	if strings.ContainsRune(pattern, pathSeparator) {
		rule.IsAnchored = true
	}

	body, translateError := translatePattern(pattern)
	if translateError != nil {
		return Rule{}, translateError
	}
	prefix := unanchoredPrefix
	if rule.IsAnchored {
		prefix = anchoredPrefix
	}
	expression, compileError := regexp.Compile(prefix + body + expressionSuffix)
	if compileError != nil {
		return Rule{}, fmt.Errorf("%w: %v", errInvalidClassContents, compileError)
	}
	rule.expression = expression
	return rule, nil
}

// translatePattern converts a glob body into a regular expression fragment.
func translatePattern(pattern string) (string, error) {
	runes := []rune(pattern)
	patternLength := len(runes)
	var builder strings.Builder
	for index := 0; index < patternLength; {
		current := runes[index]
		switch current {
		case escapeCharacter:
			if index+1 >= patternLength {
				return "", errTrailingEscape
			}
			builder.WriteString(regexp.QuoteMeta(string(runes[index+1])))
			index += 2
		case wildcardCharacter:
			starEnd := index
			for starEnd < patternLength && runes[starEnd] == wildcardCharacter {
				starEnd++
			}
			startsSegment := index == 0 || runes[index-1] == pathSeparator
			endsSegment := starEnd == patternLength || runes[starEnd] == pathSeparator
			switch {
			case starEnd-index >= 2 && startsSegment && starEnd == patternLength:
				builder.WriteString(trailingContents)
			case starEnd-index >= 2 && startsSegment && endsSegment:
				builder.WriteString(leadingDirectories)
				starEnd++
			default:
				builder.WriteString(anySegmentExpression)
			}
			index = starEnd
		case singleCharacter:
			builder.WriteString(singleCharacterExpression)
			index++
		case classOpenCharacter:
			classExpression, classEnd, classError := translateClass(runes, index)
			if classError != nil {
				return "", classError
			}
			builder.WriteString(classExpression)
			index = classEnd
		default:
			builder.WriteString(regexp.QuoteMeta(string(current)))
			index++
		}
	}
	return builder.String(), nil
}

// translateClass converts the bracket expression starting at openIndex and
// returns the fragment plus the index just past the closing bracket.
func translateClass(runes []rune, openIndex int) (string, int, error) {
	patternLength := len(runes)
	cursor := openIndex + 1
	negated := false
	if cursor < patternLength && (runes[cursor] == negationPrefix || runes[cursor] == '^') {
		negated = true
		cursor++
	}

	var builder strings.Builder
	builder.WriteByte('[')
	if negated {
		builder.WriteString("^/")
	}
	contentStart := cursor
	for {
		if cursor >= patternLength {
			return "", 0, errUnterminatedClass
		}
		current := runes[cursor]
		if current == classCloseCharacter && cursor > contentStart {
			break
		}
		switch current {
		case escapeCharacter:
			if cursor+1 >= patternLength {
				return "", 0, errUnterminatedClass
			}
			builder.WriteString(escapeClassRune(runes[cursor+1]))
			cursor += 2
			continue
		case '[':
			if namedClass, namedEnd, isNamed := readNamedClass(runes, cursor); isNamed {
				if _, known := namedClasses[namedClass]; !known {
					return "", 0, fmt.Errorf("%w %q", errUnknownNamedClass, namedClass)
				}
				builder.WriteString("[:" + namedClass + ":]")
				cursor = namedEnd
				continue
			}
			builder.WriteString(escapeClassRune(current))
		case ']', '^':
			builder.WriteString(escapeClassRune(current))
		default:
			builder.WriteRune(current)
		}
		cursor++
	}
	builder.WriteByte(']')
	return builder.String(), cursor + 1, nil
}

// readNamedClass reads "[:name:]" at index and returns the name and the index
// just past it.
func readNamedClass(runes []rune, index int) (string, int, bool) {
	if index+1 >= len(runes) || runes[index+1] != ':' {
		return "", 0, false
	}
	for cursor := index + 2; cursor+1 < len(runes); cursor++ {
		if runes[cursor] == ':' && runes[cursor+1] == classCloseCharacter {
			return string(runes[index+2 : cursor]), cursor + 2, true
		}
		if runes[cursor] == classCloseCharacter {
			break
		}
	}
	return "", 0, false
}

func escapeClassRune(value rune) string {
	switch value {
	case '\\', '[', ']', '^', '-':
		return `\` + string(value)
	default:
		return string(value)
	}
}
