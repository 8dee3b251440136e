package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const (
	booleanFlagTypeName      = "bool"
	booleanFlagTrueLiteral   = "true"
	booleanFlagAcceptedValue = "true, false, yes, no, on, off, 1, 0"
	longFlagPrefix           = "--"
	argumentTerminator       = "--"
	errorBooleanValueFormat  = "invalid boolean value %q for --%s; accepted values: %s"
)

var booleanFlagLiterals = map[string]bool{
	"true":  true,
	"t":     true,
	"1":     true,
	"yes":   true,
	"y":     true,
	"on":    true,
	"false": false,
	"f":     false,
	"0":     false,
	"no":    false,
	"n":     false,
	"off":   false,
}

// parseBooleanLiteral resolves a flag literal; the empty literal means true.
func parseBooleanLiteral(input string) (bool, bool) {
	normalized := strings.ToLower(strings.TrimSpace(input))
	if normalized == "" {
		return true, true
	}
	value, known := booleanFlagLiterals[normalized]
	return value, known
}

// booleanFlagValue backs switches such as --hidden and --no-cache, which also
// accept an explicit literal: --hidden=false, --no-cache no.
type booleanFlagValue struct {
	target *bool
	name   string
}

func (value *booleanFlagValue) Set(input string) error {
	parsed, known := parseBooleanLiteral(input)
	if !known || value.target == nil {
		return fmt.Errorf(errorBooleanValueFormat, input, value.name, booleanFlagAcceptedValue)
	}
	*value.target = parsed
	return nil
}

func (value *booleanFlagValue) String() string {
	if value == nil || value.target == nil {
		return strconv.FormatBool(false)
	}
	return strconv.FormatBool(*value.target)
}

func (value *booleanFlagValue) Type() string {
	return booleanFlagTypeName
}

func registerBooleanFlag(flagSet *pflag.FlagSet, target *bool, name string, defaultValue bool, usage string) {
	*target = defaultValue
	flagSet.Var(&booleanFlagValue{target: target, name: name}, name, usage)
	flag := flagSet.Lookup(name)
	flag.DefValue = strconv.FormatBool(defaultValue)
	flag.NoOptDefVal = booleanFlagTrueLiteral
}

// normalizeBooleanFlagArguments joins a boolean flag and the literal after it
// ("--hidden no") into one argument ("--hidden=no"). Only boolean flags of the
// command the arguments invoke are joined, and a literal naming an existing
// path stays the workspace argument.
func normalizeBooleanFlagArguments(rootCommand *cobra.Command, arguments []string) []string {
	if len(arguments) == 0 {
		return arguments
	}
	invokedCommand, _, findError := rootCommand.Find(arguments)
	if findError != nil || invokedCommand == nil {
		invokedCommand = rootCommand
	}
	booleanFlags := booleanFlagNames(invokedCommand)
	if len(booleanFlags) == 0 {
		return arguments
	}

	normalized := make([]string, 0, len(arguments))
	for index := 0; index < len(arguments); index++ {
		currentArgument := arguments[index]
		if currentArgument == argumentTerminator {
			normalized = append(normalized, arguments[index:]...)
			break
		}
		flagName, isLongFlag := strings.CutPrefix(currentArgument, longFlagPrefix)
		if isLongFlag && !strings.Contains(flagName, "=") && index+1 < len(arguments) {
			if _, isBoolean := booleanFlags[flagName]; isBoolean && isBooleanLiteralArgument(arguments[index+1]) {
				normalized = append(normalized, currentArgument+"="+arguments[index+1])
				index++
				continue
			}
		}
		normalized = append(normalized, currentArgument)
	}
	return normalized
}

func isBooleanLiteralArgument(argument string) bool {
	if argument == "" || strings.HasPrefix(argument, "-") {
		return false
	}
	if _, known := parseBooleanLiteral(argument); !known {
		return false
	}
	_, statError := os.Stat(argument)
	return statError != nil
}

// booleanFlagNames lists the boolean flags accepted by command, including the
// persistent flags it inherits.
func booleanFlagNames(command *cobra.Command) map[string]struct{} {
	names := make(map[string]struct{})
	visit := func(flag *pflag.Flag) {
		if flag.Value.Type() == booleanFlagTypeName {
			names[flag.Name] = struct{}{}
		}
	}
	command.Flags().VisitAll(visit)
	command.InheritedFlags().VisitAll(visit)
	return names
}
