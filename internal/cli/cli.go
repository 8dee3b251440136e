// Package cli provides the command line interface.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/temirov/ctxload/internal/config"
	"github.com/temirov/ctxload/internal/orchestrator"
	"github.com/temirov/ctxload/internal/services/clipboard"
	"github.com/temirov/ctxload/internal/types"
	"github.com/temirov/ctxload/internal/utils"
)

const (
	versionFlagName      = "version"
	configFlagName       = "config"
	logLevelFlagName     = "log-level"
	versionTemplate      = "ctxload version: %s\n"
	rootUse              = "ctxload"
	rootShortDescription = "ctxload command line interface"
	rootLongDescription  = `ctxload loads a workspace directory, selects its files with .gitignore semantics
and estimates the tokens of every file, caching counts across runs.
Use tree to inspect the selection and content to export the selected files.`
	versionFlagDescription  = "display application version"
	configFlagDescription   = "path to a configuration file (default ./.ctxload.yaml)"
	logLevelFlagDescription = "log level (debug, info, warn, error)"
	invalidFormatMessage    = "invalid format value '%s'"
	// errorAbsolutePathFormat reports failure to resolve an absolute path.
	errorAbsolutePathFormat = "abs failed for '%s': %w"
	// errorPathMissingFormat reports a missing path.
	errorPathMissingFormat = "path '%s' does not exist"
	// errorStatFormat reports failure to retrieve file statistics.
	errorStatFormat = "stat failed for '%s': %w"
	// errorNotDirectoryFormat reports a workspace path that is not a directory.
	errorNotDirectoryFormat = "path '%s' is not a directory"
	defaultPath             = "."
)

// Dependencies are the collaborators of the command tree. Zero values select
// the process streams, the system clipboard and the built-in estimators.
type Dependencies struct {
	Stdout   io.Writer
	Stderr   io.Writer
	Copier   clipboard.Copier
	Counters orchestrator.CounterFactory
}

func (dependencies Dependencies) withDefaults() Dependencies {
	if dependencies.Stdout == nil {
		dependencies.Stdout = os.Stdout
	}
	if dependencies.Stderr == nil {
		dependencies.Stderr = os.Stderr
	}
	if dependencies.Copier == nil {
		dependencies.Copier = clipboard.NewService()
	}
	return dependencies
}

// application carries state shared by every command of one invocation.
type application struct {
	dependencies      Dependencies
	configurationPath string
	logLevel          string
	showVersion       bool
	configuration     config.ApplicationConfiguration
	logger            *zap.Logger
}

// isSupportedFormat reports whether the provided format is recognized.
func isSupportedFormat(format string) bool {
	switch format {
	case types.FormatRaw, types.FormatJSON, types.FormatXML:
		return true
	default:
		return false
	}
}

// Execute runs the ctxload application with the process arguments.
func Execute(ctx context.Context) error {
	rootCommand := NewRootCommand(Dependencies{})
	rootCommand.SetArgs(normalizeBooleanFlagArguments(rootCommand, os.Args[1:]))
	return rootCommand.ExecuteContext(ctx)
}

// NewRootCommand builds the root Cobra command.
func NewRootCommand(dependencies Dependencies) *cobra.Command {
	app := &application{dependencies: dependencies.withDefaults(), logger: zap.NewNop()}

	rootCommand := &cobra.Command{
		Use:           rootUse,
		Short:         rootShortDescription,
		Long:          rootLongDescription,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(command *cobra.Command, arguments []string) error {
			if app.showVersion {
				fmt.Fprintf(command.OutOrStdout(), versionTemplate, utils.GetApplicationVersion())
				return nil
			}
			return command.Help()
		},
		PersistentPreRunE: app.prepare,
	}
	rootCommand.SetOut(app.dependencies.Stdout)
	rootCommand.SetErr(app.dependencies.Stderr)
	registerBooleanFlag(rootCommand.Flags(), &app.showVersion, versionFlagName, false, versionFlagDescription)
	rootCommand.PersistentFlags().StringVar(&app.configurationPath, configFlagName, utils.EmptyString, configFlagDescription)
	rootCommand.PersistentFlags().StringVar(&app.logLevel, logLevelFlagName, utils.DefaultLogLevel, logLevelFlagDescription)
	rootCommand.AddCommand(
		newTreeCommand(app),
		newContentCommand(app),
		newCacheCommand(app),
		newConfigCommand(app),
	)
	rootCommand.InitDefaultHelpCmd()
	rootCommand.InitDefaultCompletionCmd()
	return rootCommand
}

// prepare loads the configuration and builds the logger. An explicit
// --log-level wins over the configured level.
func (app *application) prepare(command *cobra.Command, arguments []string) error {
	configuration, loadError := config.LoadApplicationConfiguration(config.LoadOptions{ExplicitFilePath: app.configurationPath})
	if loadError != nil {
		return loadError
	}
	app.configuration = configuration

	level := configuration.LogLevel
	if level == utils.EmptyString || command.Flags().Changed(logLevelFlagName) {
		level = app.logLevel
	}
	logger, loggerError := utils.NewApplicationLogger(level)
	if loggerError != nil {
		return fmt.Errorf(utils.LoggerInitializationFailedMessageFormat, loggerError)
	}
	app.logger = logger
	return nil
}

func (app *application) stdout() io.Writer {
	return app.dependencies.Stdout
}

func (app *application) stderr() io.Writer {
	return app.dependencies.Stderr
}

// colorEnabled reports whether raw output goes to a color-capable terminal.
func (app *application) colorEnabled() bool {
	return !color.NoColor && app.dependencies.Stdout == os.Stdout
}

// resolveWorkspaceRoot converts the optional path argument into an absolute
// directory.
func resolveWorkspaceRoot(arguments []string) (string, error) {
	inputPath := defaultPath
	if len(arguments) > 0 {
		inputPath = arguments[0]
	}
	absolutePath, absolutePathError := filepath.Abs(inputPath)
	if absolutePathError != nil {
		return "", fmt.Errorf(errorAbsolutePathFormat, inputPath, absolutePathError)
	}
	info, fileStatusError := os.Stat(absolutePath)
	if fileStatusError != nil {
		if os.IsNotExist(fileStatusError) {
			return "", fmt.Errorf(errorPathMissingFormat, inputPath)
		}
		return "", fmt.Errorf(errorStatFormat, inputPath, fileStatusError)
	}
	if !info.IsDir() {
		return "", fmt.Errorf(errorNotDirectoryFormat, inputPath)
	}
	return filepath.Clean(absolutePath), nil
}
