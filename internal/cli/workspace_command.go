package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/temirov/ctxload/internal/metrics"
	"github.com/temirov/ctxload/internal/orchestrator"
	"github.com/temirov/ctxload/internal/output"
	"github.com/temirov/ctxload/internal/selection"
	"github.com/temirov/ctxload/internal/tokenizer"
	"github.com/temirov/ctxload/internal/types"
	"github.com/temirov/ctxload/internal/workspace"
)

const (
	estimatorFlagName      = "estimator"
	formatFlagName         = "format"
	workersFlagName        = "workers"
	maxFileBytesFlagName   = "max-file-bytes"
	oversizeFlagName       = "oversize"
	noCacheFlagName        = "no-cache"
	cacheDirectoryFlagName = "cache-dir"
	exclusionFlagName      = "e"
	hiddenFlagName         = "hidden"
	selectFlagName         = "select"
	deselectFlagName       = "deselect"
	selectAllFlagName      = "select-all"
	deselectAllFlagName    = "deselect-all"
	filterFlagName         = "filter"
	filterTypeFlagName     = "filter-type"
	tokenLimitFlagName     = "token-limit"
	metricsFileFlagName    = "metrics-file"
	clipboardFlagName      = "clipboard"

	treeUse                 = "tree [path]"
	contentUse              = "content [path]"
	treeAlias               = "t"
	contentAlias            = "c"
	treeShortDescription    = "display the selection tree of a workspace (" + treeAlias + ")"
	contentShortDescription = "export the selected files of a workspace (" + contentAlias + ")"

	// treeLongDescription provides detailed help for the tree command.
	treeLongDescription = `Load a workspace, estimate the tokens of every eligible file and print the
selection tree. Files are selected by default when the workspace has a .gitignore.
Use --select and --deselect to toggle files or folders and --format for raw, json or xml output.`
	// treeUsageExample demonstrates tree command usage.
	treeUsageExample = `  # Show the selection with the GPT-4o tokenizer
  ctxload tree --estimator gpt-4o .

  # Deselect a folder and list only Go files as JSON
  ctxload tree --deselect vendor --filter go --filter-type ext --format json`

	// contentLongDescription provides detailed help for the content command.
	contentLongDescription = `Load a workspace and print the selected files, each preceded by an
"@@@ ./path @@@" header. Use --clipboard to copy the bundle instead of printing it.`
	// contentUsageExample demonstrates content command usage.
	contentUsageExample = `  # Copy every selected file except the docs folder
  ctxload content --deselect docs --clipboard

  # Export only two files
  ctxload content --deselect-all --select main.go --select go.mod`

	estimatorFlagDescription    = "token estimator (chars4, cl100k_base, o200k_base, p50k_base or an alias)"
	formatFlagDescription       = "output format (raw, json, xml)"
	workersFlagDescription      = "number of files processed concurrently"
	maxFileBytesFlagDescription = "bytes of a file read for token estimation"
	oversizeFlagDescription     = "policy for files above --max-file-bytes (truncate, skip)"
	noCacheFlagDescription      = "do not persist token counts"
	cacheDirectoryDescription   = "directory holding the token cache"
	exclusionFlagDescription    = "exclude path pattern (gitignore syntax)"
	hiddenFlagDescription       = "include hidden files and folders"
	selectFlagDescription       = "select a file or folder"
	deselectFlagDescription     = "deselect a file or folder"
	selectAllFlagDescription    = "select every file before applying --select and --deselect"
	deselectAllFlagDescription  = "clear the selection before applying --select and --deselect"
	filterFlagDescription       = "show only files matching the filter"
	filterTypeFlagDescription   = "filter type (substring, ext, regex)"
	tokenLimitFlagDescription   = "warn when the selection exceeds this many tokens"
	metricsFileFlagDescription  = "write Prometheus metrics of the run to this file"
	clipboardFlagDescription    = "copy the bundle to the clipboard"

	errorSelectPathFormat   = "select %s: %w"
	errorDeselectPathFormat = "deselect %s: %w"
	warningOverLimitFormat  = "Warning: selection has %d tokens, above the %d token limit\n"
	noFilesSelectedMessage  = "No files selected."
	copiedToClipboardFormat = "Copied %d files (%d tokens) to the clipboard.\n"
	closeWorkspaceWarning   = "closing workspace failed"
	metricsWriteWarning     = "writing metrics failed"
)

// workspaceFlags stores the flags shared by tree and content.
type workspaceFlags struct {
	estimator         estimatorFlagValue
	workers           int
	maxFileBytes      int64
	oversizePolicy    string
	noCache           bool
	cacheDirectory    string
	exclusionPatterns []string
	includeHidden     bool
	selectPaths       []string
	deselectPaths     []string
	selectAll         bool
	deselectAll       bool
	tokenLimit        int
	metricsFile       string
}

// addWorkspaceFlags registers workspace flags on the command.
func addWorkspaceFlags(command *cobra.Command, flags *workspaceFlags) {
	flagSet := command.Flags()
	flagSet.Var(&flags.estimator, estimatorFlagName, estimatorFlagDescription)
	flagSet.IntVar(&flags.workers, workersFlagName, orchestrator.DefaultWorkers, workersFlagDescription)
	flagSet.Int64Var(&flags.maxFileBytes, maxFileBytesFlagName, orchestrator.DefaultMaxFileBytes, maxFileBytesFlagDescription)
	flagSet.StringVar(&flags.oversizePolicy, oversizeFlagName, string(orchestrator.OversizeTruncate), oversizeFlagDescription)
	registerBooleanFlag(flagSet, &flags.noCache, noCacheFlagName, false, noCacheFlagDescription)
	flagSet.StringVar(&flags.cacheDirectory, cacheDirectoryFlagName, "", cacheDirectoryDescription)
	flagSet.StringArrayVarP(&flags.exclusionPatterns, exclusionFlagName, exclusionFlagName, nil, exclusionFlagDescription)
	registerBooleanFlag(flagSet, &flags.includeHidden, hiddenFlagName, false, hiddenFlagDescription)
	flagSet.StringArrayVar(&flags.selectPaths, selectFlagName, nil, selectFlagDescription)
	flagSet.StringArrayVar(&flags.deselectPaths, deselectFlagName, nil, deselectFlagDescription)
	registerBooleanFlag(flagSet, &flags.selectAll, selectAllFlagName, false, selectAllFlagDescription)
	registerBooleanFlag(flagSet, &flags.deselectAll, deselectAllFlagName, false, deselectAllFlagDescription)
	flagSet.IntVar(&flags.tokenLimit, tokenLimitFlagName, 0, tokenLimitFlagDescription)
	flagSet.StringVar(&flags.metricsFile, metricsFileFlagName, "", metricsFileFlagDescription)
}

// workspaceSettings is the configuration of one run after flags override the
// configuration file.
type workspaceSettings struct {
	root       string
	kind       tokenizer.Kind
	tokenLimit int
	options    workspace.Options
}

func (app *application) resolveWorkspaceSettings(command *cobra.Command, arguments []string, flags *workspaceFlags) (workspaceSettings, error) {
	root, rootError := resolveWorkspaceRoot(arguments)
	if rootError != nil {
		return workspaceSettings{}, rootError
	}
	configuration := app.configuration
	changed := command.Flags().Changed

	kind := flags.estimator.kind
	if !changed(estimatorFlagName) {
		configuredKind, parseError := tokenizer.ParseKind(configuration.EstimatorOrDefault())
		if parseError != nil {
			return workspaceSettings{}, parseError
		}
		kind = configuredKind
	}

	workers := configuration.WorkersOrDefault()
	if changed(workersFlagName) {
		workers = flags.workers
	}
	maxFileBytes := configuration.MaxFileBytesOrDefault()
	if changed(maxFileBytesFlagName) {
		maxFileBytes = flags.maxFileBytes
	}
	policyName := configuration.OversizePolicyOrDefault()
	if changed(oversizeFlagName) {
		policyName = strings.ToLower(strings.TrimSpace(flags.oversizePolicy))
	}
	policy, policyError := orchestrator.ParseOversizePolicy(policyName)
	if policyError != nil {
		return workspaceSettings{}, policyError
	}
	tokenLimit := configuration.TokenLimitOrDefault()
	if changed(tokenLimitFlagName) {
		tokenLimit = flags.tokenLimit
	}
	cacheDirectory := configuration.CacheDirectoryOrDefault()
	if changed(cacheDirectoryFlagName) {
		cacheDirectory = flags.cacheDirectory
	}
	exclusionPatterns := append(append([]string{}, configuration.Paths.Exclude...), flags.exclusionPatterns...)

	return workspaceSettings{
		root:       root,
		kind:       kind,
		tokenLimit: tokenLimit,
		options: workspace.Options{
			Workers:           workers,
			MaxFileBytes:      maxFileBytes,
			OversizePolicy:    policy,
			ExclusionPatterns: exclusionPatterns,
			IncludeHidden:     flags.includeHidden,
			CacheEnabled:      configuration.CacheEnabled() && !flags.noCache,
			CacheDirectory:    cacheDirectory,
			Counters:          app.dependencies.Counters,
			Progress:          app.progressReporter(),
			Logger:            app.logger,
		},
	}, nil
}

// loadedWorkspace is an open, loaded workspace together with its run metrics.
type loadedWorkspace struct {
	manager     *workspace.Manager
	session     *workspace.Session
	recorder    *metrics.Recorder
	metricsFile string
}

// openWorkspace opens and loads the workspace of settings and applies the
// selection flags: --deselect-all, --select-all, then every --select and
// --deselect.
func (app *application) openWorkspace(ctx context.Context, settings workspaceSettings, flags *workspaceFlags) (*loadedWorkspace, error) {
	loaded := &loadedWorkspace{metricsFile: flags.metricsFile}
	if flags.metricsFile != "" {
		loaded.recorder = metrics.NewRecorder()
		settings.options.Metrics = loaded.recorder
	}
	loaded.manager = workspace.NewManager(settings.options)
	session, openError := loaded.manager.Open(ctx, settings.root)
	if openError != nil {
		return nil, openError
	}
	loaded.session = session
	if loadError := session.Load(ctx, settings.kind); loadError != nil {
		app.closeWorkspace(ctx, loaded)
		return nil, loadError
	}
	if selectionError := applySelectionFlags(session, flags); selectionError != nil {
		app.closeWorkspace(ctx, loaded)
		return nil, selectionError
	}
	return loaded, nil
}

func applySelectionFlags(session *workspace.Session, flags *workspaceFlags) error {
	if flags.deselectAll {
		if deselectError := session.DeselectAll(); deselectError != nil {
			return deselectError
		}
	}
	if flags.selectAll {
		if selectError := session.SelectAll(); selectError != nil {
			return selectError
		}
	}
	for _, relativePath := range flags.selectPaths {
		if toggleError := session.TogglePath(relativePath, true); toggleError != nil {
			return fmt.Errorf(errorSelectPathFormat, relativePath, toggleError)
		}
	}
	for _, relativePath := range flags.deselectPaths {
		if toggleError := session.TogglePath(relativePath, false); toggleError != nil {
			return fmt.Errorf(errorDeselectPathFormat, relativePath, toggleError)
		}
	}
	return nil
}

// closeWorkspace flushes the token cache and writes the metrics file. Failures
// are logged; the command output is already complete.
func (app *application) closeWorkspace(ctx context.Context, loaded *loadedWorkspace) {
	if closeError := loaded.manager.Close(ctx); closeError != nil {
		app.logger.Warn(closeWorkspaceWarning, zap.Error(closeError))
	}
	if loaded.recorder == nil {
		return
	}
	if writeError := loaded.recorder.WriteTextfile(loaded.metricsFile); writeError != nil {
		app.logger.Warn(metricsWriteWarning, zap.String("path", loaded.metricsFile), zap.Error(writeError))
	}
}

// newTreeCommand returns the tree subcommand.
func newTreeCommand(app *application) *cobra.Command {
	var flags workspaceFlags
	var outputFormat string
	var filterText string
	var filterType string

	treeCommand := &cobra.Command{
		Use:     treeUse,
		Aliases: []string{treeAlias},
		Short:   treeShortDescription,
		Long:    treeLongDescription,
		Example: treeUsageExample,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(command *cobra.Command, arguments []string) error {
			settings, settingsError := app.resolveWorkspaceSettings(command, arguments, &flags)
			if settingsError != nil {
				return settingsError
			}
			format := app.configuration.FormatOrDefault()
			if command.Flags().Changed(formatFlagName) {
				format = strings.ToLower(strings.TrimSpace(outputFormat))
			}
			if !isSupportedFormat(format) {
				return fmt.Errorf(invalidFormatMessage, format)
			}
			filterKind, filterKindError := selection.ParseFilterKind(filterType)
			if filterKindError != nil {
				return filterKindError
			}
			filter := selection.Filter{Kind: filterKind, Text: filterText}

			ctx := command.Context()
			loaded, openError := app.openWorkspace(ctx, settings, &flags)
			if openError != nil {
				return openError
			}
			defer app.closeWorkspace(ctx, loaded)
			return app.renderTree(loaded.session, settings, format, filter)
		},
	}

	addWorkspaceFlags(treeCommand, &flags)
	treeCommand.Flags().StringVar(&outputFormat, formatFlagName, types.FormatRaw, formatFlagDescription)
	treeCommand.Flags().StringVar(&filterText, filterFlagName, "", filterFlagDescription)
	treeCommand.Flags().StringVar(&filterType, filterTypeFlagName, string(selection.FilterSubstring), filterTypeFlagDescription)
	return treeCommand
}

func (app *application) renderTree(session *workspace.Session, settings workspaceSettings, format string, filter selection.Filter) error {
	report := session.Report()
	renderError := session.View(func(tree *selection.Tree) error {
		var visible []selection.NodeID
		if !filter.IsEmpty() {
			matched, matchError := tree.Match(filter)
			if matchError != nil {
				return matchError
			}
			visible = matched
		}
		if format == types.FormatRaw {
			output.WriteTreeRaw(app.stdout(), settings.root, tree, visible, output.RawOptions{
				Color:      app.colorEnabled(),
				Summary:    true,
				TokenLimit: settings.tokenLimit,
				Model:      settings.kind.String(),
			})
			return nil
		}
		document := types.WorkspaceOutput{
			Root:    settings.root,
			Summary: output.Summarize(tree, settings.kind.String(), settings.tokenLimit),
			Nodes:   output.BuildTreeOutput(tree, visible),
			Issues:  report.Issues,
		}
		var rendered string
		var encodeError error
		if format == types.FormatJSON {
			rendered, encodeError = output.RenderJSON(document)
		} else {
			rendered, encodeError = output.RenderXML(document)
		}
		if encodeError != nil {
			return encodeError
		}
		fmt.Fprintln(app.stdout(), rendered)
		return nil
	})
	if renderError != nil {
		return renderError
	}
	if format == types.FormatRaw {
		output.WriteReport(app.stderr(), report, app.colorEnabled())
	}
	return nil
}

// newContentCommand returns the content subcommand.
func newContentCommand(app *application) *cobra.Command {
	var flags workspaceFlags
	var copyToClipboard bool

	contentCommand := &cobra.Command{
		Use:     contentUse,
		Aliases: []string{contentAlias},
		Short:   contentShortDescription,
		Long:    contentLongDescription,
		Example: contentUsageExample,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(command *cobra.Command, arguments []string) error {
			settings, settingsError := app.resolveWorkspaceSettings(command, arguments, &flags)
			if settingsError != nil {
				return settingsError
			}
			ctx := command.Context()
			loaded, openError := app.openWorkspace(ctx, settings, &flags)
			if openError != nil {
				return openError
			}
			defer app.closeWorkspace(ctx, loaded)

			session := loaded.session
			for _, issue := range session.Report().Issues {
				app.logger.Warn(issue.Message, zap.String("path", issue.Path), zap.String("kind", string(issue.Kind)))
			}
			selectedPaths := session.SelectedPaths()
			if len(selectedPaths) == 0 {
				fmt.Fprintln(app.stderr(), noFilesSelectedMessage)
				return nil
			}
			selectedTokens := session.SelectedTokenTotal()
			if settings.tokenLimit > 0 && selectedTokens > settings.tokenLimit {
				fmt.Fprintf(app.stderr(), warningOverLimitFormat, selectedTokens, settings.tokenLimit)
			}
			bundle, bundleError := output.BuildBundle(session.Root(), selectedPaths)
			if bundleError != nil {
				return bundleError
			}
			if copyToClipboard {
				if copyError := app.dependencies.Copier.Copy(bundle); copyError != nil {
					return fmt.Errorf("copy to clipboard: %w", copyError)
				}
				fmt.Fprintf(app.stderr(), copiedToClipboardFormat, len(selectedPaths), selectedTokens)
				return nil
			}
			fmt.Fprintln(app.stdout(), bundle)
			return nil
		},
	}

	addWorkspaceFlags(contentCommand, &flags)
	registerBooleanFlag(contentCommand.Flags(), &copyToClipboard, clipboardFlagName, false, clipboardFlagDescription)
	return contentCommand
}
