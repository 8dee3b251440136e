// Package crawler enumerates the candidate files of a workspace.
package crawler

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/temirov/ctxload/internal/config"
	"github.com/temirov/ctxload/internal/ignore"
	"github.com/temirov/ctxload/internal/types"
	"github.com/temirov/ctxload/internal/utils"
)

const (
	rootRelativePath            = "."
	hiddenEntryPrefix           = "."
	workspaceNotDirectoryFormat = "workspace root %s is not a directory"
	workspaceStatFormat         = "stat workspace root %s: %w"
	readDirectoryWarning        = "unable to read directory"
	statEntryWarning            = "unable to stat entry"
	ignoreFileWarning           = "unable to read ignore file"
	ignoreRuleWarning           = "skipping malformed ignore rule"
)

// Options configures a Crawler.
type Options struct {
	// ExclusionPatterns are ignore rules evaluated after the workspace .gitignore.
	ExclusionPatterns []string
	// IncludeHidden lists entries whose names begin with a dot. The .git
	// directory is skipped either way.
	IncludeHidden bool
	Logger        *zap.Logger
}

// Candidate is an enumerated workspace entry eligible for token estimation.
type Candidate struct {
	RelativePath string
	AbsolutePath string
	SizeBytes    int64
	ModTime      time.Time
	IsSymlink    bool
}

// Result is the outcome of one enumeration.
type Result struct {
	Candidates        []Candidate
	Warnings          []types.FileIssue
	IgnoreFilePresent bool
	IgnoreParseErrors []ignore.ParseError
}

// Crawler walks a workspace honoring its root .gitignore.
type Crawler struct {
	options Options
	logger  *zap.Logger
}

// New constructs a Crawler.
func New(options Options) *Crawler {
	return &Crawler{options: options, logger: utils.LoggerOrNop(options.Logger)}
}

type walkState struct {
	workspaceRoot string
	matcher       *ignore.Matcher
	pruneIgnored  bool
	result        *Result
}

// Enumerate lists every non-ignored file and symbolic link under workspaceRoot
// in lexical order. The .git directory is never entered, hidden entries are
// skipped unless requested, symbolic links are listed without being followed,
// and unreadable directories become warnings.
func (crawler *Crawler) Enumerate(ctx context.Context, workspaceRoot string) (Result, error) {
	absoluteRoot, absoluteError := filepath.Abs(workspaceRoot)
	if absoluteError != nil {
		return Result{}, fmt.Errorf(workspaceStatFormat, workspaceRoot, absoluteError)
	}
	rootInfo, statError := os.Stat(absoluteRoot)
	if statError != nil {
		return Result{}, fmt.Errorf(workspaceStatFormat, absoluteRoot, statError)
	}
	if !rootInfo.IsDir() {
		return Result{}, fmt.Errorf(workspaceNotDirectoryFormat, absoluteRoot)
	}

	result := Result{}
	matcher, ignoreFile, loadError := config.LoadIgnoreMatcher(absoluteRoot, crawler.options.ExclusionPatterns)
	if loadError != nil {
		crawler.logger.Warn(ignoreFileWarning, zap.String("path", ignoreFile.Path), zap.Error(loadError))
		result.Warnings = append(result.Warnings, types.FileIssue{
			Path:    utils.GitIgnoreFileName,
			Kind:    types.IssueKindIO,
			Message: loadError.Error(),
		})
		matcher = ignore.New("").Extend(crawler.options.ExclusionPatterns)
	}
	result.IgnoreFilePresent = ignoreFile.Present
	result.IgnoreParseErrors = matcher.ParseErrors()
	for _, parseError := range result.IgnoreParseErrors {
		crawler.logger.Warn(ignoreRuleWarning, zap.Int("line", parseError.LineNumber), zap.String("rule", parseError.Line), zap.Error(parseError.Err))
		result.Warnings = append(result.Warnings, types.FileIssue{
			Path:    utils.GitIgnoreFileName,
			Kind:    types.IssueKindIgnoreParse,
			Message: parseError.Error(),
		})
	}

	state := &walkState{
		workspaceRoot: absoluteRoot,
		matcher:       matcher,
		pruneIgnored:  !matcher.HasNegations(),
		result:        &result,
	}
	if walkError := crawler.walkDirectory(ctx, state, absoluteRoot, utils.EmptyString); walkError != nil {
		return Result{}, walkError
	}

	sort.Slice(result.Candidates, func(leftIndex, rightIndex int) bool {
		return result.Candidates[leftIndex].RelativePath < result.Candidates[rightIndex].RelativePath
	})
	return result, nil
}

func (crawler *Crawler) walkDirectory(ctx context.Context, state *walkState, absoluteDirectory string, relativeDirectory string) error {
	directoryEntries, readDirectoryError := os.ReadDir(absoluteDirectory)
	if readDirectoryError != nil {
		warningPath := relativeDirectory
		if warningPath == utils.EmptyString {
			warningPath = rootRelativePath
		}
		crawler.logger.Warn(readDirectoryWarning, zap.String("path", warningPath), zap.Error(readDirectoryError))
		state.result.Warnings = append(state.result.Warnings, types.FileIssue{
			Path:    warningPath,
			Kind:    types.IssueKindIO,
			Message: readDirectoryError.Error(),
		})
	}

	for _, directoryEntry := range directoryEntries {
		if contextError := ctx.Err(); contextError != nil {
			return contextError
		}
		entryName := directoryEntry.Name()
		if entryName == utils.GitDirectoryName {
			continue
		}
		if !crawler.options.IncludeHidden && strings.HasPrefix(entryName, hiddenEntryPrefix) {
			continue
		}
		relativePath := entryName
		if relativeDirectory != utils.EmptyString {
			relativePath = path.Join(relativeDirectory, entryName)
		}
		absolutePath := filepath.Join(absoluteDirectory, entryName)
		entryType := directoryEntry.Type()

		switch {
		case entryType&fs.ModeSymlink != 0:
			if state.matcher.IsIgnored(relativePath) {
				continue
			}
			crawler.appendCandidate(state, directoryEntry, relativePath, absolutePath, true)
		case directoryEntry.IsDir():
			if state.pruneIgnored && state.matcher.IsIgnoredDir(relativePath) {
				continue
			}
			if walkError := crawler.walkDirectory(ctx, state, absolutePath, relativePath); walkError != nil {
				return walkError
			}
		case entryType.IsRegular():
			if state.matcher.IsIgnored(relativePath) {
				continue
			}
			crawler.appendCandidate(state, directoryEntry, relativePath, absolutePath, false)
		default:
			crawler.logger.Debug("skipping irregular entry", zap.String("path", relativePath))
		}
	}
	return nil
}

func (crawler *Crawler) appendCandidate(state *walkState, directoryEntry fs.DirEntry, relativePath string, absolutePath string, isSymlink bool) {
	entryInfo, infoError := directoryEntry.Info()
	if infoError != nil {
		crawler.logger.Warn(statEntryWarning, zap.String("path", relativePath), zap.Error(infoError))
		state.result.Warnings = append(state.result.Warnings, types.FileIssue{
			Path:    relativePath,
			Kind:    types.IssueKindIO,
			Message: infoError.Error(),
		})
		return
	}
	state.result.Candidates = append(state.result.Candidates, Candidate{
		RelativePath: relativePath,
		AbsolutePath: absolutePath,
		SizeBytes:    entryInfo.Size(),
		ModTime:      entryInfo.ModTime(),
		IsSymlink:    isSymlink,
	})
}
