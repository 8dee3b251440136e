// Package config loads the workspace ignore file and the application configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/temirov/ctxload/internal/ignore"
	"github.com/temirov/ctxload/internal/utils"
)

// IgnoreFile is the root ignore file of a workspace.
type IgnoreFile struct {
	Path    string
	Present bool
	Text    string
}

// LoadIgnoreFile reads the .gitignore file at the root of workspaceRoot.
// A missing file is not an error and yields Present == false.
//
// #nosec G304
func LoadIgnoreFile(workspaceRoot string) (IgnoreFile, error) {
	ignoreFilePath := filepath.Join(workspaceRoot, utils.GitIgnoreFileName)
	ignoreFile := IgnoreFile{Path: ignoreFilePath}
	fileContent, readFileError := os.ReadFile(ignoreFilePath)
	if readFileError != nil {
		if os.IsNotExist(readFileError) {
			return ignoreFile, nil
		}
		return ignoreFile, fmt.Errorf("loading %s from %s: %w", utils.GitIgnoreFileName, workspaceRoot, readFileError)
	}
	ignoreFile.Present = true
	ignoreFile.Text = string(fileContent)
	return ignoreFile, nil
}

// LoadIgnoreMatcher reads the root ignore file and builds a matcher with the
// provided exclusion patterns appended after the file's rules.
func LoadIgnoreMatcher(workspaceRoot string, exclusionPatterns []string) (*ignore.Matcher, IgnoreFile, error) {
	ignoreFile, loadError := LoadIgnoreFile(workspaceRoot)
	if loadError != nil {
		return nil, ignoreFile, loadError
	}
	matcher := ignore.New(ignoreFile.Text)
	trimmedPatterns := utils.DeduplicatePatterns(exclusionPatterns)
	if len(trimmedPatterns) > 0 {
		matcher = matcher.Extend(trimmedPatterns)
	}
	return matcher, ignoreFile, nil
}
