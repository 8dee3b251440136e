// Package utils contains general helper functions used across ctxload.
package utils

import (
	"os"
	"path/filepath"
	"strings"
)

// Workspace file constants used across the project.
const (
	// GitIgnoreFileName is the name of the Git ignore file consulted at the workspace root.
	GitIgnoreFileName = ".gitignore"
	// GitDirectoryName is the name of the Git repository directory, never enumerated.
	GitDirectoryName = ".git"
)

const pathSegmentSeparator = "/"

// DeduplicatePatterns removes duplicate patterns from a slice while preserving order.
// The first occurrence of each unique pattern is kept.
func DeduplicatePatterns(patterns []string) []string {
	encounteredPatterns := make(map[string]struct{})
	result := make([]string, 0, len(patterns))
	for _, pattern := range patterns {
		if _, exists := encounteredPatterns[pattern]; !exists {
			encounteredPatterns[pattern] = struct{}{}
			result = append(result, pattern)
		}
	}
	return result
}

// NormalizeRelativePath converts a workspace-relative path into the canonical
// slash-separated form without a leading "./" or trailing separator.
func NormalizeRelativePath(relativePath string) string {
	normalized := strings.ReplaceAll(relativePath, "\\", pathSegmentSeparator)
	normalized = filepath.ToSlash(filepath.Clean(filepath.FromSlash(normalized)))
	normalized = strings.TrimPrefix(normalized, "./")
	normalized = strings.TrimPrefix(normalized, pathSegmentSeparator)
	if normalized == "." {
		return EmptyString
	}
	return normalized
}

// SplitRelativePath splits a normalized relative path into its segments.
func SplitRelativePath(relativePath string) []string {
	normalized := NormalizeRelativePath(relativePath)
	if normalized == EmptyString {
		return nil
	}
	return strings.Split(normalized, pathSegmentSeparator)
}

// ParentRelativePath returns the parent directory of relativePath, or the empty
// string for a top-level entry.
func ParentRelativePath(relativePath string) string {
	normalized := NormalizeRelativePath(relativePath)
	separatorIndex := strings.LastIndex(normalized, pathSegmentSeparator)
	if separatorIndex < 0 {
		return EmptyString
	}
	return normalized[:separatorIndex]
}

// UserCacheDirectory returns the directory holding ctxload caches. It honors
// XDG_CACHE_HOME and falls back to ~/.cache.
func UserCacheDirectory() string {
	if xdgCacheHome := strings.TrimSpace(os.Getenv("XDG_CACHE_HOME")); xdgCacheHome != "" {
		return filepath.Join(xdgCacheHome, ApplicationName)
	}
	homeDirectory, homeError := os.UserHomeDir()
	if homeError != nil || homeDirectory == "" {
		return filepath.Join(os.TempDir(), ApplicationName)
	}
	return filepath.Join(homeDirectory, ".cache", ApplicationName)
}
