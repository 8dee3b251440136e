// Package types defines every cross‑package data structure used by ctxload.
package types

import "encoding/xml"

const (
	NodeTypeFile   = "file"
	NodeTypeFolder = "folder"

	FormatRaw  = "raw"
	FormatJSON = "json"
	FormatXML  = "xml"
)

// IssueKind classifies a file-scoped failure reported in a batch.
type IssueKind string

const (
	// IssueKindIO reports a file or directory that could not be read.
	IssueKindIO IssueKind = "IoError"
	// IssueKindIgnoreParse reports a malformed ignore rule that was skipped.
	IssueKindIgnoreParse IssueKind = "IgnoreParseError"
	// IssueKindTokenization reports an estimator failure for one file.
	IssueKindTokenization IssueKind = "TokenizationError"
	// IssueKindCacheStorage reports a persistent cache failure; the cache keeps working in memory.
	IssueKindCacheStorage IssueKind = "CacheStorageError"
)

// FileIssue is a single non-fatal failure attached to a path.
type FileIssue struct {
	Path    string    `json:"path" xml:"path"`
	Kind    IssueKind `json:"kind" xml:"kind"`
	Message string    `json:"message" xml:"message"`
}

// FileEntry describes one eligible file of a workspace after token estimation.
// Entries are immutable once produced and replaced wholesale by the next crawl.
type FileEntry struct {
	RelativePath    string `json:"path" xml:"path"`
	AbsolutePath    string `json:"-" xml:"-"`
	SizeBytes       int64  `json:"sizeBytes" xml:"sizeBytes"`
	Fingerprint     string `json:"fingerprint" xml:"fingerprint"`
	TokenCount      int    `json:"tokens" xml:"tokens"`
	TokensAvailable bool   `json:"tokensAvailable" xml:"tokensAvailable"`
	Truncated       bool   `json:"truncated,omitempty" xml:"truncated,omitempty"`
	IsBinary        bool   `json:"binary,omitempty" xml:"binary,omitempty"`
	IsSymlink       bool   `json:"symlink,omitempty" xml:"symlink,omitempty"`
	EstimatorKind   string `json:"estimator" xml:"estimator"`
}

// TreeOutputNode is one node of a rendered selection tree.
type TreeOutputNode struct {
	XMLName         xml.Name          `json:"-" xml:"node"`
	ID              int               `json:"id" xml:"id,attr"`
	Path            string            `json:"path" xml:"path"`
	Name            string            `json:"name" xml:"name"`
	Type            string            `json:"type" xml:"type"`
	State           string            `json:"state" xml:"state"`
	Expanded        bool              `json:"expanded,omitempty" xml:"expanded,omitempty"`
	Size            string            `json:"size,omitempty" xml:"size,omitempty"`
	SizeBytes       int64             `json:"-" xml:"-"`
	Tokens          int               `json:"tokens" xml:"tokens"`
	TokensAvailable bool              `json:"tokensAvailable" xml:"tokensAvailable"`
	SelectedTokens  int               `json:"selectedTokens,omitempty" xml:"selectedTokens,omitempty"`
	Children        []*TreeOutputNode `json:"children,omitempty" xml:"children>node,omitempty"`
}

// OutputSummary captures aggregate information about a workspace selection.
type OutputSummary struct {
	TotalFiles     int    `json:"totalFiles" xml:"totalFiles"`
	SelectedFiles  int    `json:"selectedFiles" xml:"selectedFiles"`
	TotalSize      string `json:"totalSize" xml:"totalSize"`
	TotalTokens    int    `json:"totalTokens" xml:"totalTokens"`
	SelectedTokens int    `json:"selectedTokens" xml:"selectedTokens"`
	TokenLimit     int    `json:"tokenLimit,omitempty" xml:"tokenLimit,omitempty"`
	OverLimit      bool   `json:"overLimit,omitempty" xml:"overLimit,omitempty"`
	Model          string `json:"model,omitempty" xml:"model,omitempty"`
}

// WorkspaceOutput is the structured rendering of a workspace selection.
type WorkspaceOutput struct {
	XMLName xml.Name          `json:"-" xml:"workspace"`
	Root    string            `json:"root" xml:"root,attr"`
	Summary OutputSummary     `json:"summary" xml:"summary"`
	Nodes   []*TreeOutputNode `json:"nodes" xml:"nodes>node"`
	Issues  []FileIssue       `json:"issues,omitempty" xml:"issues>issue,omitempty"`
}
