package output

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fatih/color"

	"github.com/temirov/ctxload/internal/orchestrator"
	"github.com/temirov/ctxload/internal/selection"
	"github.com/temirov/ctxload/internal/types"
	"github.com/temirov/ctxload/internal/utils"
)

const (
	indentPrefix = ""
	indentSpacer = "  "

	xmlHeader = xml.Header

	binaryContentOmitted = "(binary content omitted)"
	symlinkNoteFormat    = "(symlink -> %s)"

	bundleHeaderFormat = "@@@ ./%s @@@\n\n"
	bundleSeparator    = "\n\n"

	markerSelected    = "[x]"
	markerNotSelected = "[ ]"
	markerPartial     = "[~]"

	treeBranchConnector = "├── "
	treeLastConnector   = "└── "
	treeBranchPadding   = "│   "
	treeLastPadding     = "    "

	folderSuffix         = "/"
	tokensUnavailable    = "tokens unavailable"
	overLimitFormat      = "selection exceeds the %d token limit"
	issueLineFormat      = "%s %s: %s\n"
	cacheLineFormat      = "Cache: %d hits, %d misses\n"
	errorBundleReadingFn = "read %s: %w"
)

// RawOptions configures the raw tree renderer.
type RawOptions struct {
	// Color enables ANSI colors when the terminal supports them.
	Color bool
	// Summary prints the summary line before the tree.
	Summary bool
	// TokenLimit marks the summary when the selection exceeds it.
	TokenLimit int
	Model      string
}

type palette struct {
	selected *color.Color
	partial  *color.Color
	folder   *color.Color
	muted    *color.Color
	warning  *color.Color
}

func newPalette(enabled bool) palette {
	colors := palette{
		selected: color.New(color.FgGreen),
		partial:  color.New(color.FgYellow),
		folder:   color.New(color.FgBlue, color.Bold),
		muted:    color.New(color.Faint),
		warning:  color.New(color.FgRed, color.Bold),
	}
	if !enabled {
		for _, entry := range []*color.Color{colors.selected, colors.partial, colors.folder, colors.muted, colors.warning} {
			entry.DisableColor()
		}
	}
	return colors
}

// BuildTreeOutput converts the tree into nested output nodes. When visible is
// non-nil only those node ids are included.
func BuildTreeOutput(tree *selection.Tree, visible []selection.NodeID) []*types.TreeOutputNode {
	var include map[selection.NodeID]struct{}
	if visible != nil {
		include = make(map[selection.NodeID]struct{}, len(visible))
		for _, id := range visible {
			include[id] = struct{}{}
		}
	}
	var convert func(ids []selection.NodeID) []*types.TreeOutputNode
	convert = func(ids []selection.NodeID) []*types.TreeOutputNode {
		var nodes []*types.TreeOutputNode
		for _, id := range ids {
			if include != nil {
				if _, included := include[id]; !included {
					continue
				}
			}
			node, found := tree.Node(id)
			if !found {
				continue
			}
			outputNode := &types.TreeOutputNode{
				ID:              int(node.ID),
				Path:            node.RelativePath,
				Name:            node.Name,
				Type:            node.Kind.String(),
				State:           node.State.String(),
				Expanded:        node.Expanded,
				SizeBytes:       node.SizeBytes,
				Tokens:          node.TokenCount,
				TokensAvailable: node.TokensAvailable,
				SelectedTokens:  tree.SelectedTokens(id),
			}
			if node.Kind == selection.KindFile {
				outputNode.Size = utils.FormatFileSize(node.SizeBytes)
			}
			outputNode.Children = convert(node.Children)
			nodes = append(nodes, outputNode)
		}
		return nodes
	}
	return convert(tree.Roots())
}

// Summarize aggregates the tree's files and selection.
func Summarize(tree *selection.Tree, model string, tokenLimit int) types.OutputSummary {
	summary := types.OutputSummary{Model: model, TokenLimit: tokenLimit}
	var totalBytes int64
	tree.Walk(func(node selection.Node) bool {
		if node.Kind != selection.KindFile {
			return true
		}
		summary.TotalFiles++
		totalBytes += node.SizeBytes
		if node.TokensAvailable {
			summary.TotalTokens += node.TokenCount
		}
		if node.State == selection.Selected {
			summary.SelectedFiles++
		}
		return true
	})
	summary.TotalSize = utils.FormatFileSize(totalBytes)
	summary.SelectedTokens = tree.SelectedTokenTotal()
	summary.OverLimit = tree.OverLimit(tokenLimit)
	return summary
}

// RenderJSON marshals a workspace rendering to indented JSON.
func RenderJSON(document types.WorkspaceOutput) (string, error) {
	if document.Nodes == nil {
		document.Nodes = []*types.TreeOutputNode{}
	}
	encoded, jsonEncodeError := json.MarshalIndent(document, indentPrefix, indentSpacer)
	return string(encoded), jsonEncodeError
}

// RenderXML marshals a workspace rendering to an XML document.
func RenderXML(document types.WorkspaceOutput) (string, error) {
	encoded, xmlMarshalError := xml.MarshalIndent(document, indentPrefix, indentSpacer)
	if xmlMarshalError != nil {
		return "", xmlMarshalError
	}
	return xmlHeader + string(encoded), nil
}

// FormatSummaryLine formats an OutputSummary into the raw summary line.
func FormatSummaryLine(summary types.OutputSummary) string {
	label := "files"
	if summary.TotalFiles == 1 {
		label = "file"
	}
	modelSuffix := ""
	if summary.Model != "" {
		modelSuffix = fmt.Sprintf(" (estimator: %s)", summary.Model)
	}
	return fmt.Sprintf("Summary: %d %s, %s, %d tokens; selected %d, %d tokens%s",
		summary.TotalFiles, label, summary.TotalSize, summary.TotalTokens,
		summary.SelectedFiles, summary.SelectedTokens, modelSuffix)
}

// WriteTreeRaw renders the tree with box-drawing connectors and selection
// markers. When visible is non-nil only those node ids are printed.
func WriteTreeRaw(writer io.Writer, rootLabel string, tree *selection.Tree, visible []selection.NodeID, options RawOptions) {
	colors := newPalette(options.Color)
	if options.Summary {
		summary := Summarize(tree, options.Model, options.TokenLimit)
		fmt.Fprintln(writer, FormatSummaryLine(summary))
		if summary.OverLimit {
			fmt.Fprintln(writer, colors.warning.Sprintf(overLimitFormat, options.TokenLimit))
		}
		fmt.Fprintln(writer)
	}
	fmt.Fprintln(writer, colors.folder.Sprint(rootLabel))
	nodes := BuildTreeOutput(tree, visible)
	for index, node := range nodes {
		renderTreeNode(writer, node, "", index == len(nodes)-1, colors)
	}
}

func treeNodeLinePrefix(prefix string, isLast bool) (string, string) {
	if isLast {
		return prefix + treeLastConnector, prefix + treeLastPadding
	}
	return prefix + treeBranchConnector, prefix + treeBranchPadding
}

func stateMarker(state string, colors palette) string {
	switch state {
	case selection.Selected.String():
		return colors.selected.Sprint(markerSelected)
	case selection.PartiallySelected.String():
		return colors.partial.Sprint(markerPartial)
	default:
		return markerNotSelected
	}
}

func tokenLabel(node *types.TreeOutputNode, colors palette) string {
	if !node.TokensAvailable && node.Type == types.NodeTypeFile {
		return colors.muted.Sprint("(" + tokensUnavailable + ")")
	}
	return colors.muted.Sprintf("(%d tokens)", node.Tokens)
}

func renderTreeNode(writer io.Writer, node *types.TreeOutputNode, prefix string, isLast bool, colors palette) {
	linePrefix, childPrefix := treeNodeLinePrefix(prefix, isLast)
	name := node.Name
	if node.Type == types.NodeTypeFolder {
		name = colors.folder.Sprint(node.Name + folderSuffix)
	}
	fmt.Fprintf(writer, "%s%s %s %s\n", linePrefix, stateMarker(node.State, colors), name, tokenLabel(node, colors))
	for index, child := range node.Children {
		renderTreeNode(writer, child, childPrefix, index == len(node.Children)-1, colors)
	}
}

// WriteReport prints the file-scoped issues and cache statistics of a computation.
func WriteReport(writer io.Writer, report orchestrator.Report, colorEnabled bool) {
	colors := newPalette(colorEnabled)
	for _, issue := range report.Issues {
		fmt.Fprintf(writer, issueLineFormat, colors.warning.Sprintf("[%s]", issue.Kind), issue.Path, issue.Message)
	}
	fmt.Fprintf(writer, cacheLineFormat, report.CacheHits, report.CacheMisses)
}

// BuildBundle concatenates the files at relativePaths under workspaceRoot, each
// preceded by an "@@@ ./path @@@" header. Binary files are replaced by a note
// and symbolic links by their target; links are never followed.
func BuildBundle(workspaceRoot string, relativePaths []string) (string, error) {
	var buffer bytes.Buffer
	for index, relativePath := range relativePaths {
		if index > 0 {
			buffer.WriteString(bundleSeparator)
		}
		normalizedPath := utils.NormalizeRelativePath(relativePath)
		fmt.Fprintf(&buffer, bundleHeaderFormat, normalizedPath)
		absolutePath := filepath.Join(workspaceRoot, filepath.FromSlash(normalizedPath))
		fileInfo, lstatError := os.Lstat(absolutePath)
		if lstatError != nil {
			return "", fmt.Errorf(errorBundleReadingFn, relativePath, lstatError)
		}
		if fileInfo.Mode()&os.ModeSymlink != 0 {
			linkTarget, readLinkError := os.Readlink(absolutePath)
			if readLinkError != nil {
				return "", fmt.Errorf(errorBundleReadingFn, relativePath, readLinkError)
			}
			fmt.Fprintf(&buffer, symlinkNoteFormat, filepath.ToSlash(linkTarget))
			continue
		}
		// #nosec G304
		content, readError := os.ReadFile(absolutePath)
		if readError != nil {
			return "", fmt.Errorf(errorBundleReadingFn, relativePath, readError)
		}
		if utils.IsBinary(content) {
			buffer.WriteString(binaryContentOmitted)
			continue
		}
		buffer.Write(content)
	}
	return buffer.String(), nil
}
