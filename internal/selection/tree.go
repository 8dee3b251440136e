// Package selection maintains a tri-state selection over the file and folder
// hierarchy of a workspace.
package selection

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/temirov/ctxload/internal/pathset"
	"github.com/temirov/ctxload/internal/types"
	"github.com/temirov/ctxload/internal/utils"
)

// NodeID addresses a node within one Tree.
type NodeID int

// NoParent is the parent of top-level nodes.
const NoParent NodeID = -1

// ErrUnknownNode reports a node id or path absent from the tree.
var ErrUnknownNode = errors.New("unknown tree node")

// Kind distinguishes files from folders.
type Kind int

const (
	KindFile Kind = iota
	KindFolder
)

// String returns the node type name.
func (kind Kind) String() string {
	if kind == KindFolder {
		return types.NodeTypeFolder
	}
	return types.NodeTypeFile
}

// MarshalText implements encoding.TextMarshaler.
func (kind Kind) MarshalText() ([]byte, error) {
	return []byte(kind.String()), nil
}

// State is the derived selection state of a node.
type State int

const (
	NotSelected State = iota
	Selected
	PartiallySelected
)

// String returns the state name.
func (state State) String() string {
	switch state {
	case Selected:
		return "selected"
	case PartiallySelected:
		return "partial"
	default:
		return "unselected"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (state State) MarshalText() ([]byte, error) {
	return []byte(state.String()), nil
}

// Node is one file or folder of the tree. Children is read-only.
type Node struct {
	ID              NodeID
	Parent          NodeID
	Name            string
	RelativePath    string
	Kind            Kind
	Children        []NodeID
	State           State
	Expanded        bool
	Depth           int
	TokenCount      int
	TokensAvailable bool
	SizeBytes       int64
}

// nodeRecord holds a node and the aggregates needed to derive its state.
type nodeRecord struct {
	Node
	// subtreeEnd is one past the last descendant id; ids are pre-order so a
	// subtree occupies a contiguous id range.
	subtreeEnd     NodeID
	fileCount      int
	selectedCount  int
	selectedTokens int
}

// Tree is an arena of nodes built from a flat file list. The selected path
// set is the single source of truth; node states are recomputed from it after
// every change. A Tree performs no I/O and must not be used concurrently.
type Tree struct {
	nodes    []nodeRecord
	roots    []NodeID
	byPath   map[string]NodeID
	selected *pathset.Set
}

// buildFolder is the intermediate prefix tree used while assigning ids.
type buildFolder struct {
	name    string
	path    string
	folders map[string]*buildFolder
	files   map[string]types.FileEntry
}

func newBuildFolder(name string, relativePath string) *buildFolder {
	return &buildFolder{
		name:    name,
		path:    relativePath,
		folders: make(map[string]*buildFolder),
		files:   make(map[string]types.FileEntry),
	}
}

// Build constructs the tree of entries with node states derived from selected.
// Folders are synthesized for every path prefix. Children are ordered folders
// first, then files, each by name, and ids are assigned in pre-order, so
// identical input always yields identical ids. Top-level folders start
// expanded. The tree mutates selected on toggles; a nil set starts empty.
func Build(entries []types.FileEntry, selected *pathset.Set) *Tree {
	if selected == nil {
		selected = pathset.New()
	}
	root := newBuildFolder(utils.EmptyString, utils.EmptyString)
	for _, entry := range entries {
		segments := utils.SplitRelativePath(entry.RelativePath)
		if len(segments) == 0 {
			continue
		}
		current := root
		for segmentIndex, segment := range segments[:len(segments)-1] {
			child, exists := current.folders[segment]
			if !exists {
				child = newBuildFolder(segment, strings.Join(segments[:segmentIndex+1], "/"))
				current.folders[segment] = child
			}
			current = child
		}
		entry.RelativePath = strings.Join(segments, "/")
		current.files[segments[len(segments)-1]] = entry
	}

	tree := &Tree{byPath: make(map[string]NodeID), selected: selected}
	tree.roots = tree.appendChildren(root, NoParent, 0)
	tree.Rebuild()
	return tree
}

func (tree *Tree) appendChildren(folder *buildFolder, parent NodeID, depth int) []NodeID {
	children := make([]NodeID, 0, len(folder.folders)+len(folder.files))
	for _, folderName := range sortedKeys(folder.folders) {
		child := folder.folders[folderName]
		id := tree.appendNode(Node{
			Parent:       parent,
			Name:         child.name,
			RelativePath: child.path,
			Kind:         KindFolder,
			Expanded:     depth == 0,
			Depth:        depth,
		})
		grandchildren := tree.appendChildren(child, id, depth+1)
		tree.nodes[id].Children = grandchildren
		tree.nodes[id].subtreeEnd = NodeID(len(tree.nodes))
		children = append(children, id)
	}
	for _, fileName := range sortedKeys(folder.files) {
		entry := folder.files[fileName]
		id := tree.appendNode(Node{
			Parent:          parent,
			Name:            fileName,
			RelativePath:    entry.RelativePath,
			Kind:            KindFile,
			Depth:           depth,
			TokenCount:      entry.TokenCount,
			TokensAvailable: entry.TokensAvailable,
			SizeBytes:       entry.SizeBytes,
		})
		tree.nodes[id].subtreeEnd = id + 1
		children = append(children, id)
	}
	return children
}

func (tree *Tree) appendNode(node Node) NodeID {
	node.ID = NodeID(len(tree.nodes))
	tree.nodes = append(tree.nodes, nodeRecord{Node: node})
	if _, exists := tree.byPath[node.RelativePath]; !exists || node.Kind == KindFile {
		tree.byPath[node.RelativePath] = node.ID
	}
	return node.ID
}

func sortedKeys[V any](values map[string]V) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Rebuild recomputes every node state from the selected set, bottom-up. It is
// idempotent: the shape and ids never change and states depend only on the set.
func (tree *Tree) Rebuild() {
	for index := len(tree.nodes) - 1; index >= 0; index-- {
		record := &tree.nodes[index]
		if record.Kind == KindFile {
			record.fileCount = 1
			record.selectedCount = 0
			record.selectedTokens = 0
			record.State = NotSelected
			if tree.selected.Contains(record.RelativePath) {
				record.selectedCount = 1
				record.State = Selected
				if record.TokensAvailable {
					record.selectedTokens = record.TokenCount
				}
			}
			continue
		}
		record.fileCount = 0
		record.selectedCount = 0
		record.selectedTokens = 0
		record.TokenCount = 0
		record.TokensAvailable = true
		for _, childID := range record.Children {
			child := tree.nodes[childID]
			record.fileCount += child.fileCount
			record.selectedCount += child.selectedCount
			record.selectedTokens += child.selectedTokens
			record.TokenCount += child.TokenCount
			record.TokensAvailable = record.TokensAvailable && child.TokensAvailable
		}
		record.State = folderState(record.fileCount, record.selectedCount)
	}
}

// folderState derives a folder's state from its descendant files. A folder
// without files is NotSelected.
func folderState(fileCount int, selectedCount int) State {
	switch {
	case fileCount == 0 || selectedCount == 0:
		return NotSelected
	case selectedCount == fileCount:
		return Selected
	default:
		return PartiallySelected
	}
}

func (tree *Tree) record(id NodeID) (*nodeRecord, error) {
	if id < 0 || int(id) >= len(tree.nodes) {
		return nil, fmt.Errorf("%w: id %d", ErrUnknownNode, id)
	}
	return &tree.nodes[id], nil
}

// Toggle checks or unchecks a node. A file adds or removes its own path; a
// folder adds or removes every file path of its subtree in one update, leaving
// it fully selected or fully unselected.
func (tree *Tree) Toggle(id NodeID, checked bool) error {
	record, lookupError := tree.record(id)
	if lookupError != nil {
		return lookupError
	}
	for descendantID := id; descendantID < record.subtreeEnd; descendantID++ {
		descendant := tree.nodes[descendantID]
		if descendant.Kind != KindFile {
			continue
		}
		if checked {
			tree.selected.Add(descendant.RelativePath)
		} else {
			tree.selected.Remove(descendant.RelativePath)
		}
	}
	tree.Rebuild()
	return nil
}

// TogglePath toggles the node at relativePath.
func (tree *Tree) TogglePath(relativePath string, checked bool) error {
	id, found := tree.FindByPath(relativePath)
	if !found {
		return fmt.Errorf("%w: %s", ErrUnknownNode, relativePath)
	}
	return tree.Toggle(id, checked)
}

// SelectAll selects every file of the tree.
func (tree *Tree) SelectAll() {
	for _, record := range tree.nodes {
		if record.Kind == KindFile {
			tree.selected.Add(record.RelativePath)
		}
	}
	tree.Rebuild()
}

// DeselectAll empties the selection.
func (tree *Tree) DeselectAll() {
	tree.selected.Clear()
	tree.Rebuild()
}

// SetExpanded records whether a folder is expanded.
func (tree *Tree) SetExpanded(id NodeID, expanded bool) error {
	record, lookupError := tree.record(id)
	if lookupError != nil {
		return lookupError
	}
	if record.Kind == KindFolder {
		record.Expanded = expanded
	}
	return nil
}

// Selection returns the selected path set backing the tree.
func (tree *Tree) Selection() *pathset.Set {
	return tree.selected
}

// SelectedPaths returns the selected file paths of the tree in lexical order.
func (tree *Tree) SelectedPaths() []string {
	selectedPaths := make([]string, 0, tree.selected.Len())
	for _, record := range tree.nodes {
		if record.Kind == KindFile && record.State == Selected {
			selectedPaths = append(selectedPaths, record.RelativePath)
		}
	}
	sort.Strings(selectedPaths)
	return selectedPaths
}

// SelectedTokenTotal sums the token counts of selected files.
func (tree *Tree) SelectedTokenTotal() int {
	total := 0
	for _, rootID := range tree.roots {
		total += tree.nodes[rootID].selectedTokens
	}
	return total
}

// OverLimit reports whether the selected token total exceeds a positive limit.
func (tree *Tree) OverLimit(limit int) bool {
	return limit > 0 && tree.SelectedTokenTotal() > limit
}

// SelectedTokens returns the token total of the selected files under id.
func (tree *Tree) SelectedTokens(id NodeID) int {
	record, lookupError := tree.record(id)
	if lookupError != nil {
		return 0
	}
	return record.selectedTokens
}

// Node returns a copy of the node addressed by id.
func (tree *Tree) Node(id NodeID) (Node, bool) {
	record, lookupError := tree.record(id)
	if lookupError != nil {
		return Node{}, false
	}
	return record.Node, true
}

// FindByPath returns the id of the node at relativePath. A file wins over a
// folder sharing its path.
func (tree *Tree) FindByPath(relativePath string) (NodeID, bool) {
	id, found := tree.byPath[utils.NormalizeRelativePath(relativePath)]
	return id, found
}

// Roots returns the top-level node ids in display order.
func (tree *Tree) Roots() []NodeID {
	return append([]NodeID(nil), tree.roots...)
}

// Len returns the number of nodes.
func (tree *Tree) Len() int {
	return len(tree.nodes)
}

// Walk visits nodes in pre-order until visit returns false.
func (tree *Tree) Walk(visit func(node Node) bool) {
	for _, record := range tree.nodes {
		if !visit(record.Node) {
			return
		}
	}
}
