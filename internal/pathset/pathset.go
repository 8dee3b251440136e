// Package pathset provides the set of workspace-relative paths backing a selection.
package pathset

import (
	"sort"

	"github.com/temirov/ctxload/internal/utils"
)

// Set holds normalized, slash-separated workspace-relative paths.
// A Set is not safe for concurrent mutation.
type Set struct {
	members map[string]struct{}
}

// New returns a Set containing the provided paths.
func New(paths ...string) *Set {
	set := &Set{members: make(map[string]struct{}, len(paths))}
	set.AddAll(paths)
	return set
}

// Add inserts relativePath and reports whether it was absent before.
func (set *Set) Add(relativePath string) bool {
	normalizedPath := utils.NormalizeRelativePath(relativePath)
	if normalizedPath == utils.EmptyString {
		return false
	}
	if _, exists := set.members[normalizedPath]; exists {
		return false
	}
	set.members[normalizedPath] = struct{}{}
	return true
}

// AddAll inserts every path.
func (set *Set) AddAll(relativePaths []string) {
	for _, relativePath := range relativePaths {
		set.Add(relativePath)
	}
}

// Remove deletes relativePath and reports whether it was present.
func (set *Set) Remove(relativePath string) bool {
	normalizedPath := utils.NormalizeRelativePath(relativePath)
	if _, exists := set.members[normalizedPath]; !exists {
		return false
	}
	delete(set.members, normalizedPath)
	return true
}

// RemoveAll deletes every path.
func (set *Set) RemoveAll(relativePaths []string) {
	for _, relativePath := range relativePaths {
		set.Remove(relativePath)
	}
}

// Contains reports whether relativePath is a member.
func (set *Set) Contains(relativePath string) bool {
	if set == nil {
		return false
	}
	_, exists := set.members[utils.NormalizeRelativePath(relativePath)]
	return exists
}

// Len returns the number of members.
func (set *Set) Len() int {
	if set == nil {
		return 0
	}
	return len(set.members)
}

// Clear removes every member.
func (set *Set) Clear() {
	set.members = make(map[string]struct{})
}

// Sorted returns the members in lexical order.
func (set *Set) Sorted() []string {
	if set == nil {
		return nil
	}
	sortedPaths := make([]string, 0, len(set.members))
	for member := range set.members {
		sortedPaths = append(sortedPaths, member)
	}
	sort.Strings(sortedPaths)
	return sortedPaths
}

// Clone returns an independent copy.
func (set *Set) Clone() *Set {
	clone := &Set{members: make(map[string]struct{}, set.Len())}
	if set == nil {
		return clone
	}
	for member := range set.members {
		clone.members[member] = struct{}{}
	}
	return clone
}

// Equal reports whether both sets hold the same members.
func (set *Set) Equal(other *Set) bool {
	if set.Len() != other.Len() {
		return false
	}
	if set == nil {
		return true
	}
	for member := range set.members {
		if !other.Contains(member) {
			return false
		}
	}
	return true
}

// RetainOnly removes every member not present in allowedPaths.
func (set *Set) RetainOnly(allowedPaths []string) {
	allowed := make(map[string]struct{}, len(allowedPaths))
	for _, allowedPath := range allowedPaths {
		allowed[utils.NormalizeRelativePath(allowedPath)] = struct{}{}
	}
	for member := range set.members {
		if _, keep := allowed[member]; !keep {
			delete(set.members, member)
		}
	}
}
