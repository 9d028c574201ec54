// Package index maintains the derived lookup structures over the
// canonical repository cache: a path-prefix trie, a bounded
// most-recently-used record cache, and inverted attribute indices.
// All of them are rebuildable from the cache document alone; losing them
// costs a rebuild, never data.
package index

import (
	"sort"
	"strings"
)

// PathTrie indexes repository paths by path segment for "everything under
// directory D" queries. Each node carries the full paths that terminate
// exactly there, so nested repositories are handled naturally.
type PathTrie struct {
	root *trieNode
}

type trieNode struct {
	children map[string]*trieNode
	repos    map[string]struct{}
}

func newTrieNode() *trieNode {
	return &trieNode{children: make(map[string]*trieNode)}
}

// NewPathTrie returns an empty trie.
func NewPathTrie() *PathTrie {
	return &PathTrie{root: newTrieNode()}
}

// splitSegments breaks a slash-separated path into its non-empty
// segments. Matching by segment is what keeps /home/user from covering
// /home/userx.
func splitSegments(path string) []string {
	parts := strings.Split(path, "/")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Insert records a repository path. O(depth).
func (t *PathTrie) Insert(path string) {
	node := t.root
	for _, seg := range splitSegments(path) {
		child, ok := node.children[seg]
		if !ok {
			child = newTrieNode()
			node.children[seg] = child
		}
		node = child
	}
	if node.repos == nil {
		node.repos = make(map[string]struct{})
	}
	node.repos[path] = struct{}{}
}

// Remove deletes a repository path. Intermediate nodes are not pruned;
// that costs memory, not correctness. O(depth).
func (t *PathTrie) Remove(path string) {
	node := t.root
	for _, seg := range splitSegments(path) {
		child, ok := node.children[seg]
		if !ok {
			return
		}
		node = child
	}
	delete(node.repos, path)
}

// FindUnder returns every repository path at or below prefix, sorted.
// An empty prefix returns all paths. A prefix whose segments do not
// exist in the trie returns nil.
func (t *PathTrie) FindUnder(prefix string) []string {
	node := t.root
	for _, seg := range splitSegments(prefix) {
		child, ok := node.children[seg]
		if !ok {
			return nil
		}
		node = child
	}
	var out []string
	collect(node, &out)
	sort.Strings(out)
	return out
}

func collect(node *trieNode, out *[]string) {
	for path := range node.repos {
		*out = append(*out, path)
	}
	for _, child := range node.children {
		collect(child, out)
	}
}

// Clear resets the trie to empty; used before a full rebuild.
func (t *PathTrie) Clear() {
	t.root = newTrieNode()
}
