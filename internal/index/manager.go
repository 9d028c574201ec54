package index

import (
	"sort"
	"sync"

	"github.com/veland/gitatlas/internal/models"
)

// Query is a multi-predicate repository search. Nil range bounds and
// empty strings mean "no constraint"; a query with no predicates matches
// every indexed repository.
type Query struct {
	NamePrefix string
	MinSizeMB  *float64
	MaxSizeMB  *float64
	MinCommits *int
	MaxCommits *int
	FileType   string
}

func (q Query) empty() bool {
	return q.NamePrefix == "" && q.FileType == "" &&
		q.MinSizeMB == nil && q.MaxSizeMB == nil &&
		q.MinCommits == nil && q.MaxCommits == nil
}

// Open-ended range queries are clamped to these bounds; commit counts
// are capped at 1000 by analysis anyway, and the size ceiling only
// bounds the bucket iteration.
const (
	maxIndexedSizeMB  = 1 << 20
	maxIndexedCommits = 1000
)

// Manager owns all derived index structures under one lock so that every
// insert and removal updates them jointly. The structures cache the
// canonical store; a reader that misses here must fall back to the
// store, never the other way around.
type Manager struct {
	mu     sync.Mutex
	trie   *PathTrie
	attrs  *AttrIndex
	recent *RecencyCache
}

// NewManager creates the trie, attribute indices, and recency cache.
func NewManager(recencyCapacity int) *Manager {
	return &Manager{
		trie:   NewPathTrie(),
		attrs:  NewAttrIndex(),
		recent: NewRecencyCache(recencyCapacity),
	}
}

// Insert registers a repository in the trie and the attribute indices.
// Pinned records are also written into the recency cache since they are
// disproportionately likely to be re-read; an already-cached record is
// refreshed to keep the cache consistent with the store.
func (m *Manager) Insert(repo models.Repository) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trie.Insert(repo.Path)
	m.attrs.Insert(repo.Name, repo.Path, repo.SizeMB, repo.CommitCount, repo.FileTypes)
	if repo.IsPinned || m.recent.Contains(repo.Path) {
		m.recent.Put(repo.Path, repo)
	}
}

// Remove unregisters a repository from every structure. The full record
// is required so attribute removal computes the same buckets the insert
// did.
func (m *Manager) Remove(repo models.Repository) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trie.Remove(repo.Path)
	m.attrs.Remove(repo.Name, repo.Path, repo.SizeMB, repo.CommitCount, repo.FileTypes)
	m.recent.Pop(repo.Path)
}

// Rebuild replaces all index contents from the canonical document and
// pre-warms the recency cache with pinned records.
func (m *Manager) Rebuild(repos []models.Repository) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trie.Clear()
	m.attrs.Clear()
	m.recent.Purge()
	for _, repo := range repos {
		m.trie.Insert(repo.Path)
		m.attrs.Insert(repo.Name, repo.Path, repo.SizeMB, repo.CommitCount, repo.FileTypes)
		if repo.IsPinned {
			m.recent.Put(repo.Path, repo)
		}
	}
}

// FindUnder returns every indexed repository path at or below prefix.
func (m *Manager) FindUnder(prefix string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trie.FindUnder(prefix)
}

// Search intersects the candidate sets contributed by each provided
// predicate and returns the matching paths, sorted. With no predicates
// it returns every indexed path.
func (m *Manager) Search(q Query) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if q.empty() {
		return m.trie.FindUnder("")
	}

	var sets [][]string
	if q.NamePrefix != "" {
		sets = append(sets, m.attrs.NamePrefix(q.NamePrefix))
	}
	if q.MinSizeMB != nil || q.MaxSizeMB != nil {
		lo, hi := 0.0, float64(maxIndexedSizeMB)
		if q.MinSizeMB != nil {
			lo = *q.MinSizeMB
		}
		if q.MaxSizeMB != nil {
			hi = *q.MaxSizeMB
		}
		sets = append(sets, m.attrs.SizeRange(lo, hi))
	}
	if q.MinCommits != nil || q.MaxCommits != nil {
		lo, hi := 0, maxIndexedCommits
		if q.MinCommits != nil {
			lo = *q.MinCommits
		}
		if q.MaxCommits != nil {
			hi = *q.MaxCommits
		}
		sets = append(sets, m.attrs.CommitRange(lo, hi))
	}
	if q.FileType != "" {
		sets = append(sets, m.attrs.FileType(q.FileType))
	}

	result := intersect(sets)
	sort.Strings(result)
	return result
}

// Cached returns a copy of the cached record for path, promoting it.
func (m *Manager) Cached(path string) (models.Repository, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recent.Get(path)
}

// CachePut backfills the recency cache after a canonical-store read.
func (m *Manager) CachePut(repo models.Repository) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recent.Put(repo.Path, repo)
}

// CacheDrop evicts a record, e.g. after it changed in the store.
func (m *Manager) CacheDrop(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recent.Pop(path)
}

func intersect(sets [][]string) []string {
	if len(sets) == 0 {
		return nil
	}
	counts := make(map[string]int)
	for _, set := range sets {
		seen := make(map[string]struct{}, len(set))
		for _, p := range set {
			if _, dup := seen[p]; dup {
				continue
			}
			seen[p] = struct{}{}
			counts[p]++
		}
	}
	var out []string
	for p, n := range counts {
		if n == len(sets) {
			out = append(out, p)
		}
	}
	return out
}
