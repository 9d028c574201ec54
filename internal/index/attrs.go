package index

import "strings"

// Bucket widths for the range indices. Sizes group into 50 MB buckets,
// commit counts into buckets of 100.
const (
	sizeBucketMB      = 50
	commitCountBucket = 100
)

// AttrIndex holds four independent inverted indices over repository
// attributes, all derived from the canonical cache. Insert and Remove
// update the four in lockstep; Remove exactly undoes a prior Insert for
// the same record because both compute the same buckets.
type AttrIndex struct {
	byName        map[string]string   // lower-cased name -> path
	bySizeBucket  map[int][]string    // floored size bucket -> paths
	byCommitRange map[int][]string    // floored commit bucket -> paths
	byFileType    map[string][]string // extension -> paths
}

// NewAttrIndex returns an empty attribute index.
func NewAttrIndex() *AttrIndex {
	idx := &AttrIndex{}
	idx.Clear()
	return idx
}

// Clear resets all four indices.
func (idx *AttrIndex) Clear() {
	idx.byName = make(map[string]string)
	idx.bySizeBucket = make(map[int][]string)
	idx.byCommitRange = make(map[int][]string)
	idx.byFileType = make(map[string][]string)
}

func sizeBucket(sizeMB float64) int {
	return int(sizeMB/sizeBucketMB) * sizeBucketMB
}

func commitBucket(count int) int {
	return count / commitCountBucket * commitCountBucket
}

// Insert adds an entry to all four indices.
func (idx *AttrIndex) Insert(name, path string, sizeMB float64, commitCount int, fileTypes map[string]int) {
	idx.byName[strings.ToLower(name)] = path

	sb := sizeBucket(sizeMB)
	idx.bySizeBucket[sb] = append(idx.bySizeBucket[sb], path)

	cb := commitBucket(commitCount)
	idx.byCommitRange[cb] = append(idx.byCommitRange[cb], path)

	for ext := range fileTypes {
		idx.byFileType[ext] = append(idx.byFileType[ext], path)
	}
}

// Remove undoes Insert for the same record.
func (idx *AttrIndex) Remove(name, path string, sizeMB float64, commitCount int, fileTypes map[string]int) {
	lower := strings.ToLower(name)
	if idx.byName[lower] == path {
		delete(idx.byName, lower)
	}

	sb := sizeBucket(sizeMB)
	idx.bySizeBucket[sb] = without(idx.bySizeBucket[sb], path)
	if len(idx.bySizeBucket[sb]) == 0 {
		delete(idx.bySizeBucket, sb)
	}

	cb := commitBucket(commitCount)
	idx.byCommitRange[cb] = without(idx.byCommitRange[cb], path)
	if len(idx.byCommitRange[cb]) == 0 {
		delete(idx.byCommitRange, cb)
	}

	for ext := range fileTypes {
		idx.byFileType[ext] = without(idx.byFileType[ext], path)
		if len(idx.byFileType[ext]) == 0 {
			delete(idx.byFileType, ext)
		}
	}
}

// NamePrefix returns paths of repositories whose lower-cased name starts
// with prefix. Linear over the name index.
func (idx *AttrIndex) NamePrefix(prefix string) []string {
	lower := strings.ToLower(prefix)
	var out []string
	for name, path := range idx.byName {
		if strings.HasPrefix(name, lower) {
			out = append(out, path)
		}
	}
	return out
}

// FileType returns paths of repositories containing at least one file
// with the given extension.
func (idx *AttrIndex) FileType(ext string) []string {
	return append([]string(nil), idx.byFileType[ext]...)
}

// SizeRange returns paths whose size bucket floor lies between the
// floored min and max, inclusive.
func (idx *AttrIndex) SizeRange(minMB, maxMB float64) []string {
	var out []string
	for b := sizeBucket(minMB); b <= sizeBucket(maxMB); b += sizeBucketMB {
		out = append(out, idx.bySizeBucket[b]...)
	}
	return out
}

// CommitRange returns paths whose commit-count bucket floor lies between
// the floored min and max, inclusive.
func (idx *AttrIndex) CommitRange(min, max int) []string {
	var out []string
	for b := commitBucket(min); b <= commitBucket(max); b += commitCountBucket {
		out = append(out, idx.byCommitRange[b]...)
	}
	return out
}

func without(paths []string, path string) []string {
	kept := paths[:0]
	for _, p := range paths {
		if p != path {
			kept = append(kept, p)
		}
	}
	return kept
}
