package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/veland/gitatlas/internal/apperr"
	"github.com/veland/gitatlas/internal/models"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	st, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return st
}

func testRepo(path string) models.Repository {
	return models.Repository{
		Name:        filepath.Base(path),
		Path:        path,
		SizeMB:      1.5,
		FileTypes:   map[string]int{"go": 3},
		CommitCount: 5,
		IsValid:     true,
	}
}

// checkout creates a directory with a .git marker under parent.
func checkout(t *testing.T, parent, name string) string {
	t.Helper()
	dir := filepath.Join(parent, name)
	if err := os.MkdirAll(filepath.Join(dir, VCSMarker), 0o755); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestUpsertGetRemove(t *testing.T) {
	st := testStore(t)

	if err := st.UpsertRepository(testRepo("/src/alpha")); err != nil {
		t.Fatalf("UpsertRepository: %v", err)
	}

	repo, err := st.GetRepository("/src/alpha")
	if err != nil {
		t.Fatalf("GetRepository: %v", err)
	}
	if repo.Name != "alpha" {
		t.Errorf("name = %q", repo.Name)
	}

	// Upsert replaces the whole record.
	updated := testRepo("/src/alpha")
	updated.CommitCount = 99
	if err := st.UpsertRepository(updated); err != nil {
		t.Fatal(err)
	}
	repo, _ = st.GetRepository("/src/alpha")
	if repo.CommitCount != 99 {
		t.Errorf("commit count = %d after upsert, want 99", repo.CommitCount)
	}

	if err := st.RemoveRepository("/src/alpha"); err != nil {
		t.Fatalf("RemoveRepository: %v", err)
	}
	if _, err := st.GetRepository("/src/alpha"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("get after remove: err = %v, want ErrNotFound", err)
	}
	if err := st.RemoveRepository("/src/alpha"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("double remove: err = %v, want ErrNotFound", err)
	}
}

func TestListSortedByPath(t *testing.T) {
	st := testStore(t)
	for _, p := range []string{"/src/c", "/src/a", "/src/b"} {
		if err := st.UpsertRepository(testRepo(p)); err != nil {
			t.Fatal(err)
		}
	}
	repos, err := st.ListRepositories()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"/src/a", "/src/b", "/src/c"}
	for i, p := range want {
		if repos[i].Path != p {
			t.Fatalf("order = %v", repos)
		}
	}
}

func TestTogglePin(t *testing.T) {
	st := testStore(t)
	if err := st.UpsertRepository(testRepo("/src/alpha")); err != nil {
		t.Fatal(err)
	}

	repo, err := st.TogglePin("/src/alpha")
	if err != nil {
		t.Fatalf("TogglePin: %v", err)
	}
	if !repo.IsPinned || repo.PinnedAt == nil {
		t.Errorf("pin on: IsPinned=%v PinnedAt=%v", repo.IsPinned, repo.PinnedAt)
	}

	pinned, err := st.PinnedRepositories()
	if err != nil {
		t.Fatal(err)
	}
	if len(pinned) != 1 || pinned[0].Path != "/src/alpha" {
		t.Errorf("pinned = %v", pinned)
	}

	repo, err = st.TogglePin("/src/alpha")
	if err != nil {
		t.Fatal(err)
	}
	if repo.IsPinned || repo.PinnedAt != nil {
		t.Errorf("pin off: IsPinned=%v PinnedAt=%v", repo.IsPinned, repo.PinnedAt)
	}

	if _, err := st.TogglePin("/nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("toggle unknown: err = %v", err)
	}
}

func TestScanRoots(t *testing.T) {
	st := testStore(t)

	// Segment-boundary counting: /home/user must not cover /home/userx.
	for _, p := range []string{"/home/user/a", "/home/user/b", "/home/userx/c"} {
		if err := st.UpsertRepository(testRepo(p)); err != nil {
			t.Fatal(err)
		}
	}
	if err := st.AddScanRoot("/home/user"); err != nil {
		t.Fatalf("AddScanRoot: %v", err)
	}

	roots, err := st.ListScanRoots()
	if err != nil {
		t.Fatal(err)
	}
	if len(roots) != 1 {
		t.Fatalf("roots = %v", roots)
	}
	if roots[0].RepositoryCount != 2 {
		t.Errorf("repository count = %d, want 2", roots[0].RepositoryCount)
	}
	if roots[0].LastScanned != nil {
		t.Error("unscanned root must have nil LastScanned")
	}

	if err := st.TouchScanRoot("/home/user"); err != nil {
		t.Fatalf("TouchScanRoot: %v", err)
	}
	roots, _ = st.ListScanRoots()
	if roots[0].LastScanned == nil {
		t.Error("LastScanned not set by touch")
	}

	if err := st.TouchScanRoot("/nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("touch unknown root: err = %v", err)
	}
	if err := st.RemoveScanRoot("/home/user"); err != nil {
		t.Fatal(err)
	}
	if err := st.RemoveScanRoot("/home/user"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("double remove root: err = %v", err)
	}
}

func TestCollections(t *testing.T) {
	st := testStore(t)
	if err := st.UpsertRepository(testRepo("/src/alpha")); err != nil {
		t.Fatal(err)
	}

	col, err := st.CreateCollection("work")
	if err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	if col.ID == "" || col.Color != DefaultCollectionColor {
		t.Errorf("collection = %+v", col)
	}

	if _, err := st.CreateCollection("work"); !errors.Is(err, apperr.ErrDuplicateName) {
		t.Errorf("duplicate name: err = %v", err)
	}

	if err := st.AddToCollection(col.ID, "/src/alpha"); err != nil {
		t.Fatalf("AddToCollection: %v", err)
	}
	// Duplicate add is a no-op.
	if err := st.AddToCollection(col.ID, "/src/alpha"); err != nil {
		t.Fatalf("duplicate add: %v", err)
	}
	// Unknown repository fails.
	if err := st.AddToCollection(col.ID, "/nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("add unknown repo: err = %v", err)
	}

	members, err := st.CollectionRepositories(col.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 1 || members[0].Path != "/src/alpha" {
		t.Errorf("members = %v", members)
	}

	// Removing a non-member is a no-op.
	if err := st.RemoveFromCollection(col.ID, "/never-added"); err != nil {
		t.Fatalf("remove non-member: %v", err)
	}
	if err := st.RemoveFromCollection(col.ID, "/src/alpha"); err != nil {
		t.Fatal(err)
	}
	members, _ = st.CollectionRepositories(col.ID)
	if len(members) != 0 {
		t.Errorf("members after remove = %v", members)
	}
}

// Deleting a repository leaves its collection membership dangling; the
// dangling path is filtered out when the collection is read.
func TestCollectionLazyFiltering(t *testing.T) {
	st := testStore(t)
	if err := st.UpsertRepository(testRepo("/src/alpha")); err != nil {
		t.Fatal(err)
	}
	col, err := st.CreateCollection("work")
	if err != nil {
		t.Fatal(err)
	}
	if err := st.AddToCollection(col.ID, "/src/alpha"); err != nil {
		t.Fatal(err)
	}

	if err := st.RemoveRepository("/src/alpha"); err != nil {
		t.Fatal(err)
	}

	members, err := st.CollectionRepositories(col.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 0 {
		t.Errorf("dangling member visible: %v", members)
	}

	// Re-adding the repository makes the stale reference live again.
	if err := st.UpsertRepository(testRepo("/src/alpha")); err != nil {
		t.Fatal(err)
	}
	members, _ = st.CollectionRepositories(col.ID)
	if len(members) != 1 {
		t.Errorf("readded member not visible: %v", members)
	}
}

func TestDeleteCollectionKeepsRepositories(t *testing.T) {
	st := testStore(t)
	if err := st.UpsertRepository(testRepo("/src/alpha")); err != nil {
		t.Fatal(err)
	}
	col, err := st.CreateCollection("work")
	if err != nil {
		t.Fatal(err)
	}
	if err := st.AddToCollection(col.ID, "/src/alpha"); err != nil {
		t.Fatal(err)
	}
	if err := st.DeleteCollection(col.ID); err != nil {
		t.Fatalf("DeleteCollection: %v", err)
	}
	if _, err := st.GetRepository("/src/alpha"); err != nil {
		t.Errorf("repository gone after collection delete: %v", err)
	}
	if err := st.DeleteCollection(col.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("double delete: err = %v", err)
	}
}

func TestValidateAndCleanup(t *testing.T) {
	st := testStore(t)
	work := t.TempDir()
	live := checkout(t, work, "live")

	if err := st.UpsertRepository(testRepo(live)); err != nil {
		t.Fatal(err)
	}
	if err := st.UpsertRepository(testRepo(filepath.Join(work, "gone"))); err != nil {
		t.Fatal(err)
	}

	valid, invalid, err := st.ValidateRepositories()
	if err != nil {
		t.Fatalf("ValidateRepositories: %v", err)
	}
	if len(valid) != 1 || valid[0].Path != live {
		t.Errorf("valid = %v", valid)
	}
	if len(invalid) != 1 {
		t.Errorf("invalid = %v", invalid)
	}

	// Validation is a pure read: both records are still stored.
	repos, _ := st.ListRepositories()
	if len(repos) != 2 {
		t.Fatalf("validate mutated the store: %v", repos)
	}

	removed, err := st.CleanupInvalidRepositories()
	if err != nil {
		t.Fatalf("CleanupInvalidRepositories: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	repos, _ = st.ListRepositories()
	if len(repos) != 1 || repos[0].Path != live {
		t.Errorf("repos after cleanup = %v", repos)
	}
}

func TestClearCacheAndInfo(t *testing.T) {
	st := testStore(t)
	work := t.TempDir()
	live := checkout(t, work, "live")

	if err := st.UpsertRepository(testRepo(live)); err != nil {
		t.Fatal(err)
	}
	if err := st.UpsertRepository(testRepo("/definitely/gone")); err != nil {
		t.Fatal(err)
	}

	info, err := st.CacheInfo()
	if err != nil {
		t.Fatalf("CacheInfo: %v", err)
	}
	if info.TotalRepositories != 2 || info.ValidRepositories != 1 || info.InvalidRepositories != 1 {
		t.Errorf("info = %+v", info)
	}
	if info.CacheFileSize == 0 {
		t.Error("cache file size not reported")
	}

	if err := st.ClearCache(); err != nil {
		t.Fatalf("ClearCache: %v", err)
	}
	info, _ = st.CacheInfo()
	if info.TotalRepositories != 0 {
		t.Errorf("info after clear = %+v", info)
	}
}

// The store must come up empty, not error, when no cache file exists yet.
func TestMissingFileIsEmptyStore(t *testing.T) {
	st := testStore(t)
	repos, err := st.ListRepositories()
	if err != nil {
		t.Fatalf("ListRepositories: %v", err)
	}
	if len(repos) != 0 {
		t.Errorf("repos = %v", repos)
	}
}

// Reopening a store over the same directory sees everything the previous
// handle wrote.
func TestPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	st, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := st.UpsertRepository(testRepo("/src/alpha")); err != nil {
		t.Fatal(err)
	}
	if _, err := st.CreateCollection("work"); err != nil {
		t.Fatal(err)
	}

	st2, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	repos, err := st2.ListRepositories()
	if err != nil {
		t.Fatal(err)
	}
	if len(repos) != 1 {
		t.Errorf("repos = %v", repos)
	}
	cols, err := st2.ListCollections()
	if err != nil {
		t.Fatal(err)
	}
	if len(cols) != 1 || cols[0].Name != "work" {
		t.Errorf("collections = %v", cols)
	}
}
