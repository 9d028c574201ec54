package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/veland/gitatlas/internal/index"
	"github.com/veland/gitatlas/internal/models"
	"github.com/veland/gitatlas/internal/repos"
	"github.com/veland/gitatlas/internal/scanner"
	"github.com/veland/gitatlas/internal/testutil"
)

// testEnv sets up a store-backed service and router. An empty authToken
// means disabled auth.
func testEnv(t *testing.T, authToken string) (*repos.Service, http.Handler) {
	t.Helper()
	st := testutil.TestStore(t)
	idx := index.NewManager(0)
	scan := scanner.New(scanner.DefaultOptions(), nil)
	svc := repos.NewService(st, idx, scan, nil)
	router := NewRouter(svc, authToken != "", authToken, nil, nil)
	return svc, router
}

// seed stores a record and rebuilds the indices so queries see it.
func seed(t *testing.T, svc *repos.Service, repo models.Repository) {
	t.Helper()
	if err := svc.Store().UpsertRepository(repo); err != nil {
		t.Fatal(err)
	}
	if err := svc.Rebuild(); err != nil {
		t.Fatal(err)
	}
}

func TestListRepositories(t *testing.T) {
	svc, router := testEnv(t, "")
	seed(t, svc, testutil.TestRepo("/src/alpha"))
	seed(t, svc, testutil.TestRepo("/src/beta"))

	req := httptest.NewRequest(http.MethodGet, "/repositories", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp RepositoryListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 2 || len(resp.Repositories) != 2 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestGetRepositoryByWildcardPath(t *testing.T) {
	svc, router := testEnv(t, "")
	seed(t, svc, testutil.TestRepo("/src/alpha"))

	req := httptest.NewRequest(http.MethodGet, "/repositories/src/alpha", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var repo Repository
	if err := json.Unmarshal(w.Body.Bytes(), &repo); err != nil {
		t.Fatal(err)
	}
	if repo.Path != "/src/alpha" {
		t.Errorf("path = %q", repo.Path)
	}

	// Unknown path is a 404.
	req = httptest.NewRequest(http.MethodGet, "/repositories/src/missing", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing status = %d", w.Code)
	}
}

func TestDeleteRepository(t *testing.T) {
	svc, router := testEnv(t, "")
	seed(t, svc, testutil.TestRepo("/src/alpha"))

	req := httptest.NewRequest(http.MethodDelete, "/repositories/src/alpha", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodDelete, "/repositories/src/alpha", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("double delete status = %d", w.Code)
	}
}

func TestSearchEndpoint(t *testing.T) {
	svc, router := testEnv(t, "")
	big := testutil.TestRepo("/src/big")
	big.SizeMB = 300
	seed(t, svc, testutil.TestRepo("/src/small"))
	seed(t, svc, big)

	req := httptest.NewRequest(http.MethodGet, "/search?min_size_mb=100", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp RepositoryListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 1 || resp.Repositories[0].Path != "/src/big" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestUnderEndpoint(t *testing.T) {
	svc, router := testEnv(t, "")
	seed(t, svc, testutil.TestRepo("/home/user/a"))
	seed(t, svc, testutil.TestRepo("/home/userx/b"))

	req := httptest.NewRequest(http.MethodGet, "/under?prefix="+url.QueryEscape("/home/user"), nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp RepositoryListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 1 || resp.Repositories[0].Path != "/home/user/a" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestPinEndpoints(t *testing.T) {
	svc, router := testEnv(t, "")
	seed(t, svc, testutil.TestRepo("/src/alpha"))

	body, _ := json.Marshal(PathRequest{Path: "/src/alpha"})
	req := httptest.NewRequest(http.MethodPost, "/pin", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("pin status = %d, body = %s", w.Code, w.Body.String())
	}
	var repo Repository
	_ = json.Unmarshal(w.Body.Bytes(), &repo)
	if !repo.IsPinned {
		t.Error("repo not pinned")
	}

	req = httptest.NewRequest(http.MethodGet, "/pinned", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	var resp RepositoryListResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Total != 1 {
		t.Errorf("pinned = %+v", resp)
	}

	// Pinning an unknown repository is a 404.
	body, _ = json.Marshal(PathRequest{Path: "/nope"})
	req = httptest.NewRequest(http.MethodPost, "/pin", bytes.NewReader(body))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("pin unknown status = %d", w.Code)
	}
}

func TestScanRootEndpoints(t *testing.T) {
	_, router := testEnv(t, "")

	body, _ := json.Marshal(PathRequest{Path: "/home/dev"})
	req := httptest.NewRequest(http.MethodPost, "/scan-roots", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("add status = %d, body = %s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/scan-roots", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	var resp struct {
		ScanRoots []models.ScanRoot `json:"scan_roots"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.ScanRoots) != 1 || resp.ScanRoots[0].Path != "/home/dev" {
		t.Errorf("roots = %+v", resp.ScanRoots)
	}

	req = httptest.NewRequest(http.MethodDelete, "/scan-roots/home/dev", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Errorf("delete status = %d", w.Code)
	}
}

func TestCollectionEndpoints(t *testing.T) {
	svc, router := testEnv(t, "")
	seed(t, svc, testutil.TestRepo("/src/alpha"))

	// Create.
	body, _ := json.Marshal(CreateCollectionRequest{Name: "work"})
	req := httptest.NewRequest(http.MethodPost, "/collections", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}
	var col models.Collection
	_ = json.Unmarshal(w.Body.Bytes(), &col)
	if col.ID == "" {
		t.Fatal("no collection id")
	}

	// Duplicate name conflicts.
	req = httptest.NewRequest(http.MethodPost, "/collections", bytes.NewReader(body))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate status = %d", w.Code)
	}

	// Add a member.
	memberBody, _ := json.Marshal(PathRequest{Path: "/src/alpha"})
	req = httptest.NewRequest(http.MethodPost, "/collections/"+col.ID+"/repositories", bytes.NewReader(memberBody))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("add member status = %d, body = %s", w.Code, w.Body.String())
	}

	// Read membership.
	req = httptest.NewRequest(http.MethodGet, "/collections/"+col.ID+"/repositories", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	var resp RepositoryListResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Total != 1 {
		t.Errorf("members = %+v", resp)
	}

	// Remove member via query param.
	req = httptest.NewRequest(http.MethodDelete, "/collections/"+col.ID+"/repositories?path="+url.QueryEscape("/src/alpha"), nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Errorf("remove member status = %d", w.Code)
	}

	// Delete the collection.
	req = httptest.NewRequest(http.MethodDelete, "/collections/"+col.ID, nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Errorf("delete status = %d", w.Code)
	}
}

func TestCacheEndpoints(t *testing.T) {
	svc, router := testEnv(t, "")
	seed(t, svc, testutil.TestRepo("/src/alpha"))

	req := httptest.NewRequest(http.MethodGet, "/cache", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("info status = %d", w.Code)
	}
	var info models.CacheInfo
	_ = json.Unmarshal(w.Body.Bytes(), &info)
	if info.TotalRepositories != 1 {
		t.Errorf("info = %+v", info)
	}

	req = httptest.NewRequest(http.MethodPost, "/cache/cleanup", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("cleanup status = %d", w.Code)
	}
	var cleaned CleanupResponse
	_ = json.Unmarshal(w.Body.Bytes(), &cleaned)
	if cleaned.Removed != 1 {
		t.Errorf("cleanup = %+v", cleaned)
	}

	req = httptest.NewRequest(http.MethodDelete, "/cache", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Errorf("clear status = %d", w.Code)
	}
}

func TestValidateEndpoint(t *testing.T) {
	svc, router := testEnv(t, "")
	seed(t, svc, testutil.TestRepo("/definitely/gone"))

	req := httptest.NewRequest(http.MethodGet, "/validate", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp ValidateResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Invalid) != 1 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestBadRequestBodies(t *testing.T) {
	_, router := testEnv(t, "")

	for _, target := range []string{"/pin", "/refresh", "/scan-roots"} {
		req := httptest.NewRequest(http.MethodPost, target, bytes.NewReader([]byte("{not json")))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s with garbage body: status = %d", target, w.Code)
		}

		req = httptest.NewRequest(http.MethodPost, target, bytes.NewReader([]byte(`{"path":""}`)))
		w = httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s with empty path: status = %d", target, w.Code)
		}
	}
}

func TestAuthMiddleware(t *testing.T) {
	svc, router := testEnv(t, "sekrit")
	seed(t, svc, testutil.TestRepo("/src/alpha"))

	req := httptest.NewRequest(http.MethodGet, "/repositories", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/repositories", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/repositories", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("valid token: status = %d", w.Code)
	}
}
