package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/divyekant/invision-mirror/internal/auth"
	"github.com/divyekant/invision-mirror/internal/config"
	"github.com/divyekant/invision-mirror/internal/invision"
)

// fakeInvision stands in for every InVision endpoint the orchestrator
// touches during a run, serving a single prototype project with two
// live screens. Asset URLs are built against the same server with an
// "invisionapp.com" path segment so the localiser's host-marker check
// matches without needing a real upstream host. Per-screen imageVersion
// is mutable so tests can simulate an upstream change between runs.
type fakeInvision struct {
	srv           *httptest.Server
	assetRequests int64

	mu                  sync.Mutex
	imageVersions       map[string]float64
	assetRequestsByPath map[string]int64
}

func (f *fakeInvision) setImageVersion(screenID string, v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.imageVersions[screenID] = v
}

func (f *fakeInvision) imageVersion(screenID string) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.imageVersions[screenID]
}

func (f *fakeInvision) assetRequestCount(path string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.assetRequestsByPath[path]
}

func newFakeInvision(t *testing.T) *fakeInvision {
	t.Helper()
	f := &fakeInvision{
		imageVersions:       map[string]float64{"s1": 1, "s2": 1},
		assetRequestsByPath: map[string]int64{},
	}
	mux := http.NewServeMux()

	mux.HandleFunc("/login-api/api/v2/login", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/account/login", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "XSRF-TOKEN", Value: "tok-123", Path: "/"})
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api:unifiedprojects.getProjects", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("isArchived") == "true" {
			json.NewEncoder(w).Encode(map[string]any{"results": []any{}})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"results": []any{
				map[string]any{
					"id":   "p1",
					"type": "prototype",
					"data": map[string]any{
						"name":         "Test Project",
						"updatedAt":    "2020-01-01T00:00:00Z",
						"itemCount":    2,
						"isArchived":   false,
						"thumbnailUrl": f.assetURL("avatars", "proj-thumb.png"),
					},
				},
			},
		})
	})
	mux.HandleFunc("/api:unifiedprojects.getTags", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"tags": []any{}})
	})
	mux.HandleFunc("/api:project_shares_tab_partials.getView", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"shares": []any{}})
	})
	mux.HandleFunc("/api:inspect.getProjectAssets", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("null"))
	})
	mux.HandleFunc("/api:desktop_partials.projectScreens2Grouped", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"screens": []any{
				f.screenMeta("s1"),
				f.screenMeta("s2"),
			},
			"archivedScreensCount": 0,
		})
	})
	mux.HandleFunc("/api:desktop_partials.consoleScreen", func(w http.ResponseWriter, r *http.Request) {
		sid := r.URL.Query().Get("screenID")
		json.NewEncoder(w).Encode(map[string]any{
			"id":        sid,
			"image":     f.assetURL("screens/files", sid+".png"),
			"thumbnail": f.assetURL("screens/thumbnails", sid+".png"),
		})
	})
	mux.HandleFunc("/api:inspect.getExtractionJSON", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"layers": []any{}})
	})
	mux.HandleFunc("/api:desktop_partials/screenHistory", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"versions": []any{map[string]any{"id": "v-current"}}})
	})
	mux.HandleFunc("/invisionapp.com/", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&f.assetRequests, 1)
		f.mu.Lock()
		f.assetRequestsByPath[r.URL.Path]++
		f.mu.Unlock()
		w.Write([]byte("binary-asset-bytes"))
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeInvision) assetURL(dir, file string) string {
	return fmt.Sprintf("%s/invisionapp.com/%s/%s", f.srv.URL, dir, file)
}

func (f *fakeInvision) screenMeta(id string) map[string]any {
	return map[string]any{
		"id":                      id,
		"name":                    id,
		"isArchived":              false,
		"updatedAt":               "2020-01-01T00:00:00Z",
		"imageVersion":            f.imageVersion(id),
		"conversationCount":       0,
		"unreadConversationCount": 0,
	}
}

func TestRun_FreshProjectTwoScreens_ThenIdempotentUpdate(t *testing.T) {
	f := newFakeInvision(t)

	restoreAuth := patchAuthURLs(f.srv.URL)
	defer restoreAuth()
	restoreInvision := patchInvisionURLs(f.srv.URL)
	defer restoreInvision()

	docsRoot := t.TempDir()
	cfg := config.Config{
		Email:            "user@example.com",
		Password:         "hunter2",
		DocsRoot:         filepath.Join(docsRoot, "docs"),
		MaxScreenWorkers: 2,
	}

	result, err := Run(context.Background(), cfg, "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Successful) != 1 || len(result.Ignored) != 0 || len(result.Failed) != 0 {
		t.Fatalf("expected 1 successful project, got %+v", result)
	}

	for _, want := range []string{
		filepath.Join(cfg.DocsRoot, "projects", "p1", "project.json"),
		filepath.Join(cfg.DocsRoot, "projects", "p1", "screens.json"),
		filepath.Join(cfg.DocsRoot, "projects", "p1", "screens", "s1", "screen.json"),
		filepath.Join(cfg.DocsRoot, "projects", "p1", "screens", "s1", "inspect.json"),
		filepath.Join(cfg.DocsRoot, "projects", "p1", "screens", "s1", "history.json"),
		filepath.Join(cfg.DocsRoot, "projects", "p1", "screens", "s1", "image.png"),
		filepath.Join(cfg.DocsRoot, "projects", "p1", "screens", "s1", "thumbnail.png"),
		filepath.Join(cfg.DocsRoot, "common", "avatars", "proj-thumb.png"),
	} {
		if _, err := os.Stat(want); err != nil {
			t.Errorf("expected file to exist: %s: %v", want, err)
		}
	}

	firstRunAssetRequests := atomic.LoadInt64(&f.assetRequests)
	if firstRunAssetRequests == 0 {
		t.Fatal("expected at least one asset download on the fresh run")
	}

	result2, err := Run(context.Background(), cfg, "update")
	if err != nil {
		t.Fatalf("Run (update): %v", err)
	}
	if len(result2.Ignored) != 1 || len(result2.Successful) != 0 || len(result2.Failed) != 0 {
		t.Fatalf("expected the unchanged project to be ignored on rerun, got %+v", result2)
	}

	if got := atomic.LoadInt64(&f.assetRequests); got != firstRunAssetRequests {
		t.Errorf("expected zero new asset downloads on idempotent rerun, got %d new", got-firstRunAssetRequests)
	}
}

// TestRun_UpdateWithOneScreenChanged_RefetchesOnlyThatScreen covers
// spec.md §8 scenario 3: a rerun where the project's own metadata is
// unchanged but one screen's imageVersion was bumped upstream must
// refetch only that screen, leave the other screen's directory
// untouched, and report the project `successful` (not `ignored`, since
// real work happened).
func TestRun_UpdateWithOneScreenChanged_RefetchesOnlyThatScreen(t *testing.T) {
	f := newFakeInvision(t)

	restoreAuth := patchAuthURLs(f.srv.URL)
	defer restoreAuth()
	restoreInvision := patchInvisionURLs(f.srv.URL)
	defer restoreInvision()

	docsRoot := t.TempDir()
	cfg := config.Config{
		Email:            "user@example.com",
		Password:         "hunter2",
		DocsRoot:         filepath.Join(docsRoot, "docs"),
		MaxScreenWorkers: 2,
	}

	if _, err := Run(context.Background(), cfg, ""); err != nil {
		t.Fatalf("initial Run: %v", err)
	}

	s1Image := filepath.Join(cfg.DocsRoot, "projects", "p1", "screens", "s1", "image.png")
	s2Image := filepath.Join(cfg.DocsRoot, "projects", "p1", "screens", "s2", "image.png")
	s1RequestsBefore := f.assetRequestCount("/invisionapp.com/screens/files/s1.png")
	s2RequestsBefore := f.assetRequestCount("/invisionapp.com/screens/files/s2.png")
	if s1RequestsBefore == 0 || s2RequestsBefore == 0 {
		t.Fatalf("expected both screens downloaded on the initial run, got s1=%d s2=%d", s1RequestsBefore, s2RequestsBefore)
	}

	f.setImageVersion("s1", 2)

	result, err := Run(context.Background(), cfg, "update")
	if err != nil {
		t.Fatalf("Run (update): %v", err)
	}
	if len(result.Successful) != 1 || len(result.Ignored) != 0 || len(result.Failed) != 0 {
		t.Fatalf("expected the changed project to be successful (not ignored), got %+v", result)
	}

	if got := f.assetRequestCount("/invisionapp.com/screens/files/s1.png"); got != s1RequestsBefore+1 {
		t.Errorf("expected s1's image to be refetched exactly once, got %d new requests", got-s1RequestsBefore)
	}
	if got := f.assetRequestCount("/invisionapp.com/screens/files/s2.png"); got != s2RequestsBefore {
		t.Errorf("expected s2 to be left untouched, got %d new requests", got-s2RequestsBefore)
	}

	for _, want := range []string{s1Image, s2Image} {
		if _, err := os.Stat(want); err != nil {
			t.Errorf("expected file to still exist: %s: %v", want, err)
		}
	}
}

func patchAuthURLs(base string) func() {
	return auth.SetURLsForTest(base+"/login-api/api/v2/login", base+"/api/account/login")
}

func patchInvisionURLs(base string) func() {
	return invision.SetURLsForTest(base)
}
