// Package localize rewrites InVision JSON payloads so that embedded asset
// URLs point at local files, downloading each referenced asset as it goes.
// Downloads are idempotent: an asset whose destination already exists on
// disk is never re-fetched.
package localize

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/divyekant/invision-mirror/internal/httpclient"
)

const assetHostMarker = "invisionapp.com"

// Localizer downloads and rewrites asset references for a single mirror run.
type Localizer struct {
	http     *httpclient.Client
	docsRoot string
}

func New(c *httpclient.Client, docsRoot string) *Localizer {
	return &Localizer{http: c, docsRoot: docsRoot}
}

// Localize walks data recursively and returns a new tree with every
// InVision asset URL rewritten to a docs-root-relative local path. screenID
// is empty for project-level and global payloads (shares, screens listing,
// project.json); it must be set for per-screen payloads so version files
// land in that screen's versions directory.
//
// Download failures are not fatal: the offending reference is left
// pointing at the original upstream URL, and the failure is returned
// alongside the rewritten tree so the caller can log it.
func (l *Localizer) Localize(ctx context.Context, data any, projectID, screenID string) (any, []error) {
	projectDir := filepath.Join(l.docsRoot, "projects", projectID)
	avatarsDir := filepath.Join(l.docsRoot, "common", "avatars")
	if err := os.MkdirAll(avatarsDir, 0o755); err != nil {
		return data, []error{fmt.Errorf("localize: create avatars dir: %w", err)}
	}
	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		return data, []error{fmt.Errorf("localize: create project dir: %w", err)}
	}
	if screenID != "" {
		versionsDir := filepath.Join(projectDir, "screens", screenID, "versions")
		if err := os.MkdirAll(versionsDir, 0o755); err != nil {
			return data, []error{fmt.Errorf("localize: create versions dir: %w", err)}
		}
	}

	var errs []error
	out := l.walk(ctx, data, projectID, screenID, &errs)
	return out, errs
}

func (l *Localizer) walk(ctx context.Context, data any, projectID, screenID string, errs *[]error) any {
	switch v := data.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			if s, ok := val.(string); ok && strings.Contains(s, assetHostMarker) && isLink(s) {
				if localPath, ok := l.downloadAsset(ctx, s, projectID, screenID, errs); ok {
					out[k] = localPath
					continue
				}
				out[k] = s
				continue
			}
			out[k] = l.walk(ctx, val, projectID, screenID, errs)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = l.walk(ctx, item, projectID, screenID, errs)
		}
		return out
	default:
		return v
	}
}

// isLink reports whether s parses as an absolute URL (scheme and host
// both present), matching the original's conservative link test.
func isLink(s string) bool {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return false
	}
	return u.Scheme != "" && u.Host != ""
}

// downloadAsset resolves the local destination for rawURL, downloads it if
// not already present, and returns the docs-root-relative path to use in
// place of rawURL. ok is false if the download failed; the caller should
// leave the original URL in place in that case.
func (l *Localizer) downloadAsset(ctx context.Context, rawURL, projectID, screenID string, errs *[]error) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("localize: parse asset url %q: %w", rawURL, err))
		return "", false
	}
	u.RawQuery = ""

	idx := strings.Index(u.String(), assetHostMarker+"/")
	if idx < 0 {
		*errs = append(*errs, fmt.Errorf("localize: asset url %q missing host marker", rawURL))
		return "", false
	}
	tail := u.String()[idx+len(assetHostMarker)+1:]
	dirName, fileName := path.Split(tail)
	dirName = strings.TrimSuffix(dirName, "/")

	destPath := l.classify(projectID, screenID, dirName, fileName)

	if _, err := os.Stat(destPath); err == nil {
		rel, relErr := filepath.Rel(l.docsRoot, destPath)
		if relErr != nil {
			*errs = append(*errs, fmt.Errorf("localize: relativize %q: %w", destPath, relErr))
			return "", false
		}
		return "/" + rel, true
	}

	if err := l.download(ctx, rawURL, destPath); err != nil {
		*errs = append(*errs, err)
		return "", false
	}

	rel, err := filepath.Rel(l.docsRoot, destPath)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("localize: relativize %q: %w", destPath, err))
		return "", false
	}
	return "/" + rel, true
}

// classify maps an upstream asset path to its local destination, following
// the ordered classification: shared avatar pool, screen version files,
// screen image/thumbnail (renamed and flattened into the screen directory),
// else a project-scoped assets directory mirroring the upstream layout.
func (l *Localizer) classify(projectID, screenID, dirName, fileName string) string {
	projectDir := filepath.Join(l.docsRoot, "projects", projectID)

	if strings.Contains(dirName, "avatars") {
		return filepath.Join(l.docsRoot, "common", "avatars", fileName)
	}
	if strings.Contains(dirName, "versions/files") {
		return filepath.Join(projectDir, "screens", screenID, "versions", fileName)
	}
	if strings.Contains(dirName, "screens/thumbnails") || strings.Contains(dirName, "screens/files") {
		stem := strings.TrimSuffix(fileName, filepath.Ext(fileName))
		ext := filepath.Ext(fileName)
		if stem != "" {
			name := "image" + ext
			if strings.Contains(dirName, "thumbnails") {
				name = "thumbnail" + ext
			}
			return filepath.Join(projectDir, "screens", stem, name)
		}
		return filepath.Join(projectDir, dirName, fileName)
	}
	return filepath.Join(projectDir, "assets", dirName, fileName)
}

// download fetches rawURL and writes it to destPath, creating parent
// directories as needed. Callers are expected to have already checked
// destPath does not exist (the idempotent-skip check lives in
// downloadAsset, where the computed local path is also needed on the
// already-downloaded path).
func (l *Localizer) download(ctx context.Context, rawURL, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("localize: create dir for %s: %w", destPath, err)
	}

	resp, err := l.http.Do(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("localize: download %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("localize: create %s: %w", destPath, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		return fmt.Errorf("localize: write %s: %w", destPath, err)
	}
	return nil
}
