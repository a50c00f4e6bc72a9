// Package invision is the typed adapter over InVision's console-facing
// JSON API: one function per endpoint, each returning the decoded response
// body as a dynamic tree so the asset localiser can walk it, or nil when
// the request failed after retries.
package invision

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/divyekant/invision-mirror/internal/httpclient"
)

// These are vars, not consts, so tests can point the adapter at an
// httptest.Server instead of the live InVision hosts.
var (
	getProjectsURL      = "https://projects.invisionapp.com/api:unifiedprojects.getProjects"
	getTagsURL          = "https://projects.invisionapp.com/api:unifiedprojects.getTags"
	projectSharesURL    = "https://projects.invisionapp.com/api:project_shares_tab_partials.getView"
	screensArchivedURL  = "https://projects.invisionapp.com/api:desktop_partials.projectScreens2Archived"
	screensGroupedURL   = "https://projects.invisionapp.com/api:desktop_partials.projectScreens2Grouped"
	screenQuickViewURL  = "https://projects.invisionapp.com/api:desktop_partials/screenQuickView"
	consoleScreenURL    = "https://projects.invisionapp.com/api:desktop_partials.consoleScreen"
	projectAssetsURL    = "https://projects.invisionapp.com/api:inspect.getProjectAssets"
	screenExtractionURL = "https://projects.invisionapp.com/api:inspect.getExtractionJSON"
	screenHistoryURL    = "https://projects.invisionapp.com/api:desktop_partials/screenHistory"
)

// SetURLsForTest points every endpoint at base (an httptest.Server URL),
// preserving each endpoint's real path suffix, and returns a func that
// restores the live InVision URLs.
func SetURLsForTest(base string) func() {
	prev := [...]*string{
		&getProjectsURL, &getTagsURL, &projectSharesURL, &screensArchivedURL,
		&screensGroupedURL, &screenQuickViewURL, &consoleScreenURL,
		&projectAssetsURL, &screenExtractionURL, &screenHistoryURL,
	}
	saved := make([]string, len(prev))
	for i, p := range prev {
		saved[i] = *p
		*p = base + pathSuffix(*p)
	}
	return func() {
		for i, p := range prev {
			*p = saved[i]
		}
	}
}

// pathSuffix strips the scheme+host from a live InVision URL, leaving
// the path SetURLsForTest rewires onto the test server.
func pathSuffix(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Path
}

// Adapter issues every InVision API call the mirror needs through a shared
// authenticated httpclient.Client.
type Adapter struct {
	http *httpclient.Client
}

func New(c *httpclient.Client) *Adapter {
	return &Adapter{http: c}
}

// get issues a GET with the given query parameters and decodes the JSON
// body into an `any`-typed tree (map[string]any or []any at the top
// level, matching whatever shape InVision returns for that endpoint).
func (a *Adapter) get(ctx context.Context, rawURL string, params url.Values) (any, error) {
	full := rawURL
	if len(params) > 0 {
		full = rawURL + "?" + params.Encode()
	}
	resp, err := a.http.Do(ctx, http.MethodGet, full, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("invision: decode response from %s: %w", rawURL, err)
	}
	return out, nil
}

// FetchProjects returns the `results` array of the project listing,
// filtered upstream by archived/collaborator status.
func (a *Adapter) FetchProjects(ctx context.Context, isArchived, isCollaborator bool) ([]any, error) {
	params := url.Values{
		"isArchived":     {boolString(isArchived)},
		"isCollaborator": {boolString(isCollaborator)},
	}
	body, err := a.get(ctx, getProjectsURL, params)
	if err != nil {
		return nil, err
	}
	return arrayField(body, "results")
}

// FetchTags returns the global `tags` array.
func (a *Adapter) FetchTags(ctx context.Context) ([]any, error) {
	body, err := a.get(ctx, getTagsURL, nil)
	if err != nil {
		return nil, err
	}
	return arrayField(body, "tags")
}

// FetchProjectShares returns the raw shares response for a project.
func (a *Adapter) FetchProjectShares(ctx context.Context, projectID string) (any, error) {
	return a.get(ctx, projectSharesURL, url.Values{"prototypeID": {projectID}})
}

// FetchProjectScreens returns the grouped live-screen listing for a project.
func (a *Adapter) FetchProjectScreens(ctx context.Context, projectID string) (any, error) {
	return a.get(ctx, screensGroupedURL, url.Values{"id": {projectID}})
}

// FetchArchivedScreens returns the archived-screen listing for a project.
func (a *Adapter) FetchArchivedScreens(ctx context.Context, projectID string) (any, error) {
	return a.get(ctx, screensArchivedURL, url.Values{"id": {projectID}})
}

// FetchScreenDetails returns a screen's detail payload, dispatching to the
// archived or live endpoint depending on isArchived.
func (a *Adapter) FetchScreenDetails(ctx context.Context, screenID string, isArchived bool) (any, error) {
	u := consoleScreenURL
	if isArchived {
		u = screenQuickViewURL
	}
	return a.get(ctx, u, url.Values{
		"screenID": {screenID},
		"trigger":  {"initial-load"},
	})
}

// FetchScreenInspect returns a screen's inspect/extraction JSON.
func (a *Adapter) FetchScreenInspect(ctx context.Context, screenID string) (any, error) {
	return a.get(ctx, screenExtractionURL, url.Values{"id": {screenID}})
}

// FetchScreenHistory returns a screen's version history.
func (a *Adapter) FetchScreenHistory(ctx context.Context, screenID string) (any, error) {
	return a.get(ctx, screenHistoryURL, url.Values{"screenID": {screenID}})
}

// FetchProjectAssets returns a project's asset listing (supplemented
// feature; see SPEC_FULL.md §3.1).
func (a *Adapter) FetchProjectAssets(ctx context.Context, projectID string) (any, error) {
	return a.get(ctx, projectAssetsURL, url.Values{"projectID": {projectID}})
}

func arrayField(body any, field string) ([]any, error) {
	m, ok := body.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("invision: expected object response, got %T", body)
	}
	v, ok := m[field]
	if !ok || v == nil {
		return nil, nil
	}
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("invision: expected array field %q, got %T", field, v)
	}
	return arr, nil
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
