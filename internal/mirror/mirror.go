// Package mirror is the top-level orchestrator: it wires the HTTP
// client, authentication, API adapter, asset localiser, storage layout,
// and reconciler into a single run that mirrors every prototype project
// into DOCS_ROOT and reports a three-way outcome summary.
package mirror

import (
	"context"
	"fmt"
	"log"
	"os"
	"runtime"
	"sync"

	"github.com/divyekant/invision-mirror/internal/auth"
	"github.com/divyekant/invision-mirror/internal/config"
	"github.com/divyekant/invision-mirror/internal/httpclient"
	"github.com/divyekant/invision-mirror/internal/invision"
	"github.com/divyekant/invision-mirror/internal/localize"
	"github.com/divyekant/invision-mirror/internal/reconcile"
	"github.com/divyekant/invision-mirror/internal/storage"
)

// Result is the three-way disjoint outcome partition a run reports.
type Result struct {
	Successful []string
	Ignored    []string
	Failed     []string
}

type outcome int

const (
	outcomeSuccessful outcome = iota
	outcomeIgnored
	outcomeFailed
)

// Run executes one full mirroring pass against cfg.DocsRoot. option must
// be "", "overwrite", or "update" (see config.Validate).
func Run(ctx context.Context, cfg config.Config, option string) (*Result, error) {
	if err := config.Validate(cfg, option); err != nil {
		return nil, fmt.Errorf("mirror: %w", err)
	}

	if option == "overwrite" {
		if err := os.RemoveAll(cfg.DocsRoot); err != nil {
			return nil, fmt.Errorf("mirror: clear docs root: %w", err)
		}
	}
	if err := os.MkdirAll(cfg.DocsRoot, 0o755); err != nil {
		return nil, fmt.Errorf("mirror: create docs root: %w", err)
	}

	client, err := httpclient.New(cfg.CustomCAFile)
	if err != nil {
		return nil, fmt.Errorf("mirror: build http client: %w", err)
	}

	if err := auth.Login(ctx, client, cfg.Email, cfg.Password); err != nil {
		return nil, fmt.Errorf("mirror: authenticate: %w", err)
	}

	api := invision.New(client)
	layout := storage.New(cfg.DocsRoot)
	localizer := localize.New(client, cfg.DocsRoot)

	live, err := api.FetchProjects(ctx, false, false)
	if err != nil {
		return nil, fmt.Errorf("mirror: fetch projects: %w", err)
	}
	archivedProjects, err := api.FetchProjects(ctx, true, false)
	if err != nil {
		return nil, fmt.Errorf("mirror: fetch archived projects: %w", err)
	}
	projects := append(append([]any{}, live...), archivedProjects...)

	if cfg.TestMode {
		projects = dedupeOnePerType(projects)
	}
	projects = filterPrototypes(projects)

	tags, err := api.FetchTags(ctx)
	if err != nil {
		log.Printf("mirror: fetch tags failed: %v", err)
	}
	if err := storage.SaveJSON(tags, layout.CommonDir(), "tags.json"); err != nil {
		log.Printf("mirror: persist tags.json failed: %v", err)
	}
	enrichProjectTags(projects, tags)

	result := &Result{}
	for _, p := range projects {
		pid, ok := fieldString(p, "id")
		if !ok || pid == "" {
			log.Printf("mirror: skipping project with no id")
			continue
		}

		switch processProject(ctx, cfg, option, api, localizer, layout, p) {
		case outcomeSuccessful:
			result.Successful = append(result.Successful, pid)
		case outcomeIgnored:
			result.Ignored = append(result.Ignored, pid)
		default:
			result.Failed = append(result.Failed, pid)
		}
	}

	return result, nil
}

// processProject mirrors a single project. Project-level freshness (§4.F)
// only decides whether the project's directory is wholesale-invalidated on
// a metadata mismatch, matching the original's rmtree-on-outdated-metadata
// behaviour (original_source/backend/src/scraper/src/browse.py:417-426):
// it never short-circuits the project entirely, so an unchanged project
// with one changed screen still reaches the per-screen reconciliation in
// fanOutScreens and comes back `successful`, not `ignored` (spec.md §8
// scenario 3). The project is only `ignored` when reconciliation finds
// nothing to invalidate at either level (scenario 2).
func processProject(ctx context.Context, cfg config.Config, option string, api *invision.Adapter, localizer *localize.Localizer, layout *storage.Layout, project any) outcome {
	pid, _ := fieldString(project, "id")
	data, _ := fieldMap(project, "data")
	upstreamUpdatedAt, _ := fieldString(data, "updatedAt")
	upstreamItemCount, _ := fieldFloat(data, "itemCount")
	isArchivedProject, _ := fieldBool(data, "isArchived")

	projectStale := false
	if option == "update" && !reconcile.ProjectFresh(layout, pid, upstreamUpdatedAt, upstreamItemCount) {
		// A project.json that exists but cannot be decoded is left in place
		// and the project is ignored, rather than wiping local data over it.
		var localProject map[string]any
		if err := storage.LoadJSON(layout.ProjectJSONPath(pid), &localProject); err != nil && !os.IsNotExist(err) {
			log.Printf("mirror: local project.json for %s is unreadable, leaving project as is: %v", pid, err)
			return outcomeIgnored
		}
		projectStale = true
		if err := reconcile.InvalidateProject(layout, pid); err != nil {
			log.Printf("mirror: invalidate project %s: %v", pid, err)
			return outcomeFailed
		}
	}

	localProject, errs := localizer.Localize(ctx, project, pid, "")
	logLocalizeErrs(pid, "", errs)
	if err := storage.SaveJSON(localProject, layout.ProjectDir(pid), "project.json"); err != nil {
		log.Printf("mirror: persist project.json for %s: %v", pid, err)
		return outcomeFailed
	}

	persistShares(ctx, api, localizer, layout, pid)
	persistProjectAssets(ctx, api, localizer, layout, pid)

	screens, screensCount, archivedCount, err := fetchCombinedScreens(ctx, api, pid)
	if err != nil {
		log.Printf("mirror: fetch screens for %s: %v", pid, err)
		return outcomeFailed
	}

	// Read the previous run's screens.json before it is overwritten below,
	// so fanOutScreens can compare against it screen by screen. When the
	// project was just wholesale-invalidated above this is empty, which is
	// consistent: every screen's directory is already gone and will be
	// refetched regardless.
	priorScreens := reconcile.LoadLocalScreens(layout, pid)

	localScreens, errs := localizer.Localize(ctx, screens, pid, "")
	logLocalizeErrs(pid, "", errs)
	if err := storage.SaveJSON(localScreens, layout.ProjectDir(pid), "screens.json"); err != nil {
		log.Printf("mirror: persist screens.json for %s: %v", pid, err)
		return outcomeFailed
	}

	if isArchivedProject {
		if option == "update" && !projectStale {
			return outcomeIgnored
		}
		return outcomeSuccessful
	}

	liveList, _ := fieldArray(localScreens, "screens")
	archivedList, _ := fieldArray(localScreens, "archivedscreens")
	screenList := append(append([]any{}, liveList...), archivedList...)

	successCount, anyScreenRefetched := fanOutScreens(ctx, cfg, option, api, localizer, layout, pid, screenList, priorScreens)
	if successCount != screensCount+archivedCount {
		return outcomeFailed
	}
	if option == "update" && !projectStale && !anyScreenRefetched {
		return outcomeIgnored
	}
	return outcomeSuccessful
}

func persistShares(ctx context.Context, api *invision.Adapter, localizer *localize.Localizer, layout *storage.Layout, projectID string) {
	sharesRaw, err := api.FetchProjectShares(ctx, projectID)
	if err != nil {
		log.Printf("mirror: fetch shares for %s: %v", projectID, err)
		return
	}
	upstreamIDs := shareIDs(sharesRaw)
	if len(upstreamIDs) == 0 {
		return
	}
	if !reconcile.SharesChanged(layout, projectID, upstreamIDs) {
		return
	}

	localShares, errs := localizer.Localize(ctx, sharesRaw, projectID, "")
	logLocalizeErrs(projectID, "", errs)
	if err := storage.SaveJSON(localShares, layout.ProjectDir(projectID), "shares.json"); err != nil {
		log.Printf("mirror: persist shares.json for %s: %v", projectID, err)
	}
}

// persistProjectAssets mirrors the supplemented getProjectAssets
// endpoint (SPEC_FULL.md §3.1). It is optional: a fetch failure is
// logged and a null response is skipped without writing a file; neither
// fails the enclosing project, matching shares.json's "present iff the
// upstream returned content" treatment.
func persistProjectAssets(ctx context.Context, api *invision.Adapter, localizer *localize.Localizer, layout *storage.Layout, projectID string) {
	assets, err := api.FetchProjectAssets(ctx, projectID)
	if err != nil {
		log.Printf("mirror: fetch project assets for %s: %v", projectID, err)
		return
	}
	if assets == nil {
		return
	}
	localAssets, errs := localizer.Localize(ctx, assets, projectID, "")
	logLocalizeErrs(projectID, "", errs)
	if err := storage.SaveJSON(localAssets, layout.ProjectDir(projectID), "project-assets.json"); err != nil {
		log.Printf("mirror: persist project-assets.json for %s: %v", projectID, err)
	}
}

// fetchCombinedScreens fetches the live screen listing, and — when the
// listing reports any archived screens — the archived listing too,
// returning one object that holds the live entries under `screens` and
// the archived entries under `archivedscreens`, with isArchived set per
// entry, matching the original's screens["archivedscreens"] merge.
func fetchCombinedScreens(ctx context.Context, api *invision.Adapter, projectID string) (any, int, int, error) {
	live, err := api.FetchProjectScreens(ctx, projectID)
	if err != nil {
		return nil, 0, 0, err
	}
	liveMap, _ := live.(map[string]any)
	if liveMap == nil {
		liveMap = map[string]any{}
	}
	liveScreens, _ := fieldArray(liveMap, "screens")
	for _, s := range liveScreens {
		setFieldIfAbsent(s, "isArchived", false)
	}

	archivedCount := 0
	if n, ok := fieldFloat(liveMap, "archivedScreensCount"); ok {
		archivedCount = int(n)
	}

	var archivedScreens []any
	if archivedCount != 0 {
		archived, err := api.FetchArchivedScreens(ctx, projectID)
		if err != nil {
			log.Printf("mirror: fetch archived screens for %s: %v", projectID, err)
		} else {
			archivedMap, _ := archived.(map[string]any)
			archivedScreens, _ = fieldArray(archivedMap, "archivedscreens")
			for _, s := range archivedScreens {
				setFieldIfAbsent(s, "isArchived", true)
			}
		}
	}

	liveMap["screens"] = liveScreens
	liveMap["archivedscreens"] = archivedScreens
	return liveMap, len(liveScreens), len(archivedScreens), nil
}

// fanOutScreens processes every screen in screens with bounded
// concurrency. priorScreens is the previous run's screens.json contents
// (read by the caller before it overwrote that file with the fresh
// listing); in update mode a screen whose upstream metadata no longer
// matches its entry there — or that has no entry there at all — has its
// directory invalidated before the completeness check, so only that
// screen is refetched and untouched screens are left alone (spec.md §8
// scenario 3). It returns the number of screens that ended up
// successfully mirrored (or were already complete) and whether any
// screen actually required a network refetch.
func fanOutScreens(ctx context.Context, cfg config.Config, option string, api *invision.Adapter, localizer *localize.Localizer, layout *storage.Layout, projectID string, screens []any, priorScreens map[string]reconcile.ScreenMeta) (int, bool) {
	workers := cfg.MaxScreenWorkers
	if n := runtime.NumCPU(); n < workers {
		workers = n
	}
	if workers < 1 {
		workers = 1
	}

	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	var mu sync.Mutex
	successCount := 0
	anyRefetched := false

	for _, s := range screens {
		s := s
		sid, ok := fieldString(s, "id")
		if !ok || sid == "" {
			continue
		}
		isArchived, _ := fieldBool(s, "isArchived")

		if option == "update" {
			upstream := screenMetaFromAny(s, isArchived)
			if local, ok := priorScreens[sid]; !ok || !reconcile.ScreenFresh(local, upstream) {
				if err := reconcile.InvalidateScreen(layout, projectID, sid); err != nil {
					log.Printf("mirror: invalidate screen %s/%s: %v", projectID, sid, err)
				}
			}
		}

		histCount := reconcile.LocalHistoryVersionCount(layout, projectID, sid)
		if reconcile.ScreenComplete(layout, projectID, sid, isArchived, histCount) {
			mu.Lock()
			successCount++
			mu.Unlock()
			continue
		}

		anyRefetched = true
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if err := fetchAndPersistScreen(ctx, api, localizer, layout, projectID, sid, isArchived); err != nil {
				log.Printf("mirror: screen %s/%s: %v", projectID, sid, err)
				return
			}
			mu.Lock()
			successCount++
			mu.Unlock()
		}()
	}
	wg.Wait()

	return successCount, anyRefetched
}

func fetchAndPersistScreen(ctx context.Context, api *invision.Adapter, localizer *localize.Localizer, layout *storage.Layout, projectID, screenID string, isArchived bool) error {
	details, err := api.FetchScreenDetails(ctx, screenID, isArchived)
	if err != nil {
		return fmt.Errorf("fetch details: %w", err)
	}
	localDetails, errs := localizer.Localize(ctx, details, projectID, screenID)
	logLocalizeErrs(projectID, screenID, errs)
	if err := storage.SaveJSON(localDetails, layout.ScreenDir(projectID, screenID), "screen.json"); err != nil {
		return fmt.Errorf("persist screen.json: %w", err)
	}

	if isArchived {
		return nil
	}

	inspect, err := api.FetchScreenInspect(ctx, screenID)
	if err != nil {
		return fmt.Errorf("fetch inspect: %w", err)
	}
	localInspect, errs := localizer.Localize(ctx, inspect, projectID, screenID)
	logLocalizeErrs(projectID, screenID, errs)
	if err := storage.SaveJSON(localInspect, layout.ScreenDir(projectID, screenID), "inspect.json"); err != nil {
		return fmt.Errorf("persist inspect.json: %w", err)
	}

	history, err := api.FetchScreenHistory(ctx, screenID)
	if err != nil {
		return fmt.Errorf("fetch history: %w", err)
	}
	localHistory, errs := localizer.Localize(ctx, history, projectID, screenID)
	logLocalizeErrs(projectID, screenID, errs)
	if err := storage.SaveJSON(localHistory, layout.ScreenDir(projectID, screenID), "history.json"); err != nil {
		return fmt.Errorf("persist history.json: %w", err)
	}
	return nil
}

func logLocalizeErrs(projectID, screenID string, errs []error) {
	for _, err := range errs {
		log.Printf("mirror: localize %s/%s: %v", projectID, screenID, err)
	}
}
