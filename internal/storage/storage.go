// Package storage implements the on-disk layout of a mirrored InVision
// snapshot: deterministic paths for every document and asset, and
// pretty-printed, crash-safe JSON writes.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Layout resolves every path the mirror writes to, rooted at DocsRoot.
type Layout struct {
	DocsRoot string
}

func New(docsRoot string) *Layout { return &Layout{DocsRoot: docsRoot} }

func (l *Layout) CommonDir() string          { return filepath.Join(l.DocsRoot, "common") }
func (l *Layout) AvatarsDir() string         { return filepath.Join(l.CommonDir(), "avatars") }
func (l *Layout) TagsPath() string           { return filepath.Join(l.CommonDir(), "tags.json") }
func (l *Layout) FigmaPath() string          { return filepath.Join(l.CommonDir(), "figma.json") }
func (l *Layout) ProjectsDir() string        { return filepath.Join(l.DocsRoot, "projects") }
func (l *Layout) ProjectDir(id string) string { return filepath.Join(l.ProjectsDir(), id) }

func (l *Layout) ProjectJSONPath(id string) string {
	return filepath.Join(l.ProjectDir(id), "project.json")
}

func (l *Layout) ScreensJSONPath(id string) string {
	return filepath.Join(l.ProjectDir(id), "screens.json")
}

func (l *Layout) SharesJSONPath(id string) string {
	return filepath.Join(l.ProjectDir(id), "shares.json")
}

// ProjectAssetsJSONPath is the supplemented project-level asset listing
// (see SPEC_FULL.md §3.1); optional, never required for completeness.
func (l *Layout) ProjectAssetsJSONPath(id string) string {
	return filepath.Join(l.ProjectDir(id), "project-assets.json")
}

func (l *Layout) ProjectAssetDir(id, subdir string) string {
	return filepath.Join(l.ProjectDir(id), "assets", subdir)
}

func (l *Layout) ScreenDir(projectID, screenID string) string {
	return filepath.Join(l.ProjectDir(projectID), "screens", screenID)
}

func (l *Layout) ScreenJSONPath(projectID, screenID string) string {
	return filepath.Join(l.ScreenDir(projectID, screenID), "screen.json")
}

func (l *Layout) ScreenInspectJSONPath(projectID, screenID string) string {
	return filepath.Join(l.ScreenDir(projectID, screenID), "inspect.json")
}

func (l *Layout) ScreenHistoryJSONPath(projectID, screenID string) string {
	return filepath.Join(l.ScreenDir(projectID, screenID), "history.json")
}

func (l *Layout) ScreenVersionsDir(projectID, screenID string) string {
	return filepath.Join(l.ScreenDir(projectID, screenID), "versions")
}

// SaveJSON writes data as indented JSON to folder/fileName, creating the
// folder if needed. The write is atomic: data lands in a temp file in the
// same directory, then is renamed over the destination, so a crash
// mid-write never leaves a truncated document behind.
func SaveJSON(data any, folder, fileName string) error {
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return fmt.Errorf("storage: create dir %s: %w", folder, err)
	}

	encoded, err := json.MarshalIndent(data, "", "    ")
	if err != nil {
		return fmt.Errorf("storage: marshal %s: %w", fileName, err)
	}

	dest := filepath.Join(folder, fileName)
	tmp, err := os.CreateTemp(folder, "."+fileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("storage: create temp file for %s: %w", fileName, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(encoded); err != nil {
		tmp.Close()
		return fmt.Errorf("storage: write %s: %w", fileName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp file for %s: %w", fileName, err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("storage: rename into place %s: %w", dest, err)
	}
	return nil
}

// LoadJSON reads and decodes the JSON document at path into v. It returns
// os.ErrNotExist (wrapped) if the file does not exist, so callers can treat
// a missing document as "never mirrored" rather than a hard error.
func LoadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
