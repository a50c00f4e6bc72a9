package mirror

import "github.com/divyekant/invision-mirror/internal/reconcile"

// The upstream API hands back untyped JSON trees (map[string]any /
// []any) everywhere the orchestrator only needs a handful of fields out
// of a much larger payload the localiser walks in full. These helpers
// pull single fields out of that shape without a full typed decode.

func fieldMap(v any, key string) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	sub, ok := m[key].(map[string]any)
	return sub, ok
}

func fieldArray(v any, key string) ([]any, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	arr, ok := m[key].([]any)
	return arr, ok
}

func fieldString(v any, key string) (string, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return "", false
	}
	s, ok := m[key].(string)
	return s, ok
}

func fieldFloat(v any, key string) (float64, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return 0, false
	}
	f, ok := m[key].(float64)
	return f, ok
}

func fieldBool(v any, key string) (bool, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return false, false
	}
	b, ok := m[key].(bool)
	return b, ok
}

// setFieldIfAbsent sets m[key] = val on an object node unless the key is
// already present, matching the Python original's habit of stamping
// `isArchived` onto screens that came back from whichever of the two
// listing endpoints didn't already carry it.
func setFieldIfAbsent(v any, key string, val any) {
	m, ok := v.(map[string]any)
	if !ok {
		return
	}
	if _, exists := m[key]; !exists {
		m[key] = val
	}
}

// filterPrototypes keeps only type == "prototype" projects, matching
// spec.md §3's "only type == prototype is mirrored in the current
// policy".
func filterPrototypes(projects []any) []any {
	var out []any
	for _, p := range projects {
		if t, _ := fieldString(p, "type"); t == "prototype" {
			out = append(out, p)
		}
	}
	return out
}

// dedupeOnePerType collapses projects to at most one entry per "type",
// matching the Python original's `{project["type"]: project for project
// in allProjects}.values()` test-mode shortcut — last project of each
// type wins, same as the dict-comprehension it is grounded on.
func dedupeOnePerType(projects []any) []any {
	byType := map[string]any{}
	var order []string
	for _, p := range projects {
		t, ok := fieldString(p, "type")
		if !ok {
			continue
		}
		if _, seen := byType[t]; !seen {
			order = append(order, t)
		}
		byType[t] = p
	}
	out := make([]any, 0, len(order))
	for _, t := range order {
		out = append(out, byType[t])
	}
	return out
}

// enrichProjectTags stamps each project's data.tags with the subset of
// the global tag list whose prototypeIDs contains that project's id.
func enrichProjectTags(projects []any, tags []any) {
	for _, p := range projects {
		pid, ok := fieldString(p, "id")
		if !ok {
			continue
		}
		data, ok := fieldMap(p, "data")
		if !ok {
			continue
		}
		var matched []any
		for _, tag := range tags {
			ids, _ := fieldArray(tag, "prototypeIDs")
			for _, id := range ids {
				if s, ok := id.(string); ok && s == pid {
					matched = append(matched, tag)
					break
				}
			}
		}
		data["tags"] = matched
	}
}

// shareIDs extracts the ordered "id" sequence from a {"shares": [...]}
// response, used both to persist shares.json and to drive
// reconcile.SharesChanged.
func shareIDs(sharesRaw any) []string {
	shares, ok := fieldArray(sharesRaw, "shares")
	if !ok {
		return nil
	}
	out := make([]string, 0, len(shares))
	for _, s := range shares {
		if id, ok := fieldString(s, "id"); ok {
			out = append(out, id)
		}
	}
	return out
}

// screenMetaFromAny decodes the freshness-relevant fields out of a raw
// screen JSON node.
func screenMetaFromAny(s any, isArchived bool) reconcile.ScreenMeta {
	id, _ := fieldString(s, "id")
	updatedAt, _ := fieldString(s, "updatedAt")
	imageVersion, _ := fieldFloat(s, "imageVersion")
	conversationCount, _ := fieldFloat(s, "conversationCount")
	unreadConversationCount, _ := fieldFloat(s, "unreadConversationCount")
	return reconcile.ScreenMeta{
		ID:                      id,
		IsArchived:              isArchived,
		UpdatedAt:               updatedAt,
		ImageVersion:            imageVersion,
		ConversationCount:       conversationCount,
		UnreadConversationCount: unreadConversationCount,
	}
}
