// Package pack indexes deployable pack entries and resolves the most
// specific entries for a tenant/team/user scope.
package pack

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Entry is one indexed pack. The ID is an opaque string; scoped entries use
// colon-joined override keys such as "acme", "acme:ops" or "acme:ops:bob".
type Entry struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Kind string `json:"kind,omitempty"`
	Path string `json:"path"`
}

// Index is an immutable snapshot of the discovered packs.
type Index struct {
	Entries []Entry `json:"entries"`
}

// ResolveFor selects entries by specificity. The candidate key chain runs
// from most to least specific: tenant:team:user, tenant:team, tenant; empty
// selector strings mean absent. With no selectors at all, the full entry set
// is returned with empty key lists. When every candidate key misses, the
// full unfiltered set is returned together with the missing keys: absence of
// an override is a signal to show the defaults, not an empty result.
func (idx Index) ResolveFor(tenant, team, user string) (matched []Entry, matchedKeys, missingKeys []string) {
	var desired []string
	if tenant != "" {
		if team != "" {
			if user != "" {
				desired = append(desired, tenant+":"+team+":"+user)
			}
			desired = append(desired, tenant+":"+team)
		}
		desired = append(desired, tenant)
	}

	if len(desired) == 0 {
		return idx.Entries, nil, nil
	}

	for _, key := range desired {
		if entry, ok := idx.lookup(key); ok {
			matched = append(matched, entry)
			matchedKeys = append(matchedKeys, key)
		} else {
			missingKeys = append(missingKeys, key)
		}
	}

	if len(matched) == 0 {
		return idx.Entries, nil, missingKeys
	}
	return matched, matchedKeys, missingKeys
}

func (idx Index) lookup(id string) (Entry, bool) {
	for _, entry := range idx.Entries {
		if entry.ID == id {
			return entry, true
		}
	}
	return Entry{}, false
}

// manifest is the subset of pack.json the index cares about.
type manifest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// BuildIndex scans root for <dir>/pack.json manifests. A directory without a
// manifest is skipped; a manifest without an id falls back to the directory
// name. A missing root yields an empty index rather than an error so a fresh
// workspace serves an empty pack list.
func BuildIndex(root string) (Index, error) {
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return Index{}, nil
	}
	if err != nil {
		return Index{}, fmt.Errorf("read packs root %s: %w", root, err)
	}

	var index Index
	for _, dir := range entries {
		if !dir.IsDir() {
			continue
		}
		manifestPath := filepath.Join(root, dir.Name(), "pack.json")
		raw, err := os.ReadFile(manifestPath)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return Index{}, fmt.Errorf("read manifest %s: %w", manifestPath, err)
		}
		var m manifest
		if err := json.Unmarshal(raw, &m); err != nil {
			return Index{}, fmt.Errorf("invalid manifest %s: %w", manifestPath, err)
		}
		id := m.ID
		if id == "" {
			id = dir.Name()
		}
		index.Entries = append(index.Entries, Entry{
			ID:   id,
			Name: m.Name,
			Kind: m.Kind,
			Path: filepath.Join(root, dir.Name()),
		})
	}

	sort.Slice(index.Entries, func(i, j int) bool { return index.Entries[i].ID < index.Entries[j].ID })
	return index, nil
}
