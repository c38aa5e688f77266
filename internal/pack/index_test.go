package pack

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scopedIndex() Index {
	return Index{Entries: []Entry{
		{ID: "acme", Name: "tenant default", Path: "/packs/acme"},
		{ID: "acme:ops", Name: "team override", Path: "/packs/acme-ops"},
		{ID: "acme:ops:bob", Name: "user override", Path: "/packs/acme-ops-bob"},
		{ID: "globex", Name: "unrelated tenant", Path: "/packs/globex"},
	}}
}

func ids(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ID)
	}
	return out
}

func TestResolveForSpecificityOrder(t *testing.T) {
	idx := scopedIndex()

	matched, matchedKeys, missingKeys := idx.ResolveFor("acme", "ops", "bob")
	assert.Equal(t, []string{"acme:ops:bob", "acme:ops", "acme"}, ids(matched))
	assert.Equal(t, []string{"acme:ops:bob", "acme:ops", "acme"}, matchedKeys)
	assert.Empty(t, missingKeys)
}

func TestResolveForPartialScope(t *testing.T) {
	idx := scopedIndex()

	matched, matchedKeys, missingKeys := idx.ResolveFor("acme", "ops", "")
	assert.Equal(t, []string{"acme:ops", "acme"}, ids(matched))
	assert.Equal(t, []string{"acme:ops", "acme"}, matchedKeys)
	assert.Empty(t, missingKeys)

	matched, matchedKeys, missingKeys = idx.ResolveFor("acme", "", "")
	assert.Equal(t, []string{"acme"}, ids(matched))
	assert.Equal(t, []string{"acme"}, matchedKeys)
	assert.Empty(t, missingKeys)
}

func TestResolveForUserWithoutTeam(t *testing.T) {
	idx := scopedIndex()

	// A user selector without a team cannot form a user key.
	matched, matchedKeys, missingKeys := idx.ResolveFor("acme", "", "bob")
	assert.Equal(t, []string{"acme"}, ids(matched))
	assert.Equal(t, []string{"acme"}, matchedKeys)
	assert.Empty(t, missingKeys)
}

func TestResolveForMixedHitsAndMisses(t *testing.T) {
	idx := scopedIndex()

	matched, matchedKeys, missingKeys := idx.ResolveFor("acme", "ops", "carol")
	assert.Equal(t, []string{"acme:ops", "acme"}, ids(matched))
	assert.Equal(t, []string{"acme:ops", "acme"}, matchedKeys)
	assert.Equal(t, []string{"acme:ops:carol"}, missingKeys)
}

func TestResolveForTotalMissFallsBackToFullSet(t *testing.T) {
	idx := scopedIndex()

	matched, matchedKeys, missingKeys := idx.ResolveFor("other", "", "")
	assert.Equal(t, []string{"acme", "acme:ops", "acme:ops:bob", "globex"}, ids(matched))
	assert.Nil(t, matchedKeys)
	assert.Equal(t, []string{"other"}, missingKeys)
}

func TestResolveForNoSelectors(t *testing.T) {
	idx := scopedIndex()

	matched, matchedKeys, missingKeys := idx.ResolveFor("", "", "")
	assert.Equal(t, idx.Entries, matched)
	assert.Nil(t, matchedKeys)
	assert.Nil(t, missingKeys)
}

func TestBuildIndexScansManifests(t *testing.T) {
	root := t.TempDir()
	writeManifest := func(dir, body string) {
		t.Helper()
		require.NoError(t, os.MkdirAll(filepath.Join(root, dir), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(root, dir, "pack.json"), []byte(body), 0o644))
	}
	writeManifest("zeta", `{"id": "zeta", "name": "Zeta", "kind": "flow"}`)
	writeManifest("no-id", `{"name": "Anonymous"}`)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "no-manifest"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "stray-file"), []byte("x"), 0o644))

	idx, err := BuildIndex(root)
	require.NoError(t, err)

	require.Len(t, idx.Entries, 2)
	assert.Equal(t, "no-id", idx.Entries[0].ID, "id falls back to directory name, sorted first")
	assert.Equal(t, "Anonymous", idx.Entries[0].Name)
	assert.Equal(t, "zeta", idx.Entries[1].ID)
	assert.Equal(t, "flow", idx.Entries[1].Kind)
	assert.Equal(t, filepath.Join(root, "zeta"), idx.Entries[1].Path)
}

func TestBuildIndexMissingRoot(t *testing.T) {
	idx, err := BuildIndex(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)
	assert.Empty(t, idx.Entries)
}

func TestBuildIndexInvalidManifest(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "bad"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "bad", "pack.json"), []byte("{nope"), 0o644))

	_, err := BuildIndex(root)
	assert.Error(t, err)
}
