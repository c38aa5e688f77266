package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeDeepObjects(t *testing.T) {
	base := map[string]any{"a": 1, "b": map[string]any{"x": 1}}
	overlay := map[string]any{"b": map[string]any{"y": 2}}

	merged := Merge(base, overlay)

	assert.Equal(t, map[string]any{
		"a": 1,
		"b": map[string]any{"x": 1, "y": 2},
	}, merged)
}

func TestMergeScalarReplacesObject(t *testing.T) {
	base := map[string]any{"b": map[string]any{"x": 1}}
	overlay := map[string]any{"b": 5}

	merged := Merge(base, overlay)

	assert.Equal(t, map[string]any{"b": 5}, merged)
}

func TestMergeArraysReplaceNotUnion(t *testing.T) {
	base := map[string]any{"list": []any{1, 2, 3}}
	overlay := map[string]any{"list": []any{9}}

	merged := Merge(base, overlay)

	assert.Equal(t, map[string]any{"list": []any{9}}, merged)
}

func TestMergeDoesNotMutateInputs(t *testing.T) {
	base := map[string]any{"b": map[string]any{"x": 1}}
	overlay := map[string]any{"b": map[string]any{"y": 2}}

	_ = Merge(base, overlay)

	assert.Equal(t, map[string]any{"b": map[string]any{"x": 1}}, base)
	assert.Equal(t, map[string]any{"b": map[string]any{"y": 2}}, overlay)
}

func TestLayersPrecedence(t *testing.T) {
	layers := Layers{
		Defaults: map[string]any{"addr": "localhost", "debug": false, "nested": map[string]any{"a": 1}},
		User:     map[string]any{"debug": true},
		Project:  map[string]any{"nested": map[string]any{"b": 2}},
		Env:      map[string]any{"addr": "0.0.0.0"},
		CLI:      map[string]any{"nested": map[string]any{"a": 10}},
	}

	merged := layers.Merge()

	assert.Equal(t, map[string]any{
		"addr":   "0.0.0.0",
		"debug":  true,
		"nested": map[string]any{"a": 10, "b": 2},
	}, merged)
}

func TestLayersSkipNil(t *testing.T) {
	layers := Layers{Defaults: map[string]any{"a": 1}}
	assert.Equal(t, map[string]any{"a": 1}, layers.Merge())
}

func TestApplySecretsAllProvided(t *testing.T) {
	check, err := ApplySecrets([]string{"TOKEN"}, map[string]string{"TOKEN": "v"})
	require.NoError(t, err)
	assert.Equal(t, []string{"TOKEN"}, check.Provided)
	assert.Empty(t, check.Missing)
}

func TestApplySecretsMissing(t *testing.T) {
	check, err := ApplySecrets([]string{"TOKEN"}, map[string]string{})
	require.Error(t, err)

	var missing *MissingSecretError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"TOKEN"}, missing.Missing)
	assert.Equal(t, []string{"TOKEN"}, check.Missing)
}

func TestApplySecretsBlankCountsAsMissing(t *testing.T) {
	check, err := ApplySecrets([]string{"A", "B", "C"}, map[string]string{
		"A": "ok",
		"B": "   ",
	})
	require.Error(t, err)
	assert.Equal(t, []string{"A"}, check.Provided)
	assert.Equal(t, []string{"B", "C"}, check.Missing)
}
