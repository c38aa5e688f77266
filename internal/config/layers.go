package config

// Layers holds the JSON-shaped configuration documents that stack into one
// effective document. Only Defaults is required; nil layers are skipped.
type Layers struct {
	Defaults any
	User     any
	Project  any
	Env      any
	CLI      any
}

// Merge flattens the layers with precedence defaults < user < project < env < cli.
func (l Layers) Merge() any {
	merged := l.Defaults
	for _, overlay := range []any{l.User, l.Project, l.Env, l.CLI} {
		if overlay != nil {
			merged = Merge(merged, overlay)
		}
	}
	return merged
}

// Merge deep-merges overlay into base. Two maps merge key by key; any other
// pairing (scalars, arrays, mixed kinds) resolves to the overlay value
// unchanged. Inputs are not mutated.
func Merge(base, overlay any) any {
	baseMap, baseOK := base.(map[string]any)
	overlayMap, overlayOK := overlay.(map[string]any)
	if !baseOK || !overlayOK {
		return overlay
	}

	out := make(map[string]any, len(baseMap)+len(overlayMap))
	for k, v := range baseMap {
		out[k] = v
	}
	for k, v := range overlayMap {
		if existing, ok := out[k]; ok {
			out[k] = Merge(existing, v)
		} else {
			out[k] = v
		}
	}
	return out
}
