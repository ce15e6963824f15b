package domain

import (
	"dario.cat/mergo"
)

// MergeEnvironment returns a new map holding base overlaid with overlay. Neither
// input is modified.
func MergeEnvironment(base, overlay map[string]string) (map[string]string, error) {
	merged := make(map[string]string, len(base)+len(overlay))
	for k, v := range base {
		merged[k] = v
	}
	if len(overlay) == 0 {
		return merged, nil
	}

	if err := mergo.Merge(&merged, overlay, mergo.WithOverride); err != nil {
		return nil, err
	}
	return merged, nil
}
