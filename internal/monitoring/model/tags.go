package model

import "strings"

// NormalizeTags returns a new map with keys lowercased and trimmed and empty
// keys/values removed. It does not mutate the input map.
func NormalizeTags(in map[string]string) map[string]string {
	if len(in) == 0 {
		return map[string]string{}
	}
	result := make(map[string]string, len(in))
	for rawKey, rawVal := range in {
		key := strings.ToLower(strings.TrimSpace(rawKey))
		if key == "" {
			continue
		}
		val := strings.TrimSpace(rawVal)
		if val == "" {
			continue
		}
		result[key] = val
	}
	return result
}
