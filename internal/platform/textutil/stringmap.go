package textutil

import "strings"

// NormalizeStringMap returns a copy of values with keys and values trimmed.
// Entries whose trimmed key is empty are dropped, and a map with nothing
// left collapses to nil so callers can treat it as absent metadata.
func NormalizeStringMap(values map[string]string) map[string]string {
	var result map[string]string
	for key, value := range values {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if result == nil {
			result = make(map[string]string, len(values))
		}
		result[key] = strings.TrimSpace(value)
	}
	return result
}
