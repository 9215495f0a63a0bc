package resource

import "strings"

// Tag is a single provider key/value annotation.
type Tag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Tags keeps provider order. Keys are not guaranteed to be unique,
// so lookups are a linear scan and the first match wins.
type Tags []Tag

// Value returns the value of the first tag named key.
func (t Tags) Value(key string) (string, bool) {
	for _, tag := range t {
		if tag.Key == key {
			return tag.Value, true
		}
	}
	return "", false
}

// Enabled reports whether the first tag named key holds "true", ignoring case
// and surrounding whitespace.
func (t Tags) Enabled(key string) bool {
	v, ok := t.Value(key)
	if !ok {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(v), "true")
}

// Map flattens tags into a map. Earlier tags win on duplicate keys.
func (t Tags) Map() map[string]string {
	m := make(map[string]string, len(t))
	for _, tag := range t {
		if _, exists := m[tag.Key]; !exists {
			m[tag.Key] = tag.Value
		}
	}
	return m
}
