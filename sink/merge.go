package sink

import "strings"

// mergeValue merges src into dst. Maps merge key by key; anything else in
// src replaces what dst holds.
func mergeValue(dst, src any) any {
	d, ok := dst.(map[string]any)
	s, ok2 := src.(map[string]any)
	if !ok || !ok2 {
		return copyValue(src)
	}
	out := make(map[string]any, len(d)+len(s))
	for k, v := range d {
		out[k] = v
	}
	for k, v := range s {
		out[k] = mergeValue(out[k], v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = copyValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	}
	return v
}

// covers reports whether key is id itself or lies below it
func covers(id, key string) bool {
	return key == id || strings.HasPrefix(key, strings.TrimSuffix(id, "/")+"/")
}
