package tracker

import "github.com/ternarybob/scrapetrack/internal/models"

func cloneSnapshot(s models.Snapshot) models.Snapshot {
	clone := s
	clone.LogLines = append(make([]string, 0, len(s.LogLines)), s.LogLines...)
	clone.Result = cloneValueMap(s.Result)
	clone.Screenshots = cloneStringMap(s.Screenshots)
	return clone
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// cloneValueMap copies decoded JSON values so snapshots never share nested containers
func cloneValueMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		return cloneValueMap(typed)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
