package types

import (
	"encoding/json"
	"strconv"
)

// Snapshot values arrive either as the Go types written in-process or as
// the JSON types produced by reloading from storage. These helpers read
// both shapes.

func Float(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case int32:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()
		return f
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	}
	return 0
}

func Int(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case int32:
		return int(n)
	case float64:
		return int(n)
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	case string:
		i, _ := strconv.Atoi(n)
		return i
	}
	return 0
}

func Bool(v any) bool {
	b, _ := v.(bool)
	return b
}

func String(v any) string {
	s, _ := v.(string)
	return s
}

// Decode converts a snapshot value into out via its JSON form.
func Decode(v any, out any) error {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

// ToMap converts a struct into the map shape stored in snapshots.
func ToMap(v any) map[string]any {
	out := map[string]any{}
	_ = Decode(v, &out)
	return out
}

// ToMaps converts a slice into a slice of snapshot maps.
func ToMaps[T any](items []T) []any {
	out := make([]any, 0, len(items))
	for _, it := range items {
		out = append(out, ToMap(it))
	}
	return out
}
