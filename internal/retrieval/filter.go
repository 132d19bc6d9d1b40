package retrieval

import "fmt"

// Filters select results whose content type and metadata match every entry.
// The "content_type" key is compared with the result's content type column;
// every other key is looked up in the metadata map.
type Filters map[string]interface{}

const contentTypeKey = "content_type"

// Apply keeps the results matching all filters, preserving their order.
func (f Filters) Apply(results []Result) []Result {
	if len(f) == 0 {
		return results
	}
	out := make([]Result, 0, len(results))
	for _, r := range results {
		if f.matches(r) {
			out = append(out, r)
		}
	}
	return out
}

func (f Filters) matches(r Result) bool {
	for key, want := range f {
		if key == contentTypeKey {
			if !valuesEqual(r.ContentType, want) {
				return false
			}
			continue
		}
		got, ok := r.Metadata[key]
		if !ok || !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

// valuesEqual compares scalar JSON values; numbers compare by value whatever
// their Go type, since metadata decoded from JSON always carries float64.
func valuesEqual(a, b interface{}) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case nil:
		return b == nil
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
