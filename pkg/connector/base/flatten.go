package base

import (
	"sort"
	"strings"
	"time"

	gojson "github.com/goccy/go-json"

	"github.com/ajitpratap0/tributary/pkg/connector/core"
)

// FlattenOptions tunes Flatten for a particular API
type FlattenOptions struct {
	// Order lists keys emitted first, in this order
	Order []string
	// Drop lists keys that are discarded, such as Salesforce "attributes"
	Drop []string
	// EpochMillis lists numeric keys holding epoch milliseconds
	EpochMillis []string
	// PairRefs flattens [id, "name"] pairs (Odoo many2one) to <f>_id and <f>_name
	PairRefs bool
}

// timestampLayouts are tried in order for string values of time-like keys
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000-0700", // Jira, Salesforce
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05.000Z",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// timeHints mark keys whose string values are parsed as timestamps
var timeHints = []string{"date", "time", "_at", "modified", "created", "updated"}

// Flatten converts one API object into a record.
//
// Scalars are kept. Nested objects yield <f>_id, <f>_key, <f>_name and
// <f>_display_name for whichever of those members exist, plus <f> holding the
// serialized object. Arrays yield <f>_count, <f>_names when the elements are
// objects, and <f> holding the serialized array. Strings under time-like keys
// are parsed as timestamps when they match a known layout.
func Flatten(raw Raw, opts FlattenOptions) *core.Record {
	rec := core.NewRecord(len(raw) + 4)

	drop := make(map[string]bool, len(opts.Drop))
	for _, k := range opts.Drop {
		drop[k] = true
	}
	epoch := make(map[string]bool, len(opts.EpochMillis))
	for _, k := range opts.EpochMillis {
		epoch[k] = true
	}

	for _, key := range orderedKeys(raw, opts.Order) {
		if drop[key] {
			continue
		}
		flattenValue(rec, key, raw[key], opts.PairRefs, epoch[key])
	}
	return rec
}

func flattenValue(rec *core.Record, key string, v interface{}, pairRefs, epochMillis bool) {
	switch t := v.(type) {
	case map[string]interface{}:
		for _, m := range []struct{ src, suffix string }{
			{"id", "_id"},
			{"key", "_key"},
			{"name", "_name"},
			{"displayName", "_display_name"},
			{"display_name", "_display_name"},
		} {
			if mv, ok := t[m.src]; ok && isScalar(mv) {
				rec.Set(key+m.suffix, core.FromAny(mv))
			}
		}
		rec.Set(key, core.JSONOf(t))

	case []interface{}:
		if pairRefs && isPairRef(t) {
			rec.Set(key+"_id", core.FromAny(t[0]))
			rec.Set(key+"_name", core.FromAny(t[1]))
			return
		}
		rec.Set(key+"_count", core.Int(int64(len(t))))
		if names, ok := elementNames(t); ok {
			rec.Set(key+"_names", core.String(names))
		}
		rec.Set(key, core.JSONOf(t))

	case string:
		if isTimeKey(key) {
			if ts, ok := ParseTimestamp(t); ok {
				rec.Set(key, core.Time(ts))
				return
			}
		}
		rec.Set(key, core.String(t))

	case gojson.Number:
		if epochMillis {
			if ms, err := t.Int64(); err == nil {
				rec.Set(key, core.Time(time.UnixMilli(ms)))
				return
			}
		}
		rec.Set(key, core.FromAny(t))

	default:
		rec.Set(key, core.FromAny(v))
	}
}

// ParseTimestamp parses s using the known API layouts
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if len(s) < 10 || s[0] < '0' || s[0] > '9' {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

func isTimeKey(key string) bool {
	k := strings.ToLower(key)
	for _, h := range timeHints {
		if strings.Contains(k, h) {
			return true
		}
	}
	return false
}

func isScalar(v interface{}) bool {
	switch v.(type) {
	case map[string]interface{}, []interface{}:
		return false
	}
	return true
}

// isPairRef matches Odoo many2one values: [id, display name]
func isPairRef(a []interface{}) bool {
	if len(a) != 2 {
		return false
	}
	_, name := a[1].(string)
	switch n := a[0].(type) {
	case gojson.Number:
		_, err := n.Int64()
		return name && err == nil
	case float64:
		return name && n == float64(int64(n))
	case int, int64:
		return name
	}
	return false
}

// elementNames joins the "name" (or "displayName") of object elements
func elementNames(a []interface{}) (string, bool) {
	if len(a) == 0 {
		return "", false
	}
	if _, ok := a[0].(map[string]interface{}); !ok {
		return "", false
	}
	names := make([]string, 0, len(a))
	for _, el := range a {
		m, ok := el.(map[string]interface{})
		if !ok {
			continue
		}
		if n, ok := m["name"].(string); ok {
			names = append(names, n)
		} else if n, ok := m["displayName"].(string); ok {
			names = append(names, n)
		} else if raw, err := gojson.Marshal(m); err == nil {
			names = append(names, string(raw))
		}
	}
	return strings.Join(names, ", "), true
}

// orderedKeys returns the preferred keys first, then "id", then the rest sorted
func orderedKeys(raw Raw, preferred []string) []string {
	seen := make(map[string]bool, len(raw))
	keys := make([]string, 0, len(raw))
	for _, k := range preferred {
		if _, ok := raw[k]; ok && !seen[k] {
			keys = append(keys, k)
			seen[k] = true
		}
	}
	if _, ok := raw["id"]; ok && !seen["id"] {
		keys = append(keys, "id")
		seen["id"] = true
	}
	rest := make([]string, 0, len(raw))
	for k := range raw {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}
