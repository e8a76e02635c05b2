package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Kind is the value type a config key accepts.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindBool
	KindIDs
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "integer"
	case KindBool:
		return "true or false"
	case KindIDs:
		return "comma-separated ids"
	default:
		return "string"
	}
}

// Key describes one dot-separated setting. Integer keys with Max > 0 are
// range-checked against [Min, Max].
type Key struct {
	Name    string
	Kind    Kind
	Unit    string
	Secret  bool
	Min     int
	Max     int
	Choices []string
}

var keys = []Key{
	{Name: "data_dir"},
	{Name: "log_level", Choices: []string{"debug", "info", "warn", "error"}},
	{Name: "log_file"},
	{Name: "max_concurrent", Kind: KindInt, Min: 1, Max: 64},
	{Name: "admin_ids", Kind: KindIDs},
	{Name: "telegram.token", Secret: true},
	{Name: "delivery.max_attempts", Kind: KindInt, Min: 1, Max: 10},
	{Name: "delivery.retry_slack_ms", Kind: KindInt, Unit: "ms", Max: 60_000},
	{Name: "delivery.text_delay_ms", Kind: KindInt, Unit: "ms", Max: 60_000},
	{Name: "delivery.chunk_delay_ms", Kind: KindInt, Unit: "ms", Max: 60_000},
	{Name: "notify.activity_channel", Kind: KindInt},
	{Name: "notify.archive_delay_ms", Kind: KindInt, Unit: "ms", Max: 600_000},
	{Name: "notify.activity_delay_ms", Kind: KindInt, Unit: "ms", Max: 600_000},
	{Name: "verify.ttl_seconds", Kind: KindInt, Unit: "s", Min: 10, Max: 86_400},
	{Name: "sessions.idle_minutes", Kind: KindInt, Unit: "min", Min: 1, Max: 43_200},
	{Name: "http.enabled", Kind: KindBool},
	{Name: "http.listen"},
}

// Keys returns every known key in display order.
func Keys() []Key {
	return slices.Clone(keys)
}

// LookupKey finds a key by its dot-separated name.
func LookupKey(name string) (Key, bool) {
	i := slices.IndexFunc(keys, func(k Key) bool { return k.Name == name })
	if i < 0 {
		return Key{}, false
	}
	return keys[i], true
}

// Parse converts a command-line value into the form stored in the file.
func (k Key) Parse(value string) (any, error) {
	switch k.Kind {
	case KindInt:
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("%s: expected %s, got %q", k.Name, k.Kind, value)
		}
		return n, nil
	case KindBool:
		b, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("%s: expected %s, got %q", k.Name, k.Kind, value)
		}
		return b, nil
	case KindIDs:
		var ids []int64
		if err := json.Unmarshal([]byte(value), &ids); err == nil {
			return ids, nil
		}
		ids, err := ParseIDs(value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k.Name, err)
		}
		if ids == nil {
			ids = []int64{}
		}
		return ids, nil
	default:
		return value, nil
	}
}

// Check reports whether v, in its decoded JSON form, is acceptable.
func (k Key) Check(v any) error {
	if len(k.Choices) > 0 {
		s, _ := v.(string)
		if !slices.Contains(k.Choices, strings.ToLower(s)) {
			return fmt.Errorf("%s: %q is not one of %s", k.Name, s, strings.Join(k.Choices, ", "))
		}
	}
	if k.Kind != KindInt || k.Max == 0 {
		return nil
	}
	n, ok := toInt(v)
	if !ok {
		return fmt.Errorf("%s: expected %s, got %v", k.Name, k.Kind, v)
	}
	if n < k.Min || n > k.Max {
		return fmt.Errorf("%s: %d%s is outside %d..%d%s", k.Name, n, k.Unit, k.Min, k.Max, k.Unit)
	}
	return nil
}

// Format renders v for display, masking secrets and appending the unit.
func (k Key) Format(v any) string {
	if v == nil {
		return ""
	}
	if k.Secret {
		s, _ := v.(string)
		return mask(s)
	}
	var out string
	switch val := v.(type) {
	case float64:
		out = strconv.FormatFloat(val, 'f', -1, 64)
	case []any:
		parts := make([]string, len(val))
		for i, p := range val {
			parts[i] = fmt.Sprint(p)
		}
		out = strings.Join(parts, ",")
	default:
		out = fmt.Sprint(val)
	}
	if k.Unit != "" && out != "" {
		out += " " + k.Unit
	}
	return out
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	}
	return 0, false
}

// mask keeps the last four characters of a secret.
func mask(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 4:
		return "***" + s
	default:
		return "***" + s[len(s)-4:]
	}
}

// Validate checks every known key of cfg and joins the failures.
func Validate(cfg *Config) error {
	m, err := ToMap(cfg)
	if err != nil {
		return err
	}
	flat := Flatten(m)
	var errs []error
	for _, k := range keys {
		if err := k.Check(flat[k.Name]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Flatten turns the nested JSON form into dot-separated keys. Lists are
// kept whole.
func Flatten(tree map[string]any) map[string]any {
	flat := make(map[string]any)
	var walk func(prefix string, node map[string]any)
	walk = func(prefix string, node map[string]any) {
		for name, v := range node {
			if prefix != "" {
				name = prefix + "." + name
			}
			if child, ok := v.(map[string]any); ok {
				walk(name, child)
				continue
			}
			flat[name] = v
		}
	}
	walk("", tree)
	return flat
}

// Unflatten rebuilds the nested form from dot-separated keys.
func Unflatten(flat map[string]any) map[string]any {
	tree := make(map[string]any)
	for key, v := range flat {
		path := strings.Split(key, ".")
		node := tree
		for _, name := range path[:len(path)-1] {
			child, ok := node[name].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[name] = child
			}
			node = child
		}
		node[path[len(path)-1]] = v
	}
	return tree
}
