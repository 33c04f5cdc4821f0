package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Section is one configuration table, such as the slice handed to a
// module's ReadConfig hook.
type Section map[string]interface{}

// Get returns the value at a dotted key relative to the section.
func (s Section) Get(key string) interface{} {
	return lookup(s, key)
}

// String returns the string at key, or "".
func (s Section) String(key string) string {
	return toString(s.Get(key))
}

// Int returns the integer at key, or 0.
func (s Section) Int(key string) int {
	return toInt(s.Get(key))
}

// Bool returns the bool at key, or false.
func (s Section) Bool(key string) bool {
	return toBool(s.Get(key))
}

// Duration returns the duration at key.
func (s Section) Duration(key string) time.Duration {
	return toDuration(s.Get(key))
}

// Decode copies the section into v, which must be a pointer to a struct
// with json tags.
func (s Section) Decode(v interface{}) error {
	b, err := json.Marshal(map[string]interface{}(s))
	if err != nil {
		return fmt.Errorf("encode section: %w", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode section: %w", err)
	}
	return nil
}

func lookup(m map[string]interface{}, key string) interface{} {
	if m == nil || key == "" {
		return nil
	}
	var cur interface{} = m
	for _, part := range strings.Split(key, ".") {
		table, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		cur, ok = table[part]
		if !ok {
			return nil
		}
	}
	return cur
}

func setPath(m map[string]interface{}, key string, value interface{}) {
	parts := strings.Split(key, ".")
	cur := m
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]interface{})
		if !ok {
			next = map[string]interface{}{}
			cur[part] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = value
}

// merge copies src into dst. Tables merge recursively; any other value
// replaces what dst held.
func merge(dst, src map[string]interface{}) {
	for k, v := range src {
		srcTable, srcIsTable := v.(map[string]interface{})
		dstTable, dstIsTable := dst[k].(map[string]interface{})
		if srcIsTable && dstIsTable {
			merge(dstTable, srcTable)
			continue
		}
		if srcIsTable {
			dst[k] = deepCopy(srcTable)
			continue
		}
		dst[k] = v
	}
}

func deepCopy(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return deepCopy(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}

// substitute replaces {$NAME} placeholders in every string value.
func substitute(v interface{}, env map[string]string) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, e := range t {
			t[k] = substitute(e, env)
		}
		return t
	case []interface{}:
		for i, e := range t {
			t[i] = substitute(e, env)
		}
		return t
	case string:
		if !strings.Contains(t, "{$") {
			return t
		}
		for name, value := range env {
			if name == confEnvName {
				continue
			}
			t = strings.ReplaceAll(t, "{$"+name+"}", value)
		}
		return t
	default:
		return v
	}
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

func toInt(v interface{}) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case uint64:
		return int(t)
	case float64:
		return int(t)
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0
		}
		return i
	default:
		return 0
	}
}

func toBool(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t == "true" || t == "1"
	default:
		return toInt(v) != 0
	}
}

func toDuration(v interface{}) time.Duration {
	switch t := v.(type) {
	case time.Duration:
		return t
	case string:
		d, err := time.ParseDuration(t)
		if err != nil {
			return 0
		}
		return d
	default:
		return time.Duration(toInt(v)) * time.Millisecond
	}
}
