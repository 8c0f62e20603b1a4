package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	yaml "go.yaml.in/yaml/v3"
)

// EnvPrefix marks environment variables that override file settings.
const EnvPrefix = "MAILWORKER_"

// Format returns the settings file format implied by the path extension.
func Format(path string) string {
	base := strings.ToLower(filepath.Base(path))
	if base == ".env" || strings.HasSuffix(base, ".env") {
		return "env"
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".toml":
		return "toml"
	default:
		return "json"
	}
}

// decodeFlat parses a settings file into a flat key/value map.
// Nested tables are flattened with '.', e.g. {"Email": {"Port": 25}} becomes "Email.Port".
func decodeFlat(path string, data []byte) (map[string]string, error) {
	format := Format(path)
	var tree map[string]any

	switch format {
	case "env":
		m, err := godotenv.UnmarshalBytes(data)
		if err != nil {
			return nil, errors.Wrap(err, "env parse")
		}
		out := make(map[string]string, len(m))
		for k, v := range m {
			out[strings.TrimPrefix(k, EnvPrefix)] = v
		}
		return out, nil
	case "yaml":
		var v any
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, errors.Wrap(err, "yaml unmarshal")
		}
		if v == nil {
			return map[string]string{}, nil
		}
		m, ok := normalizeYAML(v).(map[string]any)
		if !ok {
			return nil, errors.New("yaml: top level must be a mapping")
		}
		tree = m
	case "toml":
		if _, err := toml.Decode(string(data), &tree); err != nil {
			return nil, errors.Wrap(err, "toml decode")
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&tree); err != nil {
			return nil, errors.Wrap(err, "json decode")
		}
	}

	out := map[string]string{}
	flatten("", tree, out)
	return out, nil
}

func flatten(prefix string, v any, out map[string]string) {
	join := func(k string) string {
		if prefix == "" {
			return k
		}
		return prefix + "." + k
	}
	switch x := v.(type) {
	case map[string]any:
		for k, child := range x {
			flatten(join(k), child, out)
		}
	case nil:
		out[prefix] = ""
	default:
		out[prefix] = scalarString(x)
	}
}

func scalarString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case json.Number:
		return x.String()
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case time.Time:
		return x.Format(time.RFC3339)
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = scalarString(e)
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(x)
	}
}

// normalizeYAML ensures all map keys are strings.
func normalizeYAML(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = normalizeYAML(v)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[k] = normalizeYAML(v)
		}
		return m
	case []any:
		for i := range x {
			x[i] = normalizeYAML(x[i])
		}
		return x
	default:
		return in
	}
}

// envOverrides extracts MAILWORKER_* variables from environ.
func envOverrides(environ []string) map[string]string {
	out := map[string]string{}
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, EnvPrefix) {
			continue
		}
		out[strings.TrimPrefix(k, EnvPrefix)] = v
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
