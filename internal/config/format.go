package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	yaml "go.yaml.in/yaml/v3"

	"jobhost/internal/errors"
)

// Supported config file formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
	FormatTOML = "toml"
)

// FormatOf picks the format from the file extension. Unknown extensions are JSON.
func FormatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".toml":
		return FormatTOML
	default:
		return FormatJSON
	}
}

// coerceToJSONBytes converts YAML and TOML config to JSON bytes so we can re-use
// the strict JSON decoder (DisallowUnknownFields) for every format.
func coerceToJSONBytes(format string, data []byte) ([]byte, error) {
	var v any
	switch format {
	case FormatJSON:
		return data, nil
	case FormatYAML:
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, errors.Wrap(err, "yaml unmarshal")
		}
	case FormatTOML:
		m := map[string]any{}
		if _, err := toml.Decode(string(data), &m); err != nil {
			return nil, errors.Wrap(err, "toml decode")
		}
		v = m
	default:
		return nil, errors.Newf("unsupported config format %q", format)
	}

	v = normalizeTree(v)

	j, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrapf(err, "%s->json marshal", format)
	}
	return j, nil
}

// normalizeTree ensures all map keys are strings so the result can be JSON-marshaled.
// Scalar parameter values are stringified inside "params" maps, so `retention: 24h`
// and `workers = 3` both land as strings.
func normalizeTree(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = normalizeChild(fmt.Sprint(k), v)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[k] = normalizeChild(k, v)
		}
		return m
	case []map[string]any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = normalizeTree(x[i])
		}
		return out
	case []any:
		for i := range x {
			x[i] = normalizeTree(x[i])
		}
		return x
	default:
		return in
	}
}

func normalizeChild(key string, v any) any {
	v = normalizeTree(v)
	if key != "params" && key != "metadata" {
		return v
	}
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	for k, pv := range m {
		switch pv.(type) {
		case string, nil, map[string]any, []any:
		default:
			m[k] = fmt.Sprint(pv)
		}
	}
	return m
}
