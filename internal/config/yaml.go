package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// LoadYAML reads a nested YAML document and flattens it into dotted keys
// ("dirman.type", "kelpie.ioms[]" for sequences of scalars), matching the
// flat key space the rest of this package and every component expects.
// This is the format operators actually tend to hand-write; Load's flat
// key=value format stays as the minimal, dependency-free fallback.
func LoadYAML(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	cfg := New()
	flattenYAML(cfg, "", doc)
	return cfg, nil
}

func flattenYAML(cfg *Config, prefix string, node any) {
	switch v := node.(type) {
	case map[string]any:
		for k, val := range v {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			flattenYAML(cfg, key, val)
		}
	case []any:
		scalars := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := scalarString(item); ok {
				scalars = append(scalars, s)
			}
		}
		if len(scalars) == len(v) {
			joined := ""
			for i, s := range scalars {
				if i > 0 {
					joined += ","
				}
				joined += s
			}
			cfg.Set(prefix+"[]", joined)
		}
	default:
		if s, ok := scalarString(v); ok {
			cfg.Set(prefix, s)
		}
	}
}

func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case bool:
		if t {
			return "true", true
		}
		return "false", true
	case int:
		return itoa(t), true
	default:
		return "", false
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
