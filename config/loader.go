package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "HMEM_"
	// EnvSectionSeparator separates nested keys in environment variable
	// names, e.g. HMEM_MEMORY__WORKING_CAPACITY -> memory.working_capacity.
	EnvSectionSeparator = "__"
	// Delimiter is the key delimiter for nested config.
	Delimiter = "."
)

// searchPaths are tried in order when no config file is given.
var searchPaths = []string{
	"hmem.yaml",
	"config.yaml",
	"config.json",
	"/etc/hmem/config.yaml",
}

// Load builds a Config from four layers, each overriding the one before:
// defaults, the config file, HMEM_ environment variables and overrides.
// An empty path loads the first file found in searchPaths, if any.
func Load(path string, overrides map[string]interface{}) (*Config, error) {
	k := koanf.New(Delimiter)

	// Defaults go in as leaf keys so a partial file section only replaces
	// the keys it names.
	if err := k.Load(confmap.Provider(flatten(DefaultConfig(), ""), Delimiter), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		path = firstExisting(searchPaths)
	} else if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file not found: %s", path)
	}
	if path != "" {
		parser, err := parserFor(path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, Delimiter, envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if len(overrides) > 0 {
		if err := k.Load(confmap.Provider(overrides, Delimiter), nil); err != nil {
			return nil, fmt.Errorf("failed to apply overrides: %w", err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "mapstructure"}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := ValidateWithDetails(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return json.Parser(), nil
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", filepath.Ext(path))
	}
}

func firstExisting(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envKey maps an environment variable name to a config key.
// HMEM_LOG__LEVEL -> log.level
// HMEM_STORAGE__REDIS__KEY_PREFIX -> storage.redis.key_prefix
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(key, EnvSectionSeparator, Delimiter)
}

// flatten turns a config struct into dot-separated leaf keys named by the
// mapstructure tags. Nil maps are left out.
func flatten(v interface{}, prefix string) map[string]interface{} {
	out := make(map[string]interface{})
	val := reflect.Indirect(reflect.ValueOf(v))
	if val.Kind() != reflect.Struct {
		return out
	}

	typ := val.Type()
	for i := 0; i < val.NumField(); i++ {
		field := typ.Field(i)
		tag := field.Tag.Get("mapstructure")
		if !field.IsExported() || tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + Delimiter + tag
		}

		fv := val.Field(i)
		switch fv.Kind() {
		case reflect.Struct:
			for k, v := range flatten(fv.Interface(), key) {
				out[k] = v
			}
		case reflect.Map, reflect.Slice, reflect.Ptr:
			if !fv.IsNil() {
				out[key] = fv.Interface()
			}
		default:
			out[key] = fv.Interface()
		}
	}
	return out
}
