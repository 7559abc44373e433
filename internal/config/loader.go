package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config file locations.
const (
	GlobalConfigDir   = "scrollpilot"
	ProjectConfigDir  = ".scrollpilot"
	ConfigFileName    = "config.yaml"
	explicitConfigKey = "config"
)

// fileLayer is one config file merged over the defaults. Optional layers
// are skipped when the file is absent.
type fileLayer struct {
	path     string
	optional bool
}

// LoadConfig merges, lowest precedence first: Default(), the user's
// $XDG_CONFIG_HOME/scrollpilot/config.yaml, the project's
// .scrollpilot/config.yaml, the file named by the "config" key, then
// SCROLLPILOT_* env and bound flags as resolved by v. The result is
// validated; Sources lists the files that were read.
func LoadConfig(v *viper.Viper) (*Config, error) {
	cfg := Default()

	// Defaults go in viper's default layer, not Set: a YAML int must still
	// override a float default, and a YAML list a []string one
	defaults, err := flatten(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode defaults: %w", err)
	}
	registerDefaults(v, "", defaults)

	var sources []string
	for _, layer := range fileLayers(v) {
		read, err := mergeFile(v, layer)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", layer.path, err)
		}
		if read {
			sources = append(sources, layer.path)
		}
	}

	if err := v.Unmarshal(cfg, viperDecodeHook()); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Sources = sources

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// fileLayers lists the config files in merge order.
func fileLayers(v *viper.Viper) []fileLayer {
	var layers []fileLayer
	if dir := userConfigDir(); dir != "" {
		layers = append(layers, fileLayer{path: filepath.Join(dir, GlobalConfigDir, ConfigFileName), optional: true})
	}
	layers = append(layers, fileLayer{path: filepath.Join(ProjectConfigDir, ConfigFileName), optional: true})
	if explicit := v.GetString(explicitConfigKey); explicit != "" {
		layers = append(layers, fileLayer{path: explicit})
	}
	return layers
}

// userConfigDir honours XDG_CONFIG_HOME and falls back to ~/.config.
func userConfigDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config")
}

// mergeFile reads one YAML layer into v. It reports whether the file was
// read; a missing optional file is not an error.
func mergeFile(v *viper.Viper, layer fileLayer) (bool, error) {
	f, err := os.Open(layer.path)
	if err != nil {
		if layer.optional && errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	defer func() { _ = f.Close() }()

	fv := viper.New()
	fv.SetConfigType("yaml")
	if err := fv.ReadConfig(f); err != nil {
		return false, err
	}
	if err := v.MergeConfigMap(fv.AllSettings()); err != nil {
		return false, err
	}
	return true, nil
}

func viperDecodeHook() viper.DecoderConfigOption {
	return viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
}

// flatten encodes cfg into nested maps keyed by mapstructure tags, with
// durations rendered as strings so they round-trip through the decode
// hook.
func flatten(cfg *Config) (map[string]any, error) {
	out := make(map[string]any)
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:    "mapstructure",
		Result:     &out,
		DecodeHook: durationString,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(cfg); err != nil {
		return nil, err
	}
	return out, nil
}

// registerDefaults sets every leaf of m as a viper default under its
// dotted key.
func registerDefaults(v *viper.Viper, prefix string, m map[string]any) {
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok {
			registerDefaults(v, key, nested)
			continue
		}
		v.SetDefault(key, val)
	}
}

var durationType = reflect.TypeOf(time.Duration(0))

func durationString(from, _ reflect.Type, data any) (any, error) {
	if from != durationType {
		return data, nil
	}
	return data.(time.Duration).String(), nil
}
