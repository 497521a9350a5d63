package config

import (
	"bytes"
	"encoding/json"
	"io"
	"path/filepath"
	"strings"

	"github.com/a8m/envsubst"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Read reads a config from the given file after expanding environment variables in it.
// Files ending in .yaml or .yml are parsed as YAML and everything else as JSON.
func Read(filePath string) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read config %q", filePath)
	}
	return FromReader(filePath, bytes.NewReader(buf))
}

// FromReader reads a config from the given reader and specifies
// where, if applicable, the file the reader originated from.
func FromReader(originalPath string, r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	fields := map[string]interface{}{}
	switch strings.ToLower(filepath.Ext(originalPath)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, &fields)
	default:
		err = json.Unmarshal(raw, &fields)
	}
	if err != nil {
		return nil, errors.Wrap(err, "cannot parse config")
	}

	cfg := &Config{}
	if err := decode(fields, cfg); err != nil {
		return nil, errors.Wrap(err, "cannot decode config")
	}
	cfg.ConfigFilePath = originalPath
	return processConfig(cfg)
}

// processConfig fills defaults and validates.
func processConfig(cfg *Config) (*Config, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(""); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(fields map[string]interface{}, out *Config) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           out,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
		),
	})
	if err != nil {
		return err
	}
	return decoder.Decode(fields)
}
