// Copyright (c) The claimr-go Authors.
// Licensed under the MIT License.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/claimr-tools/claimr-go/errors"
	"gopkg.in/yaml.v3"
)

// Load reads the configuration at path over the defaults, applies environment
// overrides and validates the result. A missing file (or an empty path)
// yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, &errors.Error{
				Message:       "could not read configuration",
				Kind:          errors.ConfigurationInvalid,
				NestedError:   err,
				PropertyName:  "path",
				PropertyValue: path,
			}
		default:
			if err := Decode(data, Format(path), cfg); err != nil {
				return nil, err
			}
		}
	}

	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Format returns the file format implied by the path's extension, or "" if
// it has to be detected from the content.
func Format(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return "toml"
	case ".yaml", ".yml":
		return "yaml"
	case ".json":
		return "json"
	default:
		return ""
	}
}

// Decode decodes data in the given format onto cfg. An empty format is
// detected from the content.
func Decode(data []byte, format string, cfg *Config) error {
	if format == "" {
		format = detect(data)
	}

	var err error
	switch format {
	case "toml":
		var md toml.MetaData
		md, err = toml.Decode(string(data), cfg)
		if keys := md.Undecoded(); err == nil && len(keys) > 0 {
			err = fmt.Errorf("unknown keys %v", keys)
		}
	case "yaml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err = dec.Decode(cfg); err == io.EOF {
			err = nil
		}
	case "json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(cfg)
	default:
		return &errors.Error{
			Message:       "unknown configuration format",
			Kind:          errors.ConfigurationInvalid,
			PropertyName:  "format",
			PropertyValue: format,
		}
	}

	if err != nil {
		return &errors.Error{
			Message:       "could not decode configuration: " + err.Error(),
			Kind:          errors.ConfigurationInvalid,
			NestedError:   err,
			PropertyName:  "format",
			PropertyValue: format,
		}
	}
	return nil
}

func detect(data []byte) string {
	trimmed := bytes.TrimSpace(data)
	if bytes.HasPrefix(trimmed, []byte("{")) {
		return "json"
	}
	var probe map[string]any
	if _, err := toml.Decode(string(data), &probe); err == nil {
		return "toml"
	}
	return "yaml"
}
