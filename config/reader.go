package config

import (
	"bytes"
	"encoding/json"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/a8m/envsubst"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// Format is the encoding of a config file.
type Format int

// Supported formats.
const (
	FormatJSON Format = iota
	FormatTOML
)

// FormatForPath picks the format from the file extension, JSON unless it is .toml.
func FormatForPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatJSON
}

// Read reads and validates a config from the given file. Environment variables in the file are
// expanded first, so "${GITSIM_PORT}" or "${GITSIM_PORT:-/dev/ttyUSB0}" may stand for any value.
func Read(filePath string) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read config %s", filePath)
	}
	return FromReader(filePath, FormatForPath(filePath), bytes.NewReader(buf))
}

// FromReader reads and validates a config from the given reader and records where, if
// applicable, the file the reader originated from.
func FromReader(originalPath string, format Format, r io.Reader) (*Config, error) {
	raw := map[string]interface{}{}
	switch format {
	case FormatTOML:
		if _, err := toml.NewDecoder(r).Decode(&raw); err != nil {
			return nil, errors.Wrap(err, "failed to decode Config from toml")
		}
	case FormatJSON:
		if err := json.NewDecoder(r).Decode(&raw); err != nil {
			return nil, errors.Wrap(err, "failed to decode Config from json")
		}
	default:
		return nil, errors.Errorf("unknown config format %d", format)
	}

	conf := &Config{}
	var md mapstructure.Metadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           conf,
		Metadata:         &md,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, errors.Wrap(err, "failed to process Config")
	}
	if len(md.Unused) > 0 {
		sort.Strings(md.Unused)
		return nil, errors.Errorf("unknown config fields %v", md.Unused)
	}
	conf.ConfigFilePath = originalPath

	if err := conf.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	return conf, nil
}
