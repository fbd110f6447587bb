package config

import (
	"io"
	"os"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"github.com/yosuke-furukawa/json5/encoding/json5"
	"go.viam.com/utils"
)

// Read reads a JSON5 configuration file. Missing fields keep their Default value.
func Read(path string) (Config, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "cannot open config %q", path)
	}
	defer utils.UncheckedErrorFunc(f.Close)
	cfg, err := FromReader(f)
	if err != nil {
		return Config{}, errors.Wrapf(err, "config %q", path)
	}
	return cfg, nil
}

// FromReader decodes and validates a JSON5 configuration. Unknown keys are errors.
func FromReader(r io.Reader) (Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Config{}, err
	}
	var raw map[string]interface{}
	if err := json5.Unmarshal(data, &raw); err != nil {
		return Config{}, errors.Wrap(err, "cannot parse config")
	}
	cfg, err := FromMap(raw)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromMap overlays raw onto Default without validating the result.
func FromMap(raw map[string]interface{}) (Config, error) {
	cfg := Default()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           &cfg,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return Config{}, err
	}
	if err := decoder.Decode(raw); err != nil {
		return Config{}, errors.Wrap(err, "cannot decode config")
	}
	return cfg, nil
}
