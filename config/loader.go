package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/golobby/cast"
	"gopkg.in/yaml.v3"
)

// LoadFile reads options from a YAML or TOML file, chosen by extension,
// starting from the defaults. Fields absent from the file keep their
// default values.
func LoadFile(path string) (Options, error) {
	options := DefaultOptions()

	data, err := os.ReadFile(path)
	if err != nil {
		return options, fmt.Errorf("failed to read config file: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &options); err != nil {
			return options, fmt.Errorf("failed to parse yaml config: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &options); err != nil {
			return options, fmt.Errorf("failed to parse toml config: %w", err)
		}
	default:
		return options, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}

	if err := options.Validate(); err != nil {
		return options, err
	}
	return options, nil
}

// FeedEnv overlays environment variables onto the options. Fields carry an
// `env` tag naming their variable; unset variables leave the field
// untouched. Values are converted to the field's type, with
// encoding.TextUnmarshaler fields fed the literal directly.
func FeedEnv(options *Options) error {
	if options == nil {
		return ErrOptionsNil
	}

	value := reflect.ValueOf(options).Elem()
	structType := value.Type()

	for i := 0; i < structType.NumField(); i++ {
		field := structType.Field(i)
		name := field.Tag.Get("env")
		if name == "" {
			continue
		}
		raw, ok := os.LookupEnv(name)
		if !ok {
			continue
		}

		target := value.Field(i)
		if !target.CanSet() {
			return fmt.Errorf("%w: %s", ErrEnvUnsupportedField, field.Name)
		}

		if unmarshaler, ok := target.Addr().Interface().(interface{ UnmarshalText([]byte) error }); ok {
			if err := unmarshaler.UnmarshalText([]byte(raw)); err != nil {
				return fmt.Errorf("env %s: %w", name, err)
			}
			continue
		}

		converted, err := cast.FromType(raw, field.Type)
		if err != nil {
			return fmt.Errorf("env %s: cannot convert value to type %v: %w", name, field.Type, err)
		}
		target.Set(reflect.ValueOf(converted))
	}

	return options.Validate()
}

// Load combines the sources in priority order: defaults, then the optional
// file, then the environment.
func Load(path string) (Options, error) {
	var options Options
	var err error

	if path != "" {
		options, err = LoadFile(path)
		if err != nil {
			return options, err
		}
	} else {
		options = DefaultOptions()
	}

	if err := FeedEnv(&options); err != nil {
		return options, err
	}
	return options, nil
}
