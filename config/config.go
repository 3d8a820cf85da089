// Package config provides loading for room lifecycle options from YAML,
// TOML and environment variables, with live reload of tunables.
package config

import (
	"encoding"
	"errors"
	"fmt"
	"time"
)

// Static errors for the config package
var (
	ErrUnsupportedFormat      = errors.New("unsupported config file format")
	ErrOptionsNil             = errors.New("options cannot be nil")
	ErrInvalidTimeout         = errors.New("transient detach timeout must be positive")
	ErrWatcherAlreadyStarted  = errors.New("config watcher already started")
	ErrWatcherNotStarted      = errors.New("config watcher not started")
	ErrEnvInvalidStructure    = errors.New("env: options must be a non-nil struct pointer")
	ErrEnvUnsupportedField    = errors.New("env: unsupported field type")
	ErrDurationInvalidLiteral = errors.New("invalid duration literal")
)

// Duration wraps time.Duration so option files can use human-readable
// literals like "5s" or "250ms".
type Duration time.Duration

var (
	_ encoding.TextUnmarshaler = (*Duration)(nil)
	_ encoding.TextMarshaler   = Duration(0)
)

// UnmarshalText parses a duration literal. Used by the TOML decoder, the
// env feeder, and UnmarshalYAML.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("%w %q: %w", ErrDurationInvalidLiteral, string(text), err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText renders the duration literal.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalYAML parses a duration literal from a YAML scalar.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var literal string
	if err := unmarshal(&literal); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(literal))
}

// AsDuration returns the wrapped time.Duration.
func (d Duration) AsDuration() time.Duration {
	return time.Duration(d)
}

// Options holds the tunable configuration of a room lifecycle manager.
type Options struct {
	// RoomID identifies the room in logs, events and metrics.
	RoomID string `yaml:"roomId" toml:"room_id" env:"ROOMKIT_ROOM_ID"`

	// TransientDetachTimeout is the grace period a detached channel gets to
	// re-attach before the detachment surfaces to the room lifecycle.
	TransientDetachTimeout Duration `yaml:"transientDetachTimeout" toml:"transient_detach_timeout" env:"ROOMKIT_TRANSIENT_DETACH_TIMEOUT"`

	// EmitEvents controls whether lifecycle transitions are published as
	// CloudEvents.
	EmitEvents bool `yaml:"emitEvents" toml:"emit_events" env:"ROOMKIT_EMIT_EVENTS"`

	// MetricsNamespace prefixes the Prometheus metric names. Empty leaves
	// them un-prefixed.
	MetricsNamespace string `yaml:"metricsNamespace" toml:"metrics_namespace" env:"ROOMKIT_METRICS_NAMESPACE"`
}

// DefaultOptions returns the options applied when no configuration is
// provided.
func DefaultOptions() Options {
	return Options{
		RoomID:                 "room",
		TransientDetachTimeout: Duration(5 * time.Second),
		EmitEvents:             true,
	}
}

// Validate checks the options for consistency.
func (o *Options) Validate() error {
	if o == nil {
		return ErrOptionsNil
	}
	if o.TransientDetachTimeout <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidTimeout, o.TransientDetachTimeout.AsDuration())
	}
	return nil
}
