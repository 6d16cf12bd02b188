/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package config

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// ByteSize represents a size in bytes that can be parsed from JSON and YAML.
// This type is intended to be used in configuration structures
// and allows parsing both integers and human-readable strings (e.g. "42GB").
type ByteSize uint64

// UnmarshalJSON allows decoding from both integers and human-readable strings.
// Implements json.Unmarshaler interface.
func (b *ByteSize) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if num, err := strconv.ParseInt(s, 10, 64); err == nil {
		if num < 0 {
			return fmt.Errorf("negative value is not allowed: %d", num)
		}
		*b = ByteSize(num)
		return nil
	}
	bs, err := parseByteSizeFromString(s)
	if err != nil {
		return err
	}
	*b = bs
	return nil
}

// UnmarshalYAML allows decoding from YAML.
// Implements yaml.Unmarshaler interface.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	var num uint64
	if err := value.Decode(&num); err == nil {
		*b = ByteSize(num)
		return nil
	}
	var s string
	if err := value.Decode(&s); err == nil {
		bs, parseErr := parseByteSizeFromString(s)
		if parseErr != nil {
			return parseErr
		}
		*b = bs
		return nil
	}
	return fmt.Errorf("invalid byte size format: %v", value)
}

// UnmarshalText allows decoding from text.
// Implements encoding.TextUnmarshaler interface, which is used by mapstructure.TextUnmarshallerHookFunc.
func (b *ByteSize) UnmarshalText(text []byte) error {
	return b.UnmarshalJSON(text)
}

// String returns the human-readable string representation.
// Implements fmt.Stringer interface.
func (b ByteSize) String() string {
	return bytefmt.ByteSize(uint64(b))
}

// MarshalJSON encodes as a human-readable string in JSON.
func (b ByteSize) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.String())
}

// MarshalYAML encodes as a human-readable string in YAML.
func (b ByteSize) MarshalYAML() (interface{}, error) {
	return b.String(), nil
}

// MarshalText encodes as a human-readable string in text.
func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

func parseByteSizeFromString(s string) (ByteSize, error) {
	v := strings.TrimSpace(s)
	// Handle k8s power-of-two values.
	for _, k8sByteSuffix := range [...]string{"Ki", "Mi", "Gi", "Ti", "Pi", "Ei"} {
		if strings.HasSuffix(v, k8sByteSuffix) {
			v = v[:len(v)-1]
			break
		}
	}
	num, err := bytefmt.ToBytes(v)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size format (%s): %w", s, err)
	}
	return ByteSize(num), nil
}

// TimeDuration represents a time duration that can be parsed from JSON and YAML.
// This type is intended to be used in configuration structures
// and allows parsing both integers (nanoseconds) and human-readable strings (e.g. "1h30m").
type TimeDuration time.Duration

// UnmarshalJSON allows decoding from JSON and supports both integers (nanoseconds) and human-readable strings.
// Implements json.Unmarshaler interface.
func (d *TimeDuration) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if num, err := strconv.ParseInt(s, 10, 64); err == nil {
		if num < 0 {
			return fmt.Errorf("negative value is not allowed: %d", num)
		}
		*d = TimeDuration(num)
		return nil
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid time duration format (%s): %w", s, err)
	}
	*d = TimeDuration(dur)
	return nil
}

// UnmarshalYAML allows decoding from YAML and supports both integers (nanoseconds) and human-readable strings.
// Implements yaml.Unmarshaler interface.
func (d *TimeDuration) UnmarshalYAML(value *yaml.Node) error {
	var num int64
	if err := value.Decode(&num); err == nil {
		if num < 0 {
			return fmt.Errorf("negative value is not allowed: %d", num)
		}
		*d = TimeDuration(num)
		return nil
	}
	var raw string
	if err := value.Decode(&raw); err == nil {
		dur, parseErr := time.ParseDuration(raw)
		if parseErr != nil {
			return fmt.Errorf("invalid time duration format (%s): %w", raw, parseErr)
		}
		*d = TimeDuration(dur)
		return nil
	}
	return fmt.Errorf("invalid time duration format: %v", value)
}

// UnmarshalText allows decoding from text.
// Implements encoding.TextUnmarshaler interface, which is used by mapstructure.TextUnmarshallerHookFunc.
func (d *TimeDuration) UnmarshalText(text []byte) error {
	return d.UnmarshalJSON(text)
}

// String returns the human-readable string representation.
// Implements fmt.Stringer interface.
func (d TimeDuration) String() string {
	return time.Duration(d).String()
}

// MarshalJSON encodes as a human-readable string in JSON.
func (d TimeDuration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// MarshalYAML encodes as a human-readable string in YAML.
func (d TimeDuration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// MarshalText encodes as a human-readable string in text.
func (d TimeDuration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Percent represents a percentage on a 0-100 scale that can be parsed from JSON and YAML.
// Both numbers (60, 60.5) and strings with an optional "%" suffix ("60", "60.5%") are supported.
type Percent float64

// UnmarshalJSON allows decoding from both numbers and strings with an optional "%" suffix.
// Implements json.Unmarshaler interface.
func (p *Percent) UnmarshalJSON(data []byte) error {
	return p.parse(strings.Trim(string(data), `"`))
}

// UnmarshalYAML allows decoding from both numbers and strings with an optional "%" suffix.
// Implements yaml.Unmarshaler interface.
func (p *Percent) UnmarshalYAML(value *yaml.Node) error {
	var raw interface{}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	s, err := cast.ToStringE(raw)
	if err != nil {
		return fmt.Errorf("invalid percent format: %v", raw)
	}
	return p.parse(s)
}

// UnmarshalText allows decoding from text.
// Implements encoding.TextUnmarshaler interface, which is used by mapstructure.TextUnmarshallerHookFunc.
func (p *Percent) UnmarshalText(text []byte) error {
	return p.parse(string(text))
}

func (p *Percent) parse(s string) error {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	val, err := cast.ToFloat64E(s)
	if err != nil {
		return fmt.Errorf("invalid percent format (%s): %w", s, err)
	}
	if val < 0 || val > 100 {
		return fmt.Errorf("percent should be in range [0, 100], got %v", val)
	}
	*p = Percent(val)
	return nil
}

// String returns the human-readable string representation.
// Implements fmt.Stringer interface.
func (p Percent) String() string {
	return strconv.FormatFloat(float64(p), 'f', -1, 64) + "%"
}

// MarshalJSON encodes as a plain number in JSON.
func (p Percent) MarshalJSON() ([]byte, error) {
	return json.Marshal(float64(p))
}

// MarshalYAML encodes as a plain number in YAML.
func (p Percent) MarshalYAML() (interface{}, error) {
	return float64(p), nil
}

// MarshalText encodes as a human-readable string in text.
func (p Percent) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// RateLimitValue represents a frequency of requests, e.g. "100/m".
type RateLimitValue struct {
	Count    int
	Duration time.Duration
}

// String returns a string representation of the rate limit value.
// Implements fmt.Stringer interface.
func (rl RateLimitValue) String() string {
	if rl.Duration == 0 && rl.Count == 0 {
		return ""
	}
	var d string
	switch rl.Duration {
	case time.Second:
		d = "s"
	case time.Minute:
		d = "m"
	case time.Hour:
		d = "h"
	default:
		d = rl.Duration.String()
	}
	return fmt.Sprintf("%d/%s", rl.Count, d)
}

// UnmarshalText implements the encoding.TextUnmarshaler interface
// which is used by mapstructure.TextUnmarshallerHookFunc.
func (rl *RateLimitValue) UnmarshalText(text []byte) error {
	return rl.unmarshal(string(text))
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (rl *RateLimitValue) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return err
	}
	return rl.unmarshal(text)
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (rl *RateLimitValue) UnmarshalYAML(value *yaml.Node) error {
	var text string
	if err := value.Decode(&text); err != nil {
		return err
	}
	return rl.unmarshal(text)
}

func (rl *RateLimitValue) unmarshal(rate string) error {
	if rate == "" {
		*rl = RateLimitValue{}
		return nil
	}
	incorrectFormatErr := fmt.Errorf(
		"incorrect format for rate %q, should be N/(s|m|h), for example 10/s, 100/m, 1000/h", rate)
	parts := strings.SplitN(rate, "/", 2)
	if len(parts) != 2 {
		return incorrectFormatErr
	}
	count, err := strconv.Atoi(parts[0])
	if err != nil {
		return incorrectFormatErr
	}
	var dur time.Duration
	switch strings.ToLower(parts[1]) {
	case "s":
		dur = time.Second
	case "m":
		dur = time.Minute
	case "h":
		dur = time.Hour
	default:
		return incorrectFormatErr
	}
	*rl = RateLimitValue{Count: count, Duration: dur}
	return nil
}

// MarshalText implements the encoding.TextMarshaler interface.
func (rl RateLimitValue) MarshalText() ([]byte, error) {
	return []byte(rl.String()), nil
}

// MarshalJSON implements the json.Marshaler interface.
func (rl RateLimitValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(rl.String())
}

// MarshalYAML implements the yaml.Marshaler interface.
func (rl RateLimitValue) MarshalYAML() (interface{}, error) {
	return rl.String(), nil
}

func mapstructureNumberToPercentHookFunc() mapstructure.DecodeHookFunc {
	return func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		if t != reflect.TypeOf(Percent(0)) {
			return data, nil
		}
		switch f.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
			reflect.Float32, reflect.Float64:
			var p Percent
			if err := p.parse(cast.ToString(data)); err != nil {
				return nil, err
			}
			return p, nil
		default:
			return data, nil
		}
	}
}

// MapstructureDecodeHook returns a DecodeHookFunc for mapstructure to handle the package's custom types.
func MapstructureDecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructureNumberToPercentHookFunc(),
		mapstructure.TextUnmarshallerHookFunc(),
	)
}
