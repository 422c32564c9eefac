package opt

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

///////////////////////////////////////////////////////////////////////////////
// TYPES

// A generic option type, which can set options on a session or request
type Opt func(*Options) error

// Options is the set of applied options. String-typed values live in the
// url.Values bag; structured values (tool descriptors, schemas) live in the
// side map, keyed the same way.
type Options struct {
	url.Values
	values map[string]any
}

///////////////////////////////////////////////////////////////////////////////
// GLOBALS

// Well-known option keys shared between the session and the providers
const (
	ModelKey            = "model"
	SystemPromptKey     = "system"
	MaxTokensKey        = "max_tokens"
	TemperatureKey      = "temperature"
	StopSequencesKey    = "stop_sequences"
	ToolsKey            = "tools"             // []schema.ToolDefinition
	StructuredOutputKey = "structured_output" // *jsonschema.Schema
	AllowedToolsKey     = "allowed_tools"
	MaxIterationsKey    = "max_iterations"
)

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// Apply returns a structure of applied options
func Apply(o ...Opt) (*Options, error) {
	opts := &Options{Values: make(url.Values)}
	for _, opt := range o {
		if err := opt(opts); err != nil {
			return nil, err
		}
	}
	return opts, nil
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// GetString returns the trimmed value for key, or empty string if not set
func (o *Options) GetString(key string) string {
	if values, ok := o.Values[key]; ok && len(values) > 0 {
		return strings.TrimSpace(values[0])
	}
	return ""
}

// GetStringArray returns all values for key, each trimmed
func (o *Options) GetStringArray(key string) []string {
	values, ok := o.Values[key]
	if !ok {
		return nil
	}
	result := make([]string, len(values))
	for i, v := range values {
		result[i] = strings.TrimSpace(v)
	}
	return result
}

// GetBool returns true if key is present, false if absent
func (o *Options) GetBool(key string) bool {
	if _, ok := o.Values[key]; ok {
		return true
	}
	_, ok := o.values[key]
	return ok
}

// GetFloat64 returns the float64 value for key, or 0 if not set or invalid
func (o *Options) GetFloat64(key string) float64 {
	if values, ok := o.Values[key]; ok && len(values) > 0 {
		if v, err := strconv.ParseFloat(strings.TrimSpace(values[0]), 64); err == nil {
			return v
		}
	}
	return 0
}

// GetUint returns the uint value for key, or 0 if not set or invalid
func (o *Options) GetUint(key string) uint {
	if values, ok := o.Values[key]; ok && len(values) > 0 {
		if v, err := strconv.ParseUint(strings.TrimSpace(values[0]), 10, 64); err == nil {
			return uint(v)
		}
	}
	return 0
}

// Get returns the structured value for key, or nil if not set
func (o *Options) Get(key string) any {
	if o.values == nil {
		return nil
	}
	return o.values[key]
}

// Has returns true if the key exists in either bag
func (o *Options) Has(key string) bool {
	if _, ok := o.Values[key]; ok {
		return true
	}
	_, ok := o.values[key]
	return ok
}

////////////////////////////////////////////////////////////////////////////////
// OPTIONS

// Error returns an option that always returns an error
func Error(err error) Opt {
	return func(o *Options) error {
		return err
	}
}

// WithOpts combines multiple options into a single option
func WithOpts(options ...Opt) Opt {
	return func(o *Options) error {
		for _, opt := range options {
			if err := opt(o); err != nil {
				return err
			}
		}
		return nil
	}
}

// SetString sets a single string value for key, replacing any existing value
func SetString(key, value string) Opt {
	return func(o *Options) error {
		o.Values.Set(key, value)
		return nil
	}
}

// AddString appends string values for key
func AddString(key string, value ...string) Opt {
	return func(o *Options) error {
		for _, v := range value {
			o.Values.Add(key, v)
		}
		return nil
	}
}

// SetUint sets a single uint value for key
func SetUint(key string, value uint) Opt {
	return func(o *Options) error {
		o.Values.Set(key, strconv.FormatUint(uint64(value), 10))
		return nil
	}
}

// SetFloat64 sets a single float64 value for key
func SetFloat64(key string, value float64) Opt {
	return func(o *Options) error {
		o.Values.Set(key, strconv.FormatFloat(value, 'f', -1, 64))
		return nil
	}
}

// SetBool sets a boolean flag for key when value is true
func SetBool(key string, value bool) Opt {
	return func(o *Options) error {
		if value {
			o.Values.Set(key, "true")
		} else {
			o.Values.Del(key)
		}
		return nil
	}
}

// SetAny sets a structured value for key, replacing any existing value
func SetAny(key string, value any) Opt {
	return func(o *Options) error {
		if value == nil {
			return fmt.Errorf("nil value for option %q", key)
		}
		if o.values == nil {
			o.values = make(map[string]any)
		}
		o.values[key] = value
		return nil
	}
}
