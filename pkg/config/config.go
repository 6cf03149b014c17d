// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package config holds typed configuration parameters for shape tracking and rewriting.
//
// Each parameter has a name, a documentation string, a kind (bool, int, float, string or enum), a
// default value, an optional validation and may be immutable. Names can be grouped in sections with
// a double underscore: "rewrite__max_iterations" is option "max_iterations" of section "rewrite".
//
// The value of a parameter is resolved when it is added, with the following precedence:
//
//  1. The flags: a comma-separated list of "name=value" pairs, usually from the environment
//     variable SHAPEOPT_FLAGS (see ParseFlags).
//  2. The rc files: YAML files listed (colon-separated) in the environment variable SHAPEOPTRC, by
//     default "~/.shapeoptrc.yaml". Nested sections are flattened to "section__option", and files
//     later in the list take precedence (see LoadRCFiles).
//  3. The default value.
//
// Default returns the process-wide configuration, created from the environment on first use.
// Config objects are safe for concurrent use.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/shapeopt/pkg/support/xslices"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"k8s.io/klog/v2"
)

// Kind of a configuration parameter.
type Kind int

const (
	KindString Kind = iota
	KindBool
	KindInt
	KindFloat
	KindEnum
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindEnum:
		return "enum"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Param describes a configuration parameter. Create it with one of EnumParam, BoolParam, IntParam,
// FloatParam or StringParam and register it with Config.Add.
type Param struct {
	Name, Doc string
	Kind      Kind

	// Default value, of the Go type of the Kind: string (KindString and KindEnum), bool, int or float64.
	Default any

	// Choices are the valid values of a KindEnum parameter. The Default is always valid.
	Choices []string

	// Validate, if set, is called with every new value (already parsed to its Go type).
	Validate func(value any) error

	// Immutable parameters can't be changed after they are added.
	Immutable bool
}

// EnumParam creates a string parameter that only accepts the default or one of the options.
func EnumParam(name, doc, defaultValue string, options ...string) *Param {
	choices := []string{defaultValue}
	for _, o := range options {
		if !slices.Contains(choices, o) {
			choices = append(choices, o)
		}
	}
	return &Param{Name: name, Doc: doc, Kind: KindEnum, Default: defaultValue, Choices: choices}
}

// BoolParam creates a boolean parameter.
func BoolParam(name, doc string, defaultValue bool) *Param {
	return &Param{Name: name, Doc: doc, Kind: KindBool, Default: defaultValue}
}

// IntParam creates an integer parameter. validate, if not nil, returns whether a value is acceptable.
func IntParam(name, doc string, defaultValue int, validate func(int) bool) *Param {
	p := &Param{Name: name, Doc: doc, Kind: KindInt, Default: defaultValue}
	if validate != nil {
		p.Validate = func(value any) error {
			if !validate(value.(int)) {
				return errors.Errorf("invalid value %d", value)
			}
			return nil
		}
	}
	return p
}

// FloatParam creates a floating point parameter.
func FloatParam(name, doc string, defaultValue float64) *Param {
	return &Param{Name: name, Doc: doc, Kind: KindFloat, Default: defaultValue}
}

// StringParam creates a free-form string parameter.
func StringParam(name, doc, defaultValue string) *Param {
	return &Param{Name: name, Doc: doc, Kind: KindString, Default: defaultValue}
}

// AsImmutable marks the parameter as immutable and returns it.
func (p *Param) AsImmutable() *Param {
	p.Immutable = true
	return p
}

// parse converts the string representation of a value to the Go type of the parameter's Kind,
// and validates it.
func (p *Param) parse(str string) (any, error) {
	var value any
	switch p.Kind {
	case KindString:
		value = str
	case KindEnum:
		if !slices.Contains(p.Choices, str) {
			return nil, errors.Errorf("invalid value %q for configuration parameter %q, valid options are %q",
				str, p.Name, p.Choices)
		}
		value = str
	case KindBool:
		b, err := strconv.ParseBool(strings.TrimSpace(str))
		if err != nil {
			return nil, errors.Wrapf(err, "invalid value %q for bool configuration parameter %q", str, p.Name)
		}
		value = b
	case KindInt:
		i, err := strconv.Atoi(strings.ReplaceAll(strings.TrimSpace(str), "_", ""))
		if err != nil {
			return nil, errors.Wrapf(err, "invalid value %q for int configuration parameter %q", str, p.Name)
		}
		value = i
	case KindFloat:
		f, err := strconv.ParseFloat(strings.TrimSpace(str), 64)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid value %q for float configuration parameter %q", str, p.Name)
		}
		value = f
	default:
		return nil, errors.Errorf("configuration parameter %q has unknown kind %s", p.Name, p.Kind)
	}
	if err := p.validate(value); err != nil {
		return nil, err
	}
	return value, nil
}

func (p *Param) validate(value any) error {
	if p.Validate == nil {
		return nil
	}
	if err := p.Validate(value); err != nil {
		return errors.WithMessagef(err, "configuration parameter %q", p.Name)
	}
	return nil
}

// kindString describes the kind, listing the choices of enums.
func (p *Param) kindString() string {
	if p.Kind == KindEnum {
		return fmt.Sprintf("(%s: %s)", p.Kind, strings.Join(p.Choices, ", "))
	}
	return fmt.Sprintf("(%s)", p.Kind)
}

// entry is a registered parameter and its current value.
type entry struct {
	param     *Param
	value     any
	isDefault bool
}

// Config holds the registered parameters and their values.
type Config struct {
	mu      sync.Mutex
	entries map[string]*entry

	// flags not yet used by a parameter, and values from the rc files.
	flags, rc map[string]string
}

// New creates a configuration with the given flags and rc-file values, and registers the standard
// options (see options.go). Flags that don't match any standard option are kept for parameters
// added later.
func New(flags, rc map[string]string) (*Config, error) {
	c := &Config{
		entries: make(map[string]*entry),
		flags:   maps.Clone(flags),
		rc:      maps.Clone(rc),
	}
	if c.flags == nil {
		c.flags = make(map[string]string)
	}
	if c.rc == nil {
		c.rc = make(map[string]string)
	}
	if err := c.addStandardOptions(); err != nil {
		return nil, err
	}
	return c, nil
}

// Add registers a new parameter, resolving its value from the flags, rc files or its default.
func (c *Config) Add(p *Param) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p.Name == "" || strings.Contains(p.Name, ".") {
		return errors.Errorf("invalid configuration parameter name %q: use double underscores to separate sections", p.Name)
	}
	if _, found := c.entries[p.Name]; found {
		return errors.Errorf("configuration parameter %q already registered", p.Name)
	}
	defaultStr := fmt.Sprint(p.Default)
	defaultValue, err := p.parse(defaultStr)
	if err != nil {
		return errors.WithMessagef(err, "default value of %q", p.Name)
	}
	e := &entry{param: p, value: defaultValue, isDefault: true}
	str, found := c.flags[p.Name]
	if found {
		delete(c.flags, p.Name)
	} else {
		str, found = c.rc[p.Name]
	}
	if found {
		value, err := p.parse(str)
		if err != nil {
			return err
		}
		e.value, e.isDefault = value, false
	}
	c.entries[p.Name] = e
	return nil
}

// MustAdd is like Add, but panics on errors.
func (c *Config) MustAdd(p *Param) {
	if err := c.Add(p); err != nil {
		panic(err)
	}
}

// UnusedFlags returns the names, sorted, of the flags that didn't match any registered parameter.
func (c *Config) UnusedFlags() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return xslices.SortedKeys(c.flags)
}

// Has returns whether the parameter is registered.
func (c *Config) Has(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, found := c.entries[name]
	return found
}

// Get returns the current value of the parameter.
func (c *Config) Get(name string) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, found := c.entries[name]
	if !found {
		return nil, errors.Errorf("unknown configuration parameter %q", name)
	}
	return e.value, nil
}

// IsDefault returns whether the parameter still has its default value, that is, it was never set.
func (c *Config) IsDefault(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, found := c.entries[name]
	return found && e.isDefault
}

func getAs[T any](c *Config, name string) T {
	value, err := c.Get(name)
	if err != nil {
		panic(err)
	}
	typed, ok := value.(T)
	if !ok {
		exceptions.Panicf("configuration parameter %q has value %v of type %T, not %T", name, value, value, typed)
	}
	return typed
}

// GetString returns the value of a string or enum parameter. It panics if the parameter is unknown or
// of a different kind.
func (c *Config) GetString(name string) string { return getAs[string](c, name) }

// GetBool returns the value of a boolean parameter. It panics if the parameter is unknown or of a
// different kind.
func (c *Config) GetBool(name string) bool { return getAs[bool](c, name) }

// GetInt returns the value of an integer parameter. It panics if the parameter is unknown or of a
// different kind.
func (c *Config) GetInt(name string) int { return getAs[int](c, name) }

// GetFloat returns the value of a float parameter. It panics if the parameter is unknown or of a
// different kind.
func (c *Config) GetFloat(name string) float64 { return getAs[float64](c, name) }

// Set changes the value of a parameter, given in its string representation.
// It returns an error if the parameter is unknown, immutable, or the value is invalid.
func (c *Config) Set(name, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, found := c.entries[name]
	if !found {
		return errors.Errorf("unknown configuration parameter %q", name)
	}
	if e.param.Immutable {
		return errors.Errorf("can't change the value of configuration parameter %q after initialization", name)
	}
	parsed, err := e.param.parse(value)
	if err != nil {
		return err
	}
	e.value, e.isDefault = parsed, false
	return nil
}

// With temporarily sets the given parameters while fn runs, restoring the previous values when fn
// returns or panics. It returns an error, without calling fn, if any of the settings is invalid.
func (c *Config) With(settings map[string]string, fn func()) error {
	type saved struct {
		value     any
		isDefault bool
	}
	previous := make(map[string]saved, len(settings))
	c.mu.Lock()
	for name := range settings {
		if e, found := c.entries[name]; found {
			previous[name] = saved{e.value, e.isDefault}
		}
	}
	c.mu.Unlock()
	restore := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for name, s := range previous {
			c.entries[name].value, c.entries[name].isDefault = s.value, s.isDefault
		}
	}
	for _, name := range xslices.SortedKeys(settings) {
		if err := c.Set(name, settings[name]); err != nil {
			restore()
			return err
		}
	}
	defer restore()
	fn()
	return nil
}

// Hash returns a string that identifies the current values of all parameters: two configurations
// with different values have different hashes.
func (c *Config) Hash() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	lines := make([]string, 0, len(c.entries))
	for _, name := range xslices.SortedKeys(c.entries) {
		lines = append(lines, fmt.Sprintf("%s = %v", name, c.entries[name].value))
	}
	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return "m" + hex.EncodeToString(sum[:])
}

// String lists all parameters, with their documentation and current values.
func (c *Config) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var sb strings.Builder
	for _, name := range xslices.SortedKeys(c.entries) {
		e := c.entries[name]
		_, _ = fmt.Fprintf(&sb, "%s %s\n", name, e.param.kindString())
		_, _ = fmt.Fprintf(&sb, "    Doc:  %s\n", e.param.Doc)
		_, _ = fmt.Fprintf(&sb, "    Value:  %v\n\n", e.value)
	}
	return sb.String()
}

// Values returns the current values of all parameters, keyed by name.
func (c *Config) Values() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	values := make(map[string]any, len(c.entries))
	for name, e := range c.entries {
		values[name] = e.value
	}
	return values
}

var (
	defaultConfig     *Config
	defaultConfigOnce sync.Once
)

// Default returns the process-wide configuration, created with FromEnv the first time it is called.
// If the environment holds invalid settings, they are reported with klog.Errorf and the built-in
// defaults are used.
func Default() *Config {
	defaultConfigOnce.Do(func() {
		var err error
		defaultConfig, err = FromEnv()
		if err != nil {
			klog.Errorf("Invalid configuration in the environment, using defaults: %+v", err)
			defaultConfig, err = New(nil, nil)
			if err != nil {
				panic(err)
			}
		}
		for _, name := range defaultConfig.UnusedFlags() {
			klog.Warningf("Configuration flag %q in $%s doesn't match any parameter, it is ignored", name, FlagsEnv)
		}
	})
	return defaultConfig
}
