// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/gomlx/shapeopt/pkg/support/fsutil"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"
)

const (
	// FlagsEnv is the environment variable with the configuration flags, see ParseFlags.
	FlagsEnv = "SHAPEOPT_FLAGS"

	// RCEnv is the environment variable with the colon-separated list of rc files, see LoadRCFiles.
	RCEnv = "SHAPEOPTRC"

	// DefaultRCFile is used when RCEnv is not set.
	DefaultRCFile = "~/.shapeoptrc.yaml"

	// SectionSeparator separates the section from the option in parameter names.
	SectionSeparator = "__"
)

// ParseFlags parses a comma-separated list of "name=value" settings. Values may be quoted (with
// single or double quotes) to include commas. Later settings of the same name override earlier ones.
// Entries without a "=" are ignored with a warning.
func ParseFlags(flags string) (map[string]string, error) {
	settings := make(map[string]string)
	var current strings.Builder
	var quote rune
	var entries []string
	for _, r := range flags {
		switch {
		case quote != 0 && r == quote:
			quote = 0
		case quote == 0 && (r == '"' || r == '\''):
			quote = r
		case quote == 0 && r == ',':
			entries = append(entries, current.String())
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	if quote != 0 {
		return nil, errors.Errorf("unterminated quote in configuration flags %q", flags)
	}
	entries = append(entries, current.String())
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		name, value, found := strings.Cut(e, "=")
		if !found {
			klog.Warningf("Configuration flag %q has no value, ignoring it", e)
			continue
		}
		settings[strings.TrimSpace(name)] = value
	}
	return settings, nil
}

// LoadRCFiles reads the YAML rc files, in order, and returns the settings found, flattened to
// "section__option" names. Settings in later files override earlier ones. Missing files are skipped.
//
// A top-level "global" section holds options without section.
func LoadRCFiles(paths ...string) (map[string]string, error) {
	settings := make(map[string]string)
	for _, path := range paths {
		exists, err := fsutil.FileExists(path)
		if err != nil {
			return nil, err
		}
		if !exists {
			klog.V(2).Infof("configuration rc file %q not found, skipping", path)
			continue
		}
		contents, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read configuration rc file %q", path)
		}
		var tree map[string]any
		if err = yaml.Unmarshal(contents, &tree); err != nil {
			return nil, errors.Wrapf(err, "failed to parse configuration rc file %q", path)
		}
		if global, ok := tree["global"].(map[string]any); ok {
			delete(tree, "global")
			flattenSettings("", global, settings)
		}
		flattenSettings("", tree, settings)
	}
	return settings, nil
}

// flattenSettings converts nested YAML mappings to "section__option" keys.
func flattenSettings(prefix string, tree map[string]any, settings map[string]string) {
	for key, value := range tree {
		name := key
		if prefix != "" {
			name = prefix + SectionSeparator + key
		}
		if subTree, ok := value.(map[string]any); ok {
			flattenSettings(name, subTree, settings)
			continue
		}
		if value == nil {
			settings[name] = ""
		} else {
			settings[name] = fmt.Sprint(value)
		}
	}
}

// FromEnv creates a configuration from the environment variables FlagsEnv and RCEnv.
func FromEnv() (*Config, error) {
	flags, err := ParseFlags(os.Getenv(FlagsEnv))
	if err != nil {
		return nil, errors.WithMessagef(err, "parsing $%s", FlagsEnv)
	}
	rcList, found := os.LookupEnv(RCEnv)
	if !found {
		rcList = DefaultRCFile
	}
	paths, err := fsutil.SplitPathList(rcList)
	if err != nil {
		return nil, errors.WithMessagef(err, "parsing $%s", RCEnv)
	}
	rc, err := LoadRCFiles(paths...)
	if err != nil {
		return nil, err
	}
	return New(flags, rc)
}
