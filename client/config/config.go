// SPDX-FileCopyrightText: Copyright (C) 2026 mixcourier authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package config implements the configuration for the mixcourier client.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/mixcourier/mixcourier/core/pathspec"
)

const (
	defaultLogLevel          = "NOTICE"
	defaultForwardPath       = "~5"
	defaultReplyPath         = "~5"
	defaultSURBPath          = "~4"
	defaultSURBLifetime      = 7 * 24 * time.Hour
	defaultDirectoryTimeout  = 1 * time.Minute
	defaultConnectionTimeout = 2 * time.Minute
)

var defaultLogging = Logging{
	Disable: false,
	File:    "",
	Level:   defaultLogLevel,
}

// Duration is a duration literal of the form "FLOAT UNIT", where UNIT is
// one of second, minute, hour, day, week, month (30 days) or year (365
// days), with an optional plural 's'.
type Duration struct {
	time.Duration
}

var durationRe = regexp.MustCompile(`^\s*([0-9]+(?:\.[0-9]+)?)\s*(second|minute|hour|day|week|month|year)s?\s*$`)

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (d *Duration) UnmarshalText(text []byte) error {
	m := durationRe.FindStringSubmatch(strings.ToLower(string(text)))
	if m == nil {
		return fmt.Errorf("config: invalid duration literal '%s'", text)
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return fmt.Errorf("config: invalid duration literal '%s': %v", text, err)
	}
	var unit time.Duration
	switch m[2] {
	case "second":
		unit = time.Second
	case "minute":
		unit = time.Minute
	case "hour":
		unit = time.Hour
	case "day":
		unit = 24 * time.Hour
	case "week":
		unit = 7 * 24 * time.Hour
	case "month":
		unit = 30 * 24 * time.Hour
	case "year":
		unit = 365 * 24 * time.Hour
	}
	d.Duration = time.Duration(v * float64(unit))
	return nil
}

// Bool is a boolean literal accepting yes/y/1/true/on and no/n/0/false/off,
// case-insensitively.
type Bool bool

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (b *Bool) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "yes", "y", "1", "true", "on":
		*b = true
	case "no", "n", "0", "false", "off":
		*b = false
	default:
		return fmt.Errorf("config: invalid boolean literal '%s'", text)
	}
	return nil
}

// List is a comma separated list of names, with optional whitespace around
// each element.
type List []string

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (l *List) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		*l = nil
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			return fmt.Errorf("config: invalid list literal '%s': empty element", text)
		}
		out = append(out, p)
	}
	*l = out
	return nil
}

// Logging is the logging configuration.
type Logging struct {
	// Disable disables logging entirely.
	Disable bool

	// File specifies the log file, if omitted stdout will be used.
	File string

	// Level specifies the log level.
	Level string
}

func (lCfg *Logging) validate() error {
	lvl := strings.ToUpper(lCfg.Level)
	switch lvl {
	case "ERROR", "WARNING", "NOTICE", "INFO", "DEBUG":
	case "":
		lvl = defaultLogLevel
	default:
		return fmt.Errorf("config: Logging: Level '%v' is invalid", lCfg.Level)
	}
	lCfg.Level = lvl
	return nil
}

// Config is the top level mixcourier client configuration.
type Config struct {
	// DataDir is the absolute path to the client's state directory.
	DataDir string

	// ForwardPath is the path specification used for forward messages.
	ForwardPath string

	// ReplyPath is the path specification used when replying to a SURB.
	ReplyPath string

	// SURBPath is the path specification embedded into generated SURBs.
	SURBPath string

	// SURBLifetime is the requested validity period of generated SURBs.
	SURBLifetime Duration

	// BlockServers lists relays excluded from every random position.
	BlockServers List

	// BlockEntries lists relays excluded from random entry positions.
	BlockEntries List

	// BlockExits lists relays excluded from random exit positions.
	BlockExits List

	// DirectoryTimeout bounds a directory fetch, including retries.
	DirectoryTimeout Duration

	// ConnectionTimeout bounds dialing the first hop.
	ConnectionTimeout Duration

	// Logging is the logging configuration.
	Logging *Logging
}

func (c *Config) validatePathSpec(k, v string) error {
	if _, err := pathspec.Parse(v); err != nil {
		return fmt.Errorf("config: %s: %v", k, err)
	}
	return nil
}

// FixupAndValidate applies defaults to config entries and validates the
// configuration sections.
func (c *Config) FixupAndValidate() error {
	if c.DataDir == "" {
		return fmt.Errorf("config: DataDir is not set")
	}
	if !filepath.IsAbs(c.DataDir) {
		return fmt.Errorf("config: DataDir '%v' is not an absolute path", c.DataDir)
	}
	if c.ForwardPath == "" {
		c.ForwardPath = defaultForwardPath
	}
	if c.ReplyPath == "" {
		c.ReplyPath = defaultReplyPath
	}
	if c.SURBPath == "" {
		c.SURBPath = defaultSURBPath
	}
	for k, v := range map[string]string{
		"ForwardPath": c.ForwardPath,
		"ReplyPath":   c.ReplyPath,
		"SURBPath":    c.SURBPath,
	} {
		if err := c.validatePathSpec(k, v); err != nil {
			return err
		}
	}
	if c.SURBLifetime.Duration == 0 {
		c.SURBLifetime.Duration = defaultSURBLifetime
	}
	if c.SURBLifetime.Duration < 0 {
		return fmt.Errorf("config: SURBLifetime is negative")
	}
	if c.DirectoryTimeout.Duration == 0 {
		c.DirectoryTimeout.Duration = defaultDirectoryTimeout
	}
	if c.ConnectionTimeout.Duration == 0 {
		c.ConnectionTimeout.Duration = defaultConnectionTimeout
	}
	if c.Logging == nil {
		c.Logging = &defaultLogging
	}
	return c.Logging.validate()
}

// Load parses and validates the provided buffer b as a config file body and
// returns the Config.
func Load(b []byte) (*Config, error) {
	cfg := new(Config)
	md, err := toml.Decode(string(b), cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return nil, fmt.Errorf("config: Undecoded keys in config file: %v", undecoded)
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads, parses, and validates the provided file and returns the
// Config.
func LoadFile(f string) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return Load(b)
}
