// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package cpap

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// ImportSettings tune an import run.
type ImportSettings struct {
	// ClockDrift is added to every vendor B timestamp.
	ClockDrift time.Duration `yaml:"clock_drift"`
	// LargeLeakThreshold in L/min above which large-leak events are synthesized.
	LargeLeakThreshold float64 `yaml:"large_leak_threshold"`
	// MinSessionDuration discards shorter vendor B mask-on spans.
	MinSessionDuration time.Duration `yaml:"min_session_duration"`
	// Workers is the number of days built concurrently.
	Workers int `yaml:"workers"`
	// Timezone is the IANA zone device-local timestamps are read in.
	Timezone  string `yaml:"timezone"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// DefaultSettings returns the settings used when none are supplied.
func DefaultSettings() *ImportSettings {
	return &ImportSettings{
		LargeLeakThreshold: 24,
		MinSessionDuration: time.Minute,
		Workers:            runtime.NumCPU(),
		Timezone:           "Local",
		LogLevel:           "info",
		LogFormat:          "json",
	}
}

// LoadSettings reads a YAML settings file. Keys absent from the file keep
// their defaults; unknown keys are an error.
func LoadSettings(path string) (*ImportSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading settings: %w", err)
	}

	s := DefaultSettings()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(s); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("error parsing settings %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings %s: %w", path, err)
	}
	return s, nil
}

// Validate checks every field is usable.
func (s *ImportSettings) Validate() error {
	if s.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", s.Workers)
	}
	if s.LargeLeakThreshold <= 0 {
		return fmt.Errorf("large_leak_threshold must be positive, got %g", s.LargeLeakThreshold)
	}
	if s.MinSessionDuration < 0 {
		return fmt.Errorf("min_session_duration must not be negative, got %s", s.MinSessionDuration)
	}
	if _, err := s.Location(); err != nil {
		return err
	}
	if _, err := zapcore.ParseLevel(s.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if s.LogFormat != "json" && s.LogFormat != "console" {
		return fmt.Errorf("log_format must be json or console, got %q", s.LogFormat)
	}
	return nil
}

// Location resolves Timezone. An empty zone is the local zone.
func (s *ImportSettings) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone: %w", err)
	}
	return loc, nil
}
