// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package cpap_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/OpenPSG/cpap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func writeSettings(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultSettings(t *testing.T) {
	s := cpap.DefaultSettings()
	require.NoError(t, s.Validate())

	assert.Equal(t, 24.0, s.LargeLeakThreshold)
	assert.Equal(t, time.Minute, s.MinSessionDuration)
	assert.Zero(t, s.ClockDrift)
	assert.GreaterOrEqual(t, s.Workers, 1)

	loc, err := s.Location()
	require.NoError(t, err)
	assert.Equal(t, time.Local, loc)
}

func TestLoadSettings(t *testing.T) {
	path := writeSettings(t, `
clock_drift: -90s
large_leak_threshold: 30
workers: 2
timezone: UTC
log_format: console
`)

	s, err := cpap.LoadSettings(path)
	require.NoError(t, err)

	assert.Equal(t, -90*time.Second, s.ClockDrift)
	assert.Equal(t, 30.0, s.LargeLeakThreshold)
	assert.Equal(t, 2, s.Workers)
	assert.Equal(t, "console", s.LogFormat)
	assert.Equal(t, time.Minute, s.MinSessionDuration, "absent keys keep their defaults")
	assert.Equal(t, "info", s.LogLevel)

	loc, err := s.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)
}

func TestLoadSettingsEmptyFile(t *testing.T) {
	s, err := cpap.LoadSettings(writeSettings(t, ""))
	require.NoError(t, err)
	assert.Equal(t, cpap.DefaultSettings(), s)
}

func TestLoadSettingsRejects(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"UnknownKey", "clock_skew: 1s\n"},
		{"Workers", "workers: 0\n"},
		{"Threshold", "large_leak_threshold: -1\n"},
		{"MinSessionDuration", "min_session_duration: -1m\n"},
		{"Timezone", "timezone: Mars/Olympus_Mons\n"},
		{"LogLevel", "log_level: chatty\n"},
		{"LogFormat", "log_format: xml\n"},
		{"Duration", "clock_drift: soon\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := cpap.LoadSettings(writeSettings(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadSettingsMissingFile(t *testing.T) {
	_, err := cpap.LoadSettings(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestNewLogger(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		t.Run(format, func(t *testing.T) {
			logger, err := cpap.NewLogger("warn", format)
			require.NoError(t, err)
			assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
			assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))
		})
	}

	_, err := cpap.NewLogger("chatty", "json")
	assert.Error(t, err)

	_, err = cpap.NewLogger("info", "xml")
	assert.Error(t, err)
}
