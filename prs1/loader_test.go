// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package prs1_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/OpenPSG/cpap/internal/fixture"
	"github.com/OpenPSG/cpap/model"
	"github.com/OpenPSG/cpap/prs1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestParseProperties(t *testing.T) {
	props, err := prs1.ParseProperties(strings.NewReader(
		"# comment\nFamily=0\nFamilyVersion=4\nDataFormatVersion=2\nModelNumber=560P\nSerialNumber=P1234567\nExtra = value\n"))
	require.NoError(t, err)

	assert.Equal(t, "560P", props.ModelNumber)
	assert.Equal(t, "value", props.Values["Extra"])
	assert.Equal(t, model.MachineInfo{
		Vendor:      "Philips Respironics",
		Model:       "560P",
		ProductName: "REMstar Pro (System One 60 Series)",
		Serial:      "P1234567",
	}, props.Machine())
}

func TestParsePropertiesRejects(t *testing.T) {
	tests := []struct {
		name  string
		input string
		err   error
	}{
		{"MissingKey", "Family=0\nFamilyVersion=4\nDataFormatVersion=2\nModelNumber=560P\n", prs1.ErrMissingProperty},
		{"Family", "Family=3\nFamilyVersion=4\nDataFormatVersion=2\nModelNumber=560P\nSerialNumber=P1\n", prs1.ErrUnsupportedMachine},
		{"FamilyVersion", "Family=0\nFamilyVersion=3\nDataFormatVersion=2\nModelNumber=560P\nSerialNumber=P1\n", prs1.ErrUnsupportedMachine},
		{"DataFormat", "Family=0\nFamilyVersion=4\nDataFormatVersion=3\nModelNumber=560P\nSerialNumber=P1\n", prs1.ErrUnsupportedFormatVersion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := prs1.ParseProperties(strings.NewReader(tt.input))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

// writeSession writes a one-hour session with an obstructive apnea and a
// hypopnea 10 and 20 minutes in, and pressure points at both ends.
func writeSession(t *testing.T, card *fixture.PRS1Card, number uint32, start time.Time) {
	t.Helper()

	card.WriteFile(t, number, prs1.ExtSummary, fixture.Chunk(number, prs1.ExtSummary, start,
		fixture.EquipmentOn(0, apap),
		fixture.MaskOn(0),
		fixture.MaskOff(3600),
		fixture.EquipmentOff(0),
	))
	card.WriteFile(t, number, prs1.ExtEvents, fixture.Chunk(number, prs1.ExtEvents, start,
		fixture.Record{Code: prs1.EventPressure, Operands: []byte{60}},
		fixture.Elapsed(prs1.EventObstructiveApnea, 600, 0),
		fixture.Elapsed(prs1.EventHypopnea, 600, 0),
		fixture.Record{Code: prs1.EventPressure, Delta: 2400, Operands: []byte{90}},
	))
}

func TestLoaderThreeSessionsOneDay(t *testing.T) {
	card := fixture.NewPRS1Card(t, "660P", "P7654321")
	for i, number := range []uint32{101, 102, 103} {
		writeSession(t, card, number, t0.Add(time.Duration(i)*70*time.Minute))
	}
	card.WriteFile(t, 101, prs1.ExtWaveform,
		fixture.WaveformChunk(101, t0, prs1.BaseRate, fixture.Samples(3600*prs1.BaseRate, 4)))

	require.True(t, prs1.Detect(card.Root))

	src, err := prs1.NewLoader(zaptest.NewLogger(t), time.UTC).Open(card.Root, model.DateRange{})
	require.NoError(t, err)
	assert.Empty(t, src.Failures())
	assert.Equal(t, "P7654321", src.Machine().Serial)

	require.Len(t, src.Dates(), 1)
	date := src.Dates()[0]
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), date)

	res := src.BuildDay(date)
	require.NoError(t, res.Err)
	require.Empty(t, res.Discarded)
	day := res.Day
	require.NotNil(t, day)

	require.Len(t, day.Sessions, 3)
	assert.Equal(t, []string{"101", "102", "103"}, []string{day.Sessions[0].ID, day.Sessions[1].ID, day.Sessions[2].ID})
	assert.Equal(t, "P7654321", day.Machine.Serial)
	assert.Equal(t, model.ModeAPAP, day.Settings.Mode)

	require.Len(t, day.Events, 6)
	for i, e := range day.Events {
		session := time.Duration(i/2) * 70 * time.Minute
		offset := time.Duration(i%2+1) * 10 * time.Minute
		assert.WithinDuration(t, t0.Add(session+offset), e.Start, 0, "event %d", i)
	}
	assert.Equal(t, model.EventObstructiveApnea, day.Events[0].Type)
	assert.Equal(t, model.EventHypopnea, day.Events[1].Type)

	for _, s := range day.Sessions {
		pressure := s.Signal(model.SignalPressure)
		require.NotNil(t, pressure, "session %s", s.ID)
		assert.Equal(t, s.Start, pressure.Start)
		assert.Len(t, pressure.Samples, 3600)
		assert.InDelta(t, 6.0, pressure.Samples[0], 1e-9)
		assert.InDelta(t, 6.0+3.0*3599/3600, pressure.Samples[3599], 1e-9)
	}

	flow := day.SignalByName(model.SignalFlowRate)
	require.Len(t, flow, 1)
	assert.Len(t, flow[0].Samples, 3600*prs1.BaseRate*prs1.Upsample)
	assert.WithinDuration(t, t0, day.Start, 0)
	assert.WithinDuration(t, t0.Add(140*time.Minute+time.Hour), day.End, 0)
}

func TestLoaderDiscardsCorruptSession(t *testing.T) {
	card := fixture.NewPRS1Card(t, "660P", "P7654321")
	writeSession(t, card, 101, t0)
	writeSession(t, card, 102, t0.Add(70*time.Minute))

	path := filepath.Join(card.Root, "P-Series", "P2", "0000000102.002")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-3] ^= 0x01
	require.NoError(t, os.WriteFile(path, data, 0o644))

	src, err := prs1.NewLoader(zaptest.NewLogger(t), time.UTC).Open(card.Root, model.DateRange{})
	require.NoError(t, err)
	require.Len(t, src.Dates(), 1)

	res := src.BuildDay(src.Dates()[0])
	require.NotNil(t, res.Day)
	require.Len(t, res.Day.Sessions, 1)
	assert.Equal(t, "101", res.Day.Sessions[0].ID)

	require.Len(t, res.Discarded, 1)
	assert.Equal(t, model.KindChecksum, res.Discarded[0].Kind)
	assert.Equal(t, "102", res.Discarded[0].Session)
	assert.ErrorIs(t, res.Discarded[0], prs1.ErrCorruptBlock)
}

func TestLoaderSummaryFailures(t *testing.T) {
	card := fixture.NewPRS1Card(t, "660P", "P7654321")
	writeSession(t, card, 101, t0)
	card.WriteFile(t, 102, prs1.ExtSummary, fixture.Chunk(102, prs1.ExtSummary, t0.Add(2*time.Hour),
		fixture.EquipmentOn(0, apap), fixture.MaskOff(10)))

	src, err := prs1.NewLoader(zaptest.NewLogger(t), time.UTC).Open(card.Root, model.DateRange{})
	require.NoError(t, err)

	require.Len(t, src.Failures(), 1)
	assert.Equal(t, model.KindInvariant, src.Failures()[0].Kind)
	assert.ErrorIs(t, src.Failures()[0], prs1.ErrMaskSequence)
}

func TestLoaderFatalErrors(t *testing.T) {
	t.Run("MissingProperties", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(root, "P-Series"), 0o755))

		_, err := prs1.NewLoader(nil, time.UTC).Open(root, model.DateRange{})
		var ie *model.ImportError
		require.True(t, errors.As(err, &ie))
		assert.Equal(t, model.KindStructural, ie.Kind)
		assert.ErrorIs(t, err, prs1.ErrMissingFile)
	})

	t.Run("Version3Chunk", func(t *testing.T) {
		card := fixture.NewPRS1Card(t, "660P", "P7654321")
		h := fixture.Header(101, prs1.ExtSummary, t0)
		h.FormatVersion = 3
		card.WriteFile(t, 101, prs1.ExtSummary, prs1.EncodeChunk(h, fixture.Payload(fixture.MaskOn(0))))

		_, err := prs1.NewLoader(nil, time.UTC).Open(card.Root, model.DateRange{})
		var ie *model.ImportError
		require.True(t, errors.As(err, &ie))
		assert.Equal(t, model.KindFormatVersion, ie.Kind)
		assert.ErrorIs(t, err, prs1.ErrUnsupportedFormatVersion)
	})
}

func TestLoaderWindow(t *testing.T) {
	card := fixture.NewPRS1Card(t, "660P", "P7654321")
	writeSession(t, card, 101, t0)
	writeSession(t, card, 102, t0.Add(48*time.Hour))

	window := model.DateRange{From: t0.Add(24 * time.Hour)}
	src, err := prs1.NewLoader(nil, time.UTC).Open(card.Root, window)
	require.NoError(t, err)
	require.Len(t, src.Dates(), 1)
	assert.Equal(t, time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC), src.Dates()[0])
}
