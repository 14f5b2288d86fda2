// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package resmed_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/OpenPSG/cpap/edf"
	"github.com/OpenPSG/cpap/internal/fixture"
	"github.com/OpenPSG/cpap/model"
	"github.com/OpenPSG/cpap/resmed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day1 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func TestParseIdentification(t *testing.T) {
	id, err := resmed.ParseIdentification(strings.NewReader("#IMF 0001\n#SRN 23192345678\n#PNA AirSense_10_AutoSet\n#PCD 37028\n"))
	require.NoError(t, err)

	assert.Equal(t, model.MachineInfo{
		Vendor:      "ResMed",
		Model:       "37028",
		ProductName: "AirSense 10 AutoSet",
		Serial:      "23192345678",
	}, id.Machine())

	id, err = resmed.ParseIdentification(strings.NewReader("#SRN 1\n#PNA Air_Future\n#PCD 99999\n"))
	require.NoError(t, err)
	assert.Equal(t, "Air Future", id.Machine().ProductName)

	_, err = resmed.ParseIdentification(strings.NewReader("#PNA AirSense_10\n"))
	assert.ErrorIs(t, err, resmed.ErrMissingSerial)
}

func TestMaskSpansStopAtSentinel(t *testing.T) {
	on := []float64{600, 700, 800, -1, 900, -1}
	off := []float64{680, 780, 1000, -1, 950, -1}

	spans := resmed.MaskSpans(day1, on, off)
	require.Len(t, spans, 3)
	assert.Equal(t, time.Date(2024, 3, 1, 22, 0, 0, 0, time.UTC), spans[0].Start)
	assert.Equal(t, time.Date(2024, 3, 1, 23, 20, 0, 0, time.UTC), spans[0].End)
	assert.Equal(t, time.Date(2024, 3, 2, 1, 20, 0, 0, time.UTC), spans[2].Start)
	assert.Equal(t, time.Date(2024, 3, 2, 4, 40, 0, 0, time.UTC), spans[2].End)

	assert.Empty(t, resmed.MaskSpans(day1, []float64{-1, 600}, []float64{-1, 700}))
}

func TestReadIndex(t *testing.T) {
	card := fixture.NewResMedCard(t, "23192345678", "37028")
	card.WriteIndex(t, day1,
		fixture.IndexDay{
			Mode: 1, MinPress: 4, MaxPress: 15, EPRType: 2, EPRLevel: 3, HumEnable: 1, HumLevel: 4,
			MaskOn: []float64{600, 700, 800}, MaskOff: []float64{680, 780, 1000},
		},
		fixture.IndexDay{Mode: 0, Pressure: 9.5},
	)

	f, err := os.Open(filepath.Join(card.Root, "STR.edf"))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, f.Close())
	})

	records, err := resmed.ReadIndex(f, time.UTC)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, day1, records[0].Date)
	assert.Len(t, records[0].Spans, 3)
	s := records[0].Settings
	assert.Equal(t, model.ModeAPAP, s.Mode)
	assert.Equal(t, model.AutoPressure{Min: 4, Max: 15}, s.Pressure)
	assert.Equal(t, &model.Relief{Kind: model.ReliefEPR, Level: 3}, s.Relief)
	assert.Equal(t, &model.Humidifier{Enabled: true, Level: 4}, s.Humidifier)

	assert.Equal(t, day1.AddDate(0, 0, 1), records[1].Date)
	assert.Empty(t, records[1].Spans)
	assert.Equal(t, model.ModeCPAP, records[1].Settings.Mode)
	assert.Equal(t, model.FixedPressure{Pressure: 9.5}, records[1].Settings.Pressure)
	assert.Equal(t, model.ReliefNone, records[1].Settings.Relief.Kind)
}

func TestParseFileName(t *testing.T) {
	f, err := resmed.ParseFileName("/card/DATALOG/20240301/20240301_220005_BRP.edf", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, resmed.TypeBRP, f.Type)
	assert.True(t, f.IsSignal())
	assert.Equal(t, time.Date(2024, 3, 1, 22, 0, 0, 0, time.UTC), f.Stamp)

	f, err = resmed.ParseFileName("20240301_220005_eve.edf", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, resmed.TypeEVE, f.Type)
	assert.False(t, f.IsSignal())

	for _, name := range []string{"20240301_220005_BRP.crc", "20240301_XYZ.edf", "garbage_BRP.edf", "20240301_220005.edf"} {
		_, err := resmed.ParseFileName(name, time.UTC)
		assert.ErrorIs(t, err, resmed.ErrBadFileName, name)
	}
}

func TestCanonicalChannel(t *testing.T) {
	name, ok := resmed.CanonicalChannel("Flow.40ms")
	assert.True(t, ok)
	assert.Equal(t, model.SignalFlowRate, name)

	name, ok = resmed.CanonicalChannel(" TidVol.2s ")
	assert.True(t, ok)
	assert.Equal(t, model.SignalTidalVolume, name)

	_, ok = resmed.CanonicalChannel("Crc16")
	assert.False(t, ok)
}

func TestReadSignalsConvertsUnits(t *testing.T) {
	card := fixture.NewResMedCard(t, "1", "37028")
	start := time.Date(2024, 3, 1, 22, 0, 5, 0, time.UTC)
	path := card.WriteSignals(t, day1, fixture.SignalFile{
		Start:          start,
		Type:           resmed.TypePLD,
		RecordDuration: time.Minute,
		Channels: []fixture.Channel{
			{Label: "Leak.2s", Unit: "L/s", Min: 0, Max: 2, SamplesPerRecord: 30, Samples: fixture.Constant(30, 0.5)},
			{Label: "TidVol.2s", Unit: "L", Min: 0, Max: 4, SamplesPerRecord: 30, Samples: fixture.Constant(30, 0.5)},
			{Label: "FlowLim.2s", Unit: "", Min: 0, Max: 1, SamplesPerRecord: 30, Samples: fixture.Constant(30, 0.25)},
			{Label: "Crc16", Unit: "", Min: 0, Max: 1, SamplesPerRecord: 30, Samples: fixture.Constant(30, 0)},
		},
	})

	signals, err := resmed.ReadSignals(path, time.UTC, 0)
	require.NoError(t, err)
	require.Len(t, signals, 3)

	leak, tidal, limit := signals[0], signals[1], signals[2]
	assert.Equal(t, model.SignalLeak, leak.Name)
	assert.Equal(t, "L/min", leak.Unit)
	assert.InDelta(t, 30.0, leak.Samples[0], 1e-6)
	assert.InDelta(t, 120.0, leak.PhysicalMax, 1e-6)
	assert.InDelta(t, 0.5, leak.Frequency, 1e-9)
	assert.Equal(t, start, leak.Start)
	assert.Equal(t, start.Add(time.Minute), leak.End)

	assert.Equal(t, "mL", tidal.Unit)
	assert.InDelta(t, 500.0, tidal.Samples[0], 1e-6)

	assert.Equal(t, "%", limit.Unit)
	assert.InDelta(t, 25.0, limit.Samples[0], 1e-6)
}

func TestReadSignalsSplitsDiscontinuities(t *testing.T) {
	card := fixture.NewResMedCard(t, "1", "37028")
	start := time.Date(2024, 3, 1, 22, 0, 0, 0, time.UTC)
	path := card.WriteSignals(t, day1, fixture.SignalFile{
		Start:          start,
		Type:           resmed.TypeBRP,
		RecordDuration: time.Minute,
		Onsets:         []time.Duration{0, time.Minute, 10 * time.Minute},
		Channels: []fixture.Channel{
			{Label: "Flow.40ms", Unit: "L/s", Min: -2, Max: 2, SamplesPerRecord: 1500, Samples: fixture.Constant(4500, 0.25)},
		},
	})

	signals, err := resmed.ReadSignals(path, time.UTC, 30*time.Second)
	require.NoError(t, err)
	require.Len(t, signals, 2)

	assert.Equal(t, start.Add(30*time.Second), signals[0].Start)
	assert.Len(t, signals[0].Samples, 3000)
	assert.Equal(t, start.Add(10*time.Minute+30*time.Second), signals[1].Start)
	assert.Len(t, signals[1].Samples, 1500)
	assert.InDelta(t, 15.0, signals[1].Samples[0], 1e-3)
}

func TestEvents(t *testing.T) {
	start := time.Date(2024, 3, 1, 22, 0, 0, 0, time.UTC)
	evs, skipped := resmed.Events(start, []edf.Annotation{
		{Onset: 0, Text: "Recording starts"},
		{Onset: 120 * time.Second, Duration: 10 * time.Second, Text: "Obstructive Apnea"},
		{Onset: 300 * time.Second, Duration: 14 * time.Second, Text: "Central Apnea"},
		{Onset: 400 * time.Second, Text: "Something New"},
	})

	assert.Equal(t, []model.Event{
		{Type: model.EventObstructiveApnea, Start: start.Add(120 * time.Second), Duration: 10 * time.Second},
		{Type: model.EventClearAirway, Start: start.Add(300 * time.Second), Duration: 14 * time.Second},
	}, evs)
	assert.Equal(t, []string{"Something New"}, skipped)

	typ, ok := resmed.CanonicalEvent("Hypopnea")
	assert.True(t, ok)
	assert.Equal(t, model.EventHypopnea, typ)
}

func TestCheyneStokes(t *testing.T) {
	start := time.Date(2024, 3, 1, 22, 0, 0, 0, time.UTC)

	evs, orphans, err := resmed.CheyneStokes(start, []edf.Annotation{
		{Onset: 50 * time.Second, Text: "CSR End"},
		{Onset: 400 * time.Second, Text: "CSR End"},
		{Onset: 100 * time.Second, Text: "CSR Start"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, orphans)
	assert.Equal(t, []model.Event{
		{Type: model.EventCheyneStokes, Start: start.Add(100 * time.Second), Duration: 300 * time.Second},
	}, evs)

	_, _, err = resmed.CheyneStokes(start, []edf.Annotation{{Onset: 100 * time.Second, Text: "CSR Start"}})
	assert.ErrorIs(t, err, resmed.ErrUnmatchedCSR)

	_, _, err = resmed.CheyneStokes(start, []edf.Annotation{
		{Onset: 100 * time.Second, Text: "CSR Start"},
		{Onset: 200 * time.Second, Text: "CSR Start"},
		{Onset: 300 * time.Second, Text: "CSR End"},
	})
	assert.ErrorIs(t, err, resmed.ErrUnmatchedCSR)
}
