// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package model_test

import (
	"testing"
	"time"

	"github.com/OpenPSG/cpap/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 22, 0, 0, 0, time.UTC)

func TestSignalDuration(t *testing.T) {
	sig := model.NewSignal(model.SignalFlowRate, "L/min", 25, -120, 120, t0, make([]float64, 25*60))

	assert.Equal(t, time.Minute, sig.Duration())
	assert.Equal(t, t0.Add(time.Minute), sig.End)
}

func TestSignalValueAt(t *testing.T) {
	sig := model.NewSignal(model.SignalPressure, "cmH2O", 1, 0, 30, t0, []float64{4, 6, 10})

	v, ok := sig.ValueAt(t0.Add(1500*time.Millisecond), false)
	require.True(t, ok)
	assert.Equal(t, 6.0, v)

	v, ok = sig.ValueAt(t0.Add(1500*time.Millisecond), true)
	require.True(t, ok)
	assert.InDelta(t, 8.0, v, 1e-9)

	v, ok = sig.ValueAt(t0.Add(2500*time.Millisecond), true)
	require.True(t, ok)
	assert.Equal(t, 10.0, v)

	_, ok = sig.ValueAt(t0.Add(-time.Second), true)
	assert.False(t, ok)
	_, ok = sig.ValueAt(t0.Add(3*time.Second), true)
	assert.False(t, ok)
}

func TestSignalScaleRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		factor float64
		unit   string
	}{
		{"velocity", 60, "L/min"},
		{"volume", 1000, "mL"},
		{"fraction", 100, "%"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orig := []float64{0.013, -0.25, 0.5, 1.75}
			samples := append([]float64(nil), orig...)
			sig := model.NewSignal("X", "", 1, -1, 2, t0, samples)

			sig.Scale(tt.factor, tt.unit)
			for i, v := range sig.Samples {
				assert.Equal(t, orig[i]*tt.factor, v)
			}
			assert.Equal(t, -tt.factor, sig.PhysicalMin)
			assert.Equal(t, 2*tt.factor, sig.PhysicalMax)
			assert.Equal(t, tt.unit, sig.Unit)

			sig.Scale(1/tt.factor, "")
			for i, v := range sig.Samples {
				assert.InDelta(t, orig[i], v, 1e-12)
			}
		})
	}
}

func TestSignalSensorAbsent(t *testing.T) {
	absent := model.NewSignal(model.SignalSpO2, "%", 1, 0, 100, t0, []float64{-1, -1, -1})
	present := model.NewSignal(model.SignalSpO2, "%", 1, 0, 100, t0, []float64{-1, 95, -1})

	assert.True(t, absent.SensorAbsent())
	assert.False(t, present.SensorAbsent())
}

func TestSessionBounds(t *testing.T) {
	s := model.NewSession("1", model.SourceCPAP, t0.Add(-time.Minute), t0.Add(time.Hour))

	require.NoError(t, s.AddSignal(model.NewSignal(model.SignalFlowRate, "L/min", 1, -120, 120, t0, make([]float64, 600))))
	require.NoError(t, s.AddSignal(model.NewSignal(model.SignalLeak, "L/min", 0.5, 0, 120, t0.Add(30*time.Second), make([]float64, 600))))

	err := s.AddSignal(model.NewSignal(model.SignalLeak, "L/min", 1, 0, 120, t0, nil))
	require.ErrorIs(t, err, model.ErrDuplicateSignal)

	s.RecomputeBounds()
	assert.Equal(t, t0, s.Start)
	assert.Equal(t, t0.Add(30*time.Second+1200*time.Second), s.End)

	s.RemoveSignal(model.SignalLeak)
	s.RecomputeBounds()
	assert.Equal(t, t0.Add(600*time.Second), s.End)
}

func TestDaySettingsLastSessionWins(t *testing.T) {
	first := model.NewSession("1", model.SourceCPAP, t0, t0.Add(time.Hour))
	first.Settings = model.MachineSettings{
		Mode:       model.ModeAPAP,
		Pressure:   model.AutoPressure{Min: 5, Max: 15},
		Humidifier: &model.Humidifier{Enabled: true, Level: 3},
	}
	second := model.NewSession("2", model.SourceCPAP, t0.Add(2*time.Hour), t0.Add(3*time.Hour))
	second.Settings = model.MachineSettings{
		Pressure: model.AutoPressure{Min: 6, Max: 14},
	}

	day := model.NewDay(t0)
	day.AddSession(second)
	day.AddSession(first)
	day.Finalize()

	assert.Equal(t, model.ModeAPAP, day.Settings.Mode)
	assert.Equal(t, model.AutoPressure{Min: 6, Max: 14}, day.Settings.Pressure)
	require.NotNil(t, day.Settings.Humidifier)
	assert.Equal(t, 3, day.Settings.Humidifier.Level)

	assert.Equal(t, "1", day.Sessions[0].ID)
	assert.Equal(t, t0, day.Start)
	assert.Equal(t, t0.Add(3*time.Hour), day.End)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), day.Date)
}

func TestDayFinalizeSortsEvents(t *testing.T) {
	a := model.NewSession("a", model.SourceCPAP, t0, t0.Add(time.Hour))
	a.AddEvents(
		model.Event{Type: model.EventHypopnea, Start: t0.Add(40 * time.Minute), Duration: 10 * time.Second},
		model.Event{Type: model.EventObstructiveApnea, Start: t0.Add(5 * time.Minute), Duration: 12 * time.Second},
	)
	b := model.NewSession("b", model.SourceCPAP, t0.Add(70*time.Minute), t0.Add(2*time.Hour))
	b.AddEvents(model.Event{Type: model.EventClearAirway, Start: t0.Add(80 * time.Minute), Duration: 11 * time.Second})

	day := model.NewDay(t0)
	day.AddSession(b)
	day.AddSession(a)
	day.Finalize()

	require.Len(t, day.Events, 3)
	assert.Equal(t, model.EventObstructiveApnea, day.Events[0].Type)
	assert.Equal(t, model.EventHypopnea, day.Events[1].Type)
	assert.Equal(t, model.EventClearAirway, day.Events[2].Type)
}

func TestDayValueAtTime(t *testing.T) {
	s := model.NewSession("1", model.SourceCPAP, t0, t0.Add(time.Hour))
	require.NoError(t, s.AddSignal(model.NewSignal(model.SignalPressure, "cmH2O", 1, 0, 30, t0, []float64{8, 9, 10})))

	day := model.NewDay(t0)
	day.AddSession(s)
	day.Finalize()

	require.Len(t, day.SignalByName(model.SignalPressure), 1)
	assert.Empty(t, day.SignalByName(model.SignalSpO2))

	v, ok := day.ValueAtTime(model.SignalPressure, t0.Add(500*time.Millisecond), true)
	require.True(t, ok)
	assert.InDelta(t, 8.5, v, 1e-9)
}

func TestEventMarker(t *testing.T) {
	apnea := model.Event{Type: model.EventObstructiveApnea, Start: t0, Duration: 10 * time.Second}
	leak := model.Event{Type: model.EventLargeLeak, Start: t0, Duration: time.Minute}

	assert.Equal(t, model.MarkerConclusion, apnea.Marker())
	assert.Equal(t, t0.Add(10*time.Second), apnea.MarkerTime())
	assert.Equal(t, model.MarkerOnset, leak.Marker())
	assert.Equal(t, t0, leak.MarkerTime())

	assert.Equal(t, model.FamilyApnea, model.EventRERA.Family())
	assert.Equal(t, model.FamilyOxygen, model.EventDesaturation.Family())
	assert.Equal(t, model.FamilyPulse, model.EventPulseChange.Family())
	assert.Equal(t, model.FamilyBreathingPattern, model.EventCheyneStokes.Family())
	assert.Equal(t, "CheyneStokes", model.EventCheyneStokes.String())
}

func TestPressureRange(t *testing.T) {
	low, high, err := model.MachineSettings{Pressure: model.BilevelPressure{EPAP: 6, IPAP: 12}}.PressureRange()
	require.NoError(t, err)
	assert.Equal(t, 6.0, low)
	assert.Equal(t, 12.0, high)

	_, _, err = model.MachineSettings{}.PressureRange()
	require.Error(t, err)
}

func TestDateRange(t *testing.T) {
	r := model.DateRange{
		From: time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
	}

	assert.False(t, r.Contains(time.Date(2024, 3, 1, 23, 0, 0, 0, time.UTC)))
	assert.True(t, r.Contains(time.Date(2024, 3, 4, 23, 0, 0, 0, time.UTC)))
	assert.True(t, r.Pad(1).Contains(time.Date(2024, 3, 1, 23, 0, 0, 0, time.UTC)))
	assert.True(t, model.DateRange{}.Contains(t0))
}
