// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package events_test

import (
	"testing"
	"time"

	"github.com/OpenPSG/cpap/events"
	"github.com/OpenPSG/cpap/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 22, 0, 0, 0, time.UTC)

func leakSignal(samples []float64) *model.Signal {
	return model.NewSignal(model.SignalLeak, "L/min", 1, 0, 120, t0, samples)
}

func TestAboveThresholdSingleRun(t *testing.T) {
	for _, k := range []int{1, 5, 37} {
		samples := make([]float64, 100)
		for i := 20; i < 20+k; i++ {
			samples[i] = 40
		}

		out := events.AboveThreshold(leakSignal(samples), 24, model.EventLargeLeak)
		require.Len(t, out, 1, "k=%d", k)
		assert.Equal(t, model.EventLargeLeak, out[0].Type)
		assert.Equal(t, t0.Add(20*time.Second), out[0].Start)
		assert.Equal(t, time.Duration(k)*time.Second, out[0].Duration)
	}
}

func TestAboveThresholdRunOpenAtEnd(t *testing.T) {
	samples := []float64{0, 0, 30, 30, 30, 30}

	out := events.AboveThreshold(leakSignal(samples), 24, model.EventLargeLeak)
	require.Len(t, out, 1)
	assert.Equal(t, t0.Add(2*time.Second), out[0].Start)
	assert.Equal(t, t0.Add(5*time.Second), out[0].End())
}

func TestAboveThresholdMultipleRuns(t *testing.T) {
	samples := []float64{30, 0, 24, 25, 25, 0, 0, 26}

	out := events.AboveThreshold(leakSignal(samples), 24, model.EventLargeLeak)
	require.Len(t, out, 3)
	assert.Equal(t, time.Second, out[0].Duration)
	assert.Equal(t, t0.Add(3*time.Second), out[1].Start)
	assert.Equal(t, 2*time.Second, out[1].Duration)
	assert.Equal(t, t0.Add(7*time.Second), out[2].Start)
	assert.Equal(t, time.Duration(0), out[2].Duration)

	assert.Empty(t, events.AboveThreshold(leakSignal(make([]float64, 10)), 24, model.EventLargeLeak))
	assert.Empty(t, events.AboveThreshold(nil, 24, model.EventLargeLeak))
}

func TestFinalize(t *testing.T) {
	s := model.NewSession("1", model.SourceCPAP, t0, t0.Add(2*time.Hour))
	s.AddEvents(
		model.Event{Type: model.EventHypopnea, Start: t0.Add(30 * time.Minute)},
		model.Event{Type: model.EventObstructiveApnea, Start: t0.Add(10 * time.Minute)},
		model.Event{Type: model.EventHypopnea, Start: t0.Add(20 * time.Minute)},
		model.Event{Type: model.EventLargeLeak, Start: t0.Add(5 * time.Minute)},
	)
	day := model.NewDay(t0)
	day.AddSession(s)

	events.Finalize(day)

	assert.Equal(t, model.EventLargeLeak, day.Events[0].Type)
	assert.Equal(t, 2, day.EventCounts[model.EventHypopnea])
	assert.Equal(t, 3, day.FamilyCounts[model.FamilyApnea])
	assert.Equal(t, 1, day.FamilyCounts[model.FamilyBreathingPattern])
	assert.InDelta(t, 1.5, events.AHI(day), 1e-9)
}
