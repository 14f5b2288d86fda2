// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package stats_test

import (
	"math/rand"
	"testing"
	"time"

	"github.com/OpenPSG/cpap/model"
	"github.com/OpenPSG/cpap/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 22, 0, 0, 0, time.UTC)

func TestComputeOrderStatistics(t *testing.T) {
	for _, n := range []int{1, 7, 100, 1000, 4321} {
		sorted := make([]float64, n)
		var sum float64
		for i := range sorted {
			sorted[i] = float64(i) * 0.5
			sum += sorted[i]
		}
		shuffled := append([]float64(nil), sorted...)
		rand.New(rand.NewSource(int64(n))).Shuffle(n, func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})

		st := stats.Compute("Pressure", shuffled)
		assert.Equal(t, sorted[int(float64(n)*0.01)], st.Min, "n=%d", n)
		assert.Equal(t, sorted[n/2], st.Median, "n=%d", n)
		assert.Equal(t, sorted[int(float64(n)*0.95)], st.P95, "n=%d", n)
		assert.Equal(t, sorted[int(float64(n)*0.995)], st.P995, "n=%d", n)
		assert.Equal(t, sorted[n-1], st.Max, "n=%d", n)
		assert.InDelta(t, sum/float64(n), st.Average, 1e-9, "n=%d", n)
		assert.Equal(t, n, st.Count)
	}
}

func TestComputeMinIsTrimmed(t *testing.T) {
	samples := make([]float64, 200)
	for i := range samples {
		samples[i] = 10
	}
	samples[0], samples[1] = -50, -40

	st := stats.Compute("Leak", samples)
	assert.Equal(t, 10.0, st.Min)
	assert.Equal(t, 10.0, st.Max)
}

func TestCalculateSkipsSignalsStraddlingZero(t *testing.T) {
	a := model.NewSession("a", model.SourceCPAP, t0, t0.Add(time.Hour))
	require.NoError(t, a.AddSignal(model.NewSignal(model.SignalFlowRate, "L/min", 1, -120, 120, t0, []float64{-10, 0, 10})))
	require.NoError(t, a.AddSignal(model.NewSignal(model.SignalPressure, "cmH2O", 1, 0, 30, t0, []float64{4, 5})))
	b := model.NewSession("b", model.SourceCPAP, t0.Add(2*time.Hour), t0.Add(3*time.Hour))
	require.NoError(t, b.AddSignal(model.NewSignal(model.SignalPressure, "cmH2O", 1, 0, 30, t0.Add(2*time.Hour), []float64{6, 7, 8})))

	day := model.NewDay(t0)
	day.AddSession(a)
	day.AddSession(b)
	day.Finalize()

	out := stats.Calculate(day)
	require.Len(t, out, 1)
	assert.Equal(t, model.SignalPressure, out[0].Name)
	assert.Equal(t, 5, out[0].Count)
	assert.Equal(t, 6.0, out[0].Median)
	assert.Equal(t, 8.0, out[0].Max)
	assert.InDelta(t, 6.0, out[0].Average, 1e-9)

	// source signals keep their sample order
	assert.Equal(t, []float64{6, 7, 8}, b.Signals[0].Samples)
}

func TestResample(t *testing.T) {
	ch := stats.Channel{Name: model.SignalPressure, Unit: "cmH2O", PhysicalMax: 30}
	points := []stats.Point{
		{Time: t0.Add(4 * time.Second), Value: 10},
		{Time: t0.Add(2 * time.Second), Value: 6},
	}

	sig := stats.Resample(ch, points, t0, t0.Add(7*time.Second))
	require.NotNil(t, sig)
	assert.Equal(t, 1.0, sig.Frequency)
	assert.Equal(t, t0, sig.Start)
	assert.Equal(t, t0.Add(7*time.Second), sig.End)
	assert.Equal(t, []float64{6, 6, 6, 8, 10, 10, 10}, sig.Samples)
}

func TestResampleEmpty(t *testing.T) {
	ch := stats.Channel{Name: model.SignalSnore}
	assert.Nil(t, stats.Resample(ch, nil, t0, t0.Add(time.Minute)))
	assert.Nil(t, stats.Resample(ch, []stats.Point{{Time: t0, Value: 1}}, t0, t0))
}
