// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package model holds the normalized representation of imported therapy data:
// days, sessions, signals, events, settings and statistics.
package model

import (
	"math"
	"time"
)

// Canonical signal names shared by every vendor loader.
const (
	SignalFlowRate     = "FlowRate"
	SignalPressure     = "Pressure"
	SignalMaskPressure = "MaskPressure"
	SignalEPAP         = "EPAP"
	SignalLeak         = "Leak"
	SignalTotalLeak    = "TotalLeak"
	SignalSnore        = "Snore"
	SignalHumidifier   = "Humidifier"
	SignalRespRate     = "RespRate"
	SignalTidalVolume  = "TidalVolume"
	SignalMinuteVent   = "MinuteVent"
	SignalTargetVent   = "TargetVent"
	SignalFlowLimit    = "FlowLimit"
	SignalSpO2         = "SpO2"
	SignalPulse        = "Pulse"
)

// Signal is a uniformly sampled channel.
type Signal struct {
	Name        string
	Unit        string
	Frequency   float64 // Hz
	PhysicalMin float64 // declared range, not observed
	PhysicalMax float64
	Samples     []float64
	Start       time.Time
	End         time.Time
}

// NewSignal creates a signal whose end is derived from the sample count and frequency.
func NewSignal(name, unit string, frequency, physMin, physMax float64, start time.Time, samples []float64) *Signal {
	s := &Signal{
		Name:        name,
		Unit:        unit,
		Frequency:   frequency,
		PhysicalMin: physMin,
		PhysicalMax: physMax,
		Samples:     samples,
		Start:       start,
	}
	s.End = start.Add(s.Duration())
	return s
}

// Duration is sampleCount / frequency.
func (s *Signal) Duration() time.Duration {
	if s.Frequency <= 0 {
		return 0
	}
	return time.Duration(math.Round(float64(len(s.Samples)) / s.Frequency * float64(time.Second)))
}

// Scale multiplies every sample and the declared range by factor. It is only
// used for unit conversion at import time.
func (s *Signal) Scale(factor float64, unit string) {
	for i := range s.Samples {
		s.Samples[i] *= factor
	}
	s.PhysicalMin *= factor
	s.PhysicalMax *= factor
	if s.PhysicalMin > s.PhysicalMax {
		s.PhysicalMin, s.PhysicalMax = s.PhysicalMax, s.PhysicalMin
	}
	s.Unit = unit
}

// SensorAbsent reports whether no sample ever reaches the declared minimum,
// which is how devices record a channel whose sensor was not connected.
func (s *Signal) SensorAbsent() bool {
	for _, v := range s.Samples {
		if v >= s.PhysicalMin {
			return false
		}
	}
	return true
}

// NonNegative reports whether the declared range excludes negative values.
func (s *Signal) NonNegative() bool {
	return s.PhysicalMin >= 0
}

// TimeAt returns the timestamp of sample i.
func (s *Signal) TimeAt(i int) time.Time {
	return s.Start.Add(time.Duration(math.Round(float64(i) / s.Frequency * float64(time.Second))))
}

// ValueAt returns the sample value at t. With interpolate set the value is
// linearly interpolated between the two surrounding samples, otherwise the
// preceding sample is returned. ok is false when t falls outside the signal.
func (s *Signal) ValueAt(t time.Time, interpolate bool) (value float64, ok bool) {
	if len(s.Samples) == 0 || s.Frequency <= 0 || t.Before(s.Start) || !t.Before(s.End) {
		return 0, false
	}
	pos := t.Sub(s.Start).Seconds() * s.Frequency
	i := int(math.Floor(pos))
	if i >= len(s.Samples) {
		i = len(s.Samples) - 1
	}
	if !interpolate || i+1 >= len(s.Samples) {
		return s.Samples[i], true
	}
	frac := pos - float64(i)
	return s.Samples[i] + (s.Samples[i+1]-s.Samples[i])*frac, true
}
