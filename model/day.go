// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package model

import (
	"sort"
	"time"
)

// Day is one calendar day of therapy.
type Day struct {
	Date       time.Time // midnight, device-local
	Start      time.Time
	End        time.Time
	Machine    MachineInfo
	Sessions   []*Session
	Events     []Event
	Settings   MachineSettings
	Statistics []SignalStatistics

	EventCounts  map[EventType]int
	FamilyCounts map[EventFamily]int
}

// NewDay creates an empty day for the calendar date of t.
func NewDay(t time.Time) *Day {
	return &Day{Date: DateOf(t)}
}

// DateOf truncates t to midnight in its own location.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// AddSession appends s: its settings overwrite the day's key by key and its
// events are concatenated. Call Finalize once every session is added.
func (d *Day) AddSession(s *Session) {
	d.Sessions = append(d.Sessions, s)
	d.Settings = d.Settings.Merge(s.Settings)
	d.Events = append(d.Events, s.Events...)
	d.extend(s.Start, s.End)
}

// Finalize orders sessions and events chronologically, re-merges settings in
// session order and recomputes the recording bounds from the sessions.
func (d *Day) Finalize() {
	sort.SliceStable(d.Sessions, func(i, j int) bool {
		return d.Sessions[i].Start.Before(d.Sessions[j].Start)
	})

	d.Events = nil
	d.Settings = MachineSettings{}
	d.Start, d.End = time.Time{}, time.Time{}
	for _, s := range d.Sessions {
		d.Events = append(d.Events, s.Events...)
		d.Settings = d.Settings.Merge(s.Settings)
		d.extend(s.Start, s.End)
	}
	sort.SliceStable(d.Events, func(i, j int) bool {
		return d.Events[i].Start.Before(d.Events[j].Start)
	})
}

func (d *Day) extend(start, end time.Time) {
	if d.Start.IsZero() || start.Before(d.Start) {
		d.Start = start
	}
	if d.End.IsZero() || end.After(d.End) {
		d.End = end
	}
}

// SignalByName returns every session's signal called name, in session order.
func (d *Day) SignalByName(name string) []*Signal {
	var out []*Signal
	for _, s := range d.Sessions {
		if sig := s.Signal(name); sig != nil {
			out = append(out, sig)
		}
	}
	return out
}

// ValueAtTime returns the value of the named signal at t from whichever
// session recorded it.
func (d *Day) ValueAtTime(name string, t time.Time, interpolate bool) (float64, bool) {
	for _, sig := range d.SignalByName(name) {
		if v, ok := sig.ValueAt(t, interpolate); ok {
			return v, true
		}
	}
	return 0, false
}

// Statistic returns the statistics computed for the named signal.
func (d *Day) Statistic(name string) (SignalStatistics, bool) {
	for _, st := range d.Statistics {
		if st.Name == name {
			return st, true
		}
	}
	return SignalStatistics{}, false
}

// Duration is the total time covered by the day's sessions.
func (d *Day) Duration() time.Duration {
	var total time.Duration
	for _, s := range d.Sessions {
		total += s.Duration()
	}
	return total
}
