// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package events synthesizes events from continuous signals and summarizes
// the canonical events of a day.
package events

import (
	"sort"

	"github.com/OpenPSG/cpap/model"
)

// AboveThreshold scans sig and emits one event of type typ for every
// contiguous run of samples strictly above threshold. A run ends at the
// first sample back at or below threshold; a run still open at the last
// sample is closed at that sample.
func AboveThreshold(sig *model.Signal, threshold float64, typ model.EventType) []model.Event {
	if sig == nil || len(sig.Samples) == 0 || sig.Frequency <= 0 {
		return nil
	}

	var out []model.Event
	above := false
	runStart := 0
	for i, v := range sig.Samples {
		switch {
		case !above && v > threshold:
			above = true
			runStart = i
		case above && v <= threshold:
			above = false
			out = append(out, runEvent(sig, typ, runStart, i))
		}
	}
	if above {
		out = append(out, runEvent(sig, typ, runStart, len(sig.Samples)-1))
	}
	return out
}

func runEvent(sig *model.Signal, typ model.EventType, from, to int) model.Event {
	start := sig.TimeAt(from)
	return model.Event{Type: typ, Start: start, Duration: sig.TimeAt(to).Sub(start)}
}

// Finalize sorts the day's events by start time and fills in the per-type
// and per-family counts.
func Finalize(day *model.Day) {
	sort.SliceStable(day.Events, func(i, j int) bool {
		return day.Events[i].Start.Before(day.Events[j].Start)
	})

	day.EventCounts = map[model.EventType]int{}
	day.FamilyCounts = map[model.EventFamily]int{}
	for _, e := range day.Events {
		day.EventCounts[e.Type]++
		day.FamilyCounts[e.Type.Family()]++
	}
}

// Index returns events of the given types per hour of recorded therapy.
func Index(day *model.Day, types ...model.EventType) float64 {
	hours := day.Duration().Hours()
	if hours <= 0 {
		return 0
	}
	var n int
	for _, typ := range types {
		n += day.EventCounts[typ]
	}
	return float64(n) / hours
}

// AHI is the apnea-hypopnea index of the day.
func AHI(day *model.Day) float64 {
	return Index(day, model.EventObstructiveApnea, model.EventClearAirway, model.EventApnea, model.EventHypopnea)
}
