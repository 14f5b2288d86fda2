// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package model

import "time"

// MachineInfo identifies the device an import came from.
type MachineInfo struct {
	Vendor      string
	Model       string
	ProductName string
	Serial      string
}

// SignalStatistics are the order statistics of one signal over one day.
// Min is the 1st percentile, not the true minimum.
type SignalStatistics struct {
	Name    string
	Count   int
	Min     float64
	Median  float64
	Average float64
	P95     float64
	P995    float64
	Max     float64
}

// DayResult is the outcome of constructing one day. A failed day carries
// the date it was for and the error; sibling days are unaffected. Sessions
// dropped while building an otherwise good day are listed in Discarded.
type DayResult struct {
	Date      time.Time
	Day       *Day
	Err       error
	Discarded []*ImportError
}

// DateRange bounds an import by calendar date. Zero values are open ends.
type DateRange struct {
	From time.Time
	To   time.Time
}

// Contains reports whether the calendar date of t lies within the range.
func (r DateRange) Contains(t time.Time) bool {
	d := DateOf(t)
	if !r.From.IsZero() && d.Before(DateOf(r.From)) {
		return false
	}
	if !r.To.IsZero() && d.After(DateOf(r.To)) {
		return false
	}
	return true
}

// Pad widens both ends of the range by days.
func (r DateRange) Pad(days int) DateRange {
	if !r.From.IsZero() {
		r.From = r.From.AddDate(0, 0, -days)
	}
	if !r.To.IsZero() {
		r.To = r.To.AddDate(0, 0, days)
	}
	return r
}
