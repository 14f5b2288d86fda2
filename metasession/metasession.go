// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package metasession groups physical sessions into logical therapy cycles
// and assigns each cycle to a calendar day.
package metasession

import (
	"sort"
	"time"

	"github.com/OpenPSG/cpap/model"
)

const (
	// MaxGap is the longest pause between sessions of one therapy cycle.
	MaxGap = 4 * time.Hour
	// MaxSpan is the exclusive upper bound on a therapy cycle's length.
	MaxSpan = 24 * time.Hour
)

// MetaSession is one equipment-on therapy cycle.
type MetaSession struct {
	Sessions []*model.Session
	Start    time.Time
	End      time.Time
}

// Date is the calendar day the cycle is assigned to: the day it started.
func (m *MetaSession) Date() time.Time {
	return model.DateOf(m.Start)
}

// accepts reports whether s continues the cycle: it starts within MaxGap of
// the latest end and the combined span stays under MaxSpan.
func (m *MetaSession) accepts(s *model.Session) bool {
	if s.Start.Sub(m.End) > MaxGap {
		return false
	}
	end := m.End
	if s.End.After(end) {
		end = s.End
	}
	return end.Sub(m.Start) < MaxSpan
}

func (m *MetaSession) add(s *model.Session) {
	m.Sessions = append(m.Sessions, s)
	if s.End.After(m.End) {
		m.End = s.End
	}
}

// Group orders sessions by start and folds them into therapy cycles.
func Group(sessions []*model.Session) []*MetaSession {
	sorted := append([]*model.Session(nil), sessions...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start.Before(sorted[j].Start)
	})

	var out []*MetaSession
	var current *MetaSession
	for _, s := range sorted {
		if current != nil && current.accepts(s) {
			current.add(s)
			continue
		}
		current = &MetaSession{Sessions: []*model.Session{s}, Start: s.Start, End: s.End}
		out = append(out, current)
	}
	return out
}

// Plan maps each calendar date to the sessions assigned to it, so that days
// can be constructed independently.
type Plan struct {
	Dates    []time.Time
	Sessions map[time.Time][]*model.Session
}

// Assign groups sessions into cycles and buckets the cycles by start date.
// Dates are returned in ascending order.
func Assign(sessions []*model.Session) Plan {
	plan := Plan{Sessions: map[time.Time][]*model.Session{}}
	for _, m := range Group(sessions) {
		date := m.Date()
		if _, ok := plan.Sessions[date]; !ok {
			plan.Dates = append(plan.Dates, date)
		}
		plan.Sessions[date] = append(plan.Sessions[date], m.Sessions...)
	}
	sort.Slice(plan.Dates, func(i, j int) bool { return plan.Dates[i].Before(plan.Dates[j]) })
	return plan
}

// BuildDay merges sessions chronologically into a finalized day.
func BuildDay(date time.Time, sessions []*model.Session) *model.Day {
	day := &model.Day{Date: date}
	sorted := append([]*model.Session(nil), sessions...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start.Before(sorted[j].Start)
	})
	for _, s := range sorted {
		day.AddSession(s)
	}
	day.Finalize()
	return day
}

// BuildDays assigns sessions to days and builds every day.
func BuildDays(sessions []*model.Session) []*model.Day {
	plan := Assign(sessions)
	days := make([]*model.Day, 0, len(plan.Dates))
	for _, date := range plan.Dates {
		days = append(days, BuildDay(date, plan.Sessions[date]))
	}
	return days
}
