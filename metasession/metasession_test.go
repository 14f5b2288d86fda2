// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package metasession_test

import (
	"testing"
	"time"

	"github.com/OpenPSG/cpap/metasession"
	"github.com/OpenPSG/cpap/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func session(id string, start time.Time, d time.Duration) *model.Session {
	return model.NewSession(id, model.SourceCPAP, start, start.Add(d))
}

func TestTenMinuteGapMerges(t *testing.T) {
	start := time.Date(2024, 3, 1, 23, 0, 0, 0, time.UTC)
	a := session("a", start, 2*time.Hour)
	b := session("b", a.End.Add(10*time.Minute), 3*time.Hour)

	metas := metasession.Group([]*model.Session{b, a})
	require.Len(t, metas, 1)
	assert.Equal(t, start, metas[0].Start)
	assert.Equal(t, b.End, metas[0].End)

	days := metasession.BuildDays([]*model.Session{a, b})
	require.Len(t, days, 1)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), days[0].Date)
	assert.Len(t, days[0].Sessions, 2)
}

func TestFiveHourGapSplitsAcrossDates(t *testing.T) {
	a := session("a", time.Date(2024, 3, 1, 18, 0, 0, 0, time.UTC), 2*time.Hour)
	b := session("b", a.End.Add(5*time.Hour), time.Hour)

	days := metasession.BuildDays([]*model.Session{a, b})
	require.Len(t, days, 2)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), days[0].Date)
	assert.Equal(t, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), days[1].Date)
}

func TestSpanLimit(t *testing.T) {
	start := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	a := session("a", start, 12*time.Hour)
	b := session("b", a.End.Add(time.Hour), 10*time.Hour+59*time.Minute)
	c := session("c", b.End.Add(time.Minute), time.Hour)

	metas := metasession.Group([]*model.Session{a, b, c})
	require.Len(t, metas, 2)
	assert.Len(t, metas[0].Sessions, 2)
	assert.Equal(t, "c", metas[1].Sessions[0].ID)
}

func TestSameDateCyclesShareADay(t *testing.T) {
	a := session("a", time.Date(2024, 3, 1, 1, 0, 0, 0, time.UTC), time.Hour)
	b := session("b", time.Date(2024, 3, 1, 14, 0, 0, 0, time.UTC), time.Hour)

	plan := metasession.Assign([]*model.Session{b, a})
	require.Len(t, plan.Dates, 1)
	assert.Len(t, plan.Sessions[plan.Dates[0]], 2)

	day := metasession.BuildDay(plan.Dates[0], plan.Sessions[plan.Dates[0]])
	assert.Equal(t, "a", day.Sessions[0].ID)
	assert.Equal(t, a.Start, day.Start)
	assert.Equal(t, b.End, day.End)
}
