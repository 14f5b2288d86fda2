// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package stats

import (
	"sort"
	"time"

	"github.com/OpenPSG/cpap/model"
)

// Point is a statistic value the device recorded at one instant.
type Point struct {
	Time  time.Time
	Value float64
}

// Channel describes how a series of points becomes a signal.
type Channel struct {
	Name        string
	Unit        string
	PhysicalMin float64
	PhysicalMax float64
}

// Resample places points on a 1 second grid covering [start, end). Each grid
// value is linearly interpolated between the two nearest recorded points, or
// takes the nearest point when the grid instant lies outside them. It
// returns nil when there are no points or the window is empty.
func Resample(ch Channel, points []Point, start, end time.Time) *model.Signal {
	if len(points) == 0 || !end.After(start) {
		return nil
	}
	pts := append([]Point(nil), points...)
	sort.SliceStable(pts, func(i, j int) bool { return pts[i].Time.Before(pts[j].Time) })

	n := int(end.Sub(start) / time.Second)
	if n == 0 {
		n = 1
	}
	samples := make([]float64, n)

	next := 0
	for i := range samples {
		t := start.Add(time.Duration(i) * time.Second)
		for next < len(pts) && !pts[next].Time.After(t) {
			next++
		}
		switch {
		case next == 0:
			samples[i] = pts[0].Value
		case next == len(pts):
			samples[i] = pts[len(pts)-1].Value
		default:
			a, b := pts[next-1], pts[next]
			span := b.Time.Sub(a.Time).Seconds()
			if span <= 0 {
				samples[i] = b.Value
				continue
			}
			frac := t.Sub(a.Time).Seconds() / span
			samples[i] = a.Value + (b.Value-a.Value)*frac
		}
	}

	return model.NewSignal(ch.Name, ch.Unit, 1, ch.PhysicalMin, ch.PhysicalMax, start, samples)
}
