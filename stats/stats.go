// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package stats computes per-day signal statistics and turns sparse
// statistic points into uniformly sampled signals.
package stats

import (
	"sort"

	"github.com/OpenPSG/cpap/model"
)

// Calculate computes statistics for every signal name in the day whose
// declared range is non-negative, pooling samples across all sessions.
// Results are ordered by first appearance.
func Calculate(day *model.Day) []model.SignalStatistics {
	var names []string
	pooled := map[string][]float64{}
	excluded := map[string]bool{}

	for _, s := range day.Sessions {
		for _, sig := range s.Signals {
			if !sig.NonNegative() {
				excluded[sig.Name] = true
				continue
			}
			if _, seen := pooled[sig.Name]; !seen {
				names = append(names, sig.Name)
			}
			pooled[sig.Name] = append(pooled[sig.Name], sig.Samples...)
		}
	}

	var out []model.SignalStatistics
	for _, name := range names {
		if excluded[name] || len(pooled[name]) == 0 {
			continue
		}
		out = append(out, Compute(name, pooled[name]))
	}
	return out
}

// Compute sorts samples in place and takes the order statistics. Min is the
// sample at index n*0.01, a 1% trim of the low tail.
func Compute(name string, samples []float64) model.SignalStatistics {
	n := len(samples)
	if n == 0 {
		return model.SignalStatistics{Name: name}
	}
	sort.Float64s(samples)

	var sum float64
	for _, v := range samples {
		sum += v
	}

	return model.SignalStatistics{
		Name:    name,
		Count:   n,
		Min:     samples[rank(n, 0.01)],
		Median:  samples[n/2],
		Average: sum / float64(n),
		P95:     samples[rank(n, 0.95)],
		P995:    samples[rank(n, 0.995)],
		Max:     samples[n-1],
	}
}

func rank(n int, p float64) int {
	i := int(float64(n) * p)
	if i >= n {
		i = n - 1
	}
	return i
}
