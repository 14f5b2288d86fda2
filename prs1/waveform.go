// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package prs1

import (
	"fmt"
	"math"
	"time"

	"github.com/OpenPSG/cpap/model"
)

const (
	// BaseRate is the raw flow sample rate in Hz. The upsampling factor is
	// only valid for this rate; other rates are rejected.
	BaseRate = 5
	// Upsample is the fixed display-resolution factor applied to raw flow.
	Upsample = 5

	// maxBenignOverlap is how far a chunk may start before the previous one
	// ended without the stream being considered out of order.
	maxBenignOverlap = time.Second
)

const sampleInterval = time.Second / BaseRate

// Waveform is the decoded flow stream of an .005 file.
type Waveform struct {
	Flow *model.Signal
	// Gaps are the zero-filled spans between chunks, reported as
	// breathing-not-detected events.
	Gaps []model.Event
}

// DecodeWaveform concatenates the raw samples of every chunk, zero-filling
// gaps between chunks, and upsamples the result.
func DecodeWaveform(chunks []*Chunk) (*Waveform, error) {
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: no waveform chunks", ErrTruncated)
	}

	w := &Waveform{}
	var raw []float64
	var start, expected time.Time
	for i, c := range chunks {
		if err := checkWaveformHeader(&c.Header); err != nil {
			return nil, fmt.Errorf("waveform chunk %d: %w", i, err)
		}
		if want := int(c.IntervalCount) * int(c.Channels[0].Interleave); len(c.Payload) != want {
			return nil, fmt.Errorf("waveform chunk %d: %w: %d samples, expected %d", i, ErrSampleCount, len(c.Payload), want)
		}

		if i == 0 {
			start = c.Timestamp
		} else {
			gap := c.Timestamp.Sub(expected)
			switch {
			case gap < -maxBenignOverlap:
				return nil, fmt.Errorf("%w: chunk %d starts %s before the previous chunk ended", ErrWaveformOverlap, i, -gap)
			case gap > sampleInterval:
				n := int(math.Round(gap.Seconds() * BaseRate))
				raw = append(raw, make([]float64, n)...)
				w.Gaps = append(w.Gaps, model.Event{Type: model.EventBreathingNotDetected, Start: expected, Duration: gap})
			}
		}

		for _, b := range c.Payload {
			raw = append(raw, float64(int8(b)))
		}
		expected = c.Timestamp.Add(c.Duration())
	}

	w.Flow = model.NewSignal(model.SignalFlowRate, "L/min", BaseRate*Upsample, -128, 127, start, upsample(raw, Upsample))
	return w, nil
}

func checkWaveformHeader(h *Header) error {
	if h.Kind != HeaderSignal {
		return fmt.Errorf("%w: waveform chunk without signal header", ErrCorruptHeader)
	}
	if len(h.Channels) != 1 {
		return fmt.Errorf("expected one flow channel, got %d", len(h.Channels))
	}
	if h.IntervalLength == 0 {
		return fmt.Errorf("%w: zero interval length", ErrCorruptHeader)
	}
	rate := float64(h.Channels[0].Interleave) / float64(h.IntervalLength)
	if rate != BaseRate {
		return fmt.Errorf("%w: %.2f Hz", ErrUnexpectedSampleRate, rate)
	}
	return nil
}

// upsample linearly interpolates factor samples between each pair of raw
// samples; the last raw sample is held.
func upsample(raw []float64, factor int) []float64 {
	out := make([]float64, 0, len(raw)*factor)
	for i, v := range raw {
		next := v
		if i+1 < len(raw) {
			next = raw[i+1]
		}
		for k := range factor {
			out = append(out, v+(next-v)*float64(k)/float64(factor))
		}
	}
	return out
}
