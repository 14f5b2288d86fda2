// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package resmed

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/OpenPSG/cpap/edf"
	"github.com/OpenPSG/cpap/model"
)

const (
	textRecordingStarts = "Recording starts"
	textCSRStart        = "CSR Start"
	textCSREnd          = "CSR End"
)

// eventTexts maps event annotation texts to canonical types.
var eventTexts = map[string]model.EventType{
	"Obstructive Apnea": model.EventObstructiveApnea,
	"Central Apnea":     model.EventClearAirway,
	"Hypopnea":          model.EventHypopnea,
	"Apnea":             model.EventApnea,
	"Arousal":           model.EventArousal,
	"RERA":              model.EventRERA,
	"SpO2 Desaturation": model.EventDesaturation,
	"Pulse Rate Change": model.EventPulseChange,
}

// CanonicalEvent returns the canonical type of an event annotation text.
func CanonicalEvent(text string) (model.EventType, bool) {
	typ, ok := eventTexts[strings.TrimSpace(text)]
	return typ, ok
}

// Events converts event annotations relative to start. Texts without a
// canonical type are returned in skipped.
func Events(start time.Time, annotations []edf.Annotation) (events []model.Event, skipped []string) {
	for _, a := range annotations {
		text := strings.TrimSpace(a.Text)
		if text == textRecordingStarts {
			continue
		}
		typ, ok := eventTexts[text]
		if !ok {
			skipped = append(skipped, text)
			continue
		}
		events = append(events, model.Event{Type: typ, Start: start.Add(a.Onset), Duration: a.Duration})
	}
	return events, skipped
}

// CheyneStokes pairs CSR start and end annotations into events. An end
// without a start is counted in orphans; a start that is never ended, or is
// followed by another start, fails with ErrUnmatchedCSR.
func CheyneStokes(start time.Time, annotations []edf.Annotation) (events []model.Event, orphans int, err error) {
	sorted := append([]edf.Annotation(nil), annotations...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Onset < sorted[j].Onset })

	var open *time.Time
	for _, a := range sorted {
		t := start.Add(a.Onset)
		switch strings.TrimSpace(a.Text) {
		case textCSRStart:
			if open != nil {
				return nil, orphans, fmt.Errorf("%w at %s", ErrUnmatchedCSR, open.Format(time.RFC3339))
			}
			open = &t
		case textCSREnd:
			if open == nil {
				orphans++
				continue
			}
			events = append(events, model.Event{Type: model.EventCheyneStokes, Start: *open, Duration: t.Sub(*open)})
			open = nil
		}
	}
	if open != nil {
		return nil, orphans, fmt.Errorf("%w at %s", ErrUnmatchedCSR, open.Format(time.RFC3339))
	}
	return events, orphans, nil
}
