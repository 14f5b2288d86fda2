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
	"fmt"
	"time"
)

// EventType is the shared event taxonomy every vendor code maps into.
type EventType int

const (
	EventUnknown EventType = iota

	EventObstructiveApnea
	EventClearAirway
	EventApnea
	EventHypopnea
	EventRERA
	EventArousal
	EventFlowLimitation
	EventVibratorySnore
	EventPressurePulse

	EventDesaturation

	EventPulseChange

	EventCheyneStokes
	EventPeriodicBreathing
	EventVariableBreathing
	EventLargeLeak
	EventBreathingNotDetected
)

var eventTypeNames = [...]string{
	EventUnknown:              "Unknown",
	EventObstructiveApnea:     "ObstructiveApnea",
	EventClearAirway:          "ClearAirway",
	EventApnea:                "Apnea",
	EventHypopnea:             "Hypopnea",
	EventRERA:                 "RERA",
	EventArousal:              "Arousal",
	EventFlowLimitation:       "FlowLimitation",
	EventVibratorySnore:       "VibratorySnore",
	EventPressurePulse:        "PressurePulse",
	EventDesaturation:         "Desaturation",
	EventPulseChange:          "PulseChange",
	EventCheyneStokes:         "CheyneStokes",
	EventPeriodicBreathing:    "PeriodicBreathing",
	EventVariableBreathing:    "VariableBreathing",
	EventLargeLeak:            "LargeLeak",
	EventBreathingNotDetected: "BreathingNotDetected",
}

func (t EventType) String() string {
	if t < 0 || int(t) >= len(eventTypeNames) {
		return fmt.Sprintf("EventType(%d)", int(t))
	}
	return eventTypeNames[t]
}

// EventFamily groups event types for downstream aggregation.
type EventFamily int

const (
	FamilyOther EventFamily = iota
	FamilyApnea
	FamilyOxygen
	FamilyPulse
	FamilyBreathingPattern
)

func (f EventFamily) String() string {
	switch f {
	case FamilyApnea:
		return "Apnea"
	case FamilyOxygen:
		return "Oxygen"
	case FamilyPulse:
		return "Pulse"
	case FamilyBreathingPattern:
		return "BreathingPattern"
	default:
		return "Other"
	}
}

// Family returns the aggregation family of t.
func (t EventType) Family() EventFamily {
	switch t {
	case EventObstructiveApnea, EventClearAirway, EventApnea, EventHypopnea,
		EventRERA, EventArousal, EventFlowLimitation, EventVibratorySnore, EventPressurePulse:
		return FamilyApnea
	case EventDesaturation:
		return FamilyOxygen
	case EventPulseChange:
		return FamilyPulse
	case EventCheyneStokes, EventPeriodicBreathing, EventVariableBreathing,
		EventLargeLeak, EventBreathingNotDetected:
		return FamilyBreathingPattern
	default:
		return FamilyOther
	}
}

// MarkerPosition says whether an event's stored timestamp denotes the onset
// or the conclusion of the underlying condition.
type MarkerPosition int

const (
	MarkerOnset MarkerPosition = iota
	MarkerConclusion
)

func (m MarkerPosition) String() string {
	if m == MarkerConclusion {
		return "Conclusion"
	}
	return "Onset"
}

// Marker is fixed per event type: devices flag discrete respiratory events
// once they have been scored, span events are drawn from their onset.
func (t EventType) Marker() MarkerPosition {
	switch t.Family() {
	case FamilyApnea, FamilyOxygen, FamilyPulse:
		return MarkerConclusion
	default:
		return MarkerOnset
	}
}

// Event is a canonical reported event.
type Event struct {
	Type     EventType
	Start    time.Time
	Duration time.Duration
}

// End is Start + Duration.
func (e Event) End() time.Time {
	return e.Start.Add(e.Duration)
}

// Marker returns the timestamp marker position derived from the event type.
func (e Event) Marker() MarkerPosition {
	return e.Type.Marker()
}

// MarkerTime is the instant the marker is drawn at.
func (e Event) MarkerTime() time.Time {
	if e.Marker() == MarkerConclusion {
		return e.End()
	}
	return e.Start
}

func (e Event) String() string {
	return fmt.Sprintf("%s@%s+%s", e.Type, e.Start.Format(time.RFC3339), e.Duration)
}
