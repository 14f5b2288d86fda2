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
	"encoding/binary"
	"fmt"
	"time"

	"github.com/OpenPSG/cpap/model"
	"github.com/OpenPSG/cpap/stats"
)

// Event record codes. Every record is code(1) delta(2) operands.
const (
	EventPressure             = 0x01
	EventHumidifier           = 0x02
	EventClearAirway          = 0x03
	EventObstructiveApnea     = 0x04
	EventHypopnea             = 0x05
	EventApnea                = 0x06
	EventRERA                 = 0x07
	EventFlowLimitation       = 0x08
	EventVibratorySnore       = 0x09
	EventPressurePulse        = 0x0a
	EventVariableBreathing    = 0x0b
	EventPeriodicBreathing    = 0x0c
	EventLargeLeak            = 0x0d
	EventHypopneaType2        = 0x0e
	EventLeakSnoreEPAP        = 0x0f
	EventArousal              = 0x10
	EventTimeAdvance          = 0x11
	EventBreathingNotDetected = 0x12
)

type operandLayout int

const (
	layoutElapsed  operandLayout = iota // elapsed(1)
	layoutDuration                      // duration(2, x2 s) elapsed(1)
	layoutPressure                      // pressure(1)
	layoutHumidifier                    // level(1)
	layoutTriple                        // leak(1) snore(1) EPAP(1)
	layoutNone
)

var layoutSizes = map[operandLayout]int{
	layoutElapsed:    1,
	layoutDuration:   3,
	layoutPressure:   1,
	layoutHumidifier: 1,
	layoutTriple:     3,
	layoutNone:       0,
}

type eventCode struct {
	layout operandLayout
	typ    model.EventType
}

// eventCodes maps device event codes to their operand layout and canonical type.
var eventCodes = map[byte]eventCode{
	EventPressure:             {layoutPressure, model.EventUnknown},
	EventHumidifier:           {layoutHumidifier, model.EventUnknown},
	EventClearAirway:          {layoutElapsed, model.EventClearAirway},
	EventObstructiveApnea:     {layoutElapsed, model.EventObstructiveApnea},
	EventHypopnea:             {layoutElapsed, model.EventHypopnea},
	EventApnea:                {layoutElapsed, model.EventApnea},
	EventRERA:                 {layoutElapsed, model.EventRERA},
	EventFlowLimitation:       {layoutElapsed, model.EventFlowLimitation},
	EventVibratorySnore:       {layoutElapsed, model.EventVibratorySnore},
	EventPressurePulse:        {layoutElapsed, model.EventPressurePulse},
	EventVariableBreathing:    {layoutDuration, model.EventVariableBreathing},
	EventPeriodicBreathing:    {layoutDuration, model.EventPeriodicBreathing},
	EventLargeLeak:            {layoutDuration, model.EventLargeLeak},
	EventHypopneaType2:        {layoutDuration, model.EventHypopnea},
	EventLeakSnoreEPAP:        {layoutTriple, model.EventUnknown},
	EventArousal:              {layoutElapsed, model.EventArousal},
	EventTimeAdvance:          {layoutNone, model.EventUnknown},
	EventBreathingNotDetected: {layoutDuration, model.EventBreathingNotDetected},
}

// CanonicalEvent returns the shared event type of a device event code.
func CanonicalEvent(code byte) (model.EventType, bool) {
	c, ok := eventCodes[code]
	if !ok || c.typ == model.EventUnknown {
		return model.EventUnknown, false
	}
	return c.typ, true
}

// Channels the statistic points are resampled into.
var (
	ChannelPressure   = stats.Channel{Name: model.SignalPressure, Unit: "cmH2O", PhysicalMin: 0, PhysicalMax: 25.5}
	ChannelHumidifier = stats.Channel{Name: model.SignalHumidifier, Unit: "", PhysicalMin: 0, PhysicalMax: 7}
	ChannelTotalLeak  = stats.Channel{Name: model.SignalTotalLeak, Unit: "L/min", PhysicalMin: 0, PhysicalMax: 255}
	ChannelSnore      = stats.Channel{Name: model.SignalSnore, Unit: "", PhysicalMin: 0, PhysicalMax: 255}
	ChannelEPAP       = stats.Channel{Name: model.SignalEPAP, Unit: "cmH2O", PhysicalMin: 0, PhysicalMax: 25.5}
)

// EventData is the decoded content of an .002 file: discrete events plus
// statistic points keyed by channel name.
type EventData struct {
	Events []model.Event
	Points map[string][]stats.Point
}

// DecodeEvents walks the event records of every chunk in order.
func DecodeEvents(chunks []*Chunk) (*EventData, error) {
	out := &EventData{Points: map[string][]stats.Point{}}
	for i, c := range chunks {
		if err := out.decodeChunk(c.Timestamp, c.Payload); err != nil {
			return nil, fmt.Errorf("event chunk %d: %w", i, err)
		}
	}
	return out, nil
}

func (ed *EventData) decodeChunk(cursor time.Time, p []byte) error {
	for pos := 0; pos < len(p); {
		code := p[pos]
		ec, ok := eventCodes[code]
		if !ok {
			return fmt.Errorf("%w: event code %#02x at %d", ErrUnknownCode, code, pos)
		}
		size := layoutSizes[ec.layout]
		if pos+3+size > len(p) {
			return fmt.Errorf("%w: event code %#02x needs %d bytes at %d", ErrTruncated, code, size, pos)
		}
		cursor = cursor.Add(time.Duration(binary.LittleEndian.Uint16(p[pos+1:pos+3])) * time.Second)
		ed.apply(ec, cursor, p[pos+3:pos+3+size])
		pos += 3 + size
	}
	return nil
}

func (ed *EventData) apply(ec eventCode, t time.Time, op []byte) {
	switch ec.layout {
	case layoutElapsed:
		elapsed := time.Duration(op[0]) * time.Second
		ed.Events = append(ed.Events, model.Event{Type: ec.typ, Start: t.Add(-elapsed)})
	case layoutDuration:
		duration := time.Duration(binary.LittleEndian.Uint16(op[0:2])) * 2 * time.Second
		elapsed := time.Duration(op[2]) * time.Second
		ed.Events = append(ed.Events, model.Event{Type: ec.typ, Start: t.Add(-elapsed - duration), Duration: duration})
	case layoutPressure:
		ed.point(ChannelPressure.Name, t, pressure(op[0]))
	case layoutHumidifier:
		ed.point(ChannelHumidifier.Name, t, float64(op[0]&0x07))
	case layoutTriple:
		ed.point(ChannelTotalLeak.Name, t, float64(op[0]))
		ed.point(ChannelSnore.Name, t, float64(op[1]))
		ed.point(ChannelEPAP.Name, t, pressure(op[2]))
	case layoutNone:
	}
}

func (ed *EventData) point(name string, t time.Time, v float64) {
	ed.Points[name] = append(ed.Points[name], stats.Point{Time: t, Value: v})
}

// statChannels lists the resampled channels in attachment order.
var statChannels = []stats.Channel{ChannelPressure, ChannelEPAP, ChannelTotalLeak, ChannelSnore, ChannelHumidifier}
