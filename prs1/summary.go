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
)

// Summary record codes. Every record is code(1) delta(2) operands.
const (
	SummaryEquipmentOn    = 0x00
	SummaryPressureUpdate = 0x01
	SummaryMaskOn         = 0x02
	SummaryMaskOff        = 0x03
	SummaryHumidifier     = 0x04
	SummaryFlex           = 0x05
	SummaryRamp           = 0x06
	SummaryEquipmentOff   = 0x07
)

var summaryOperandSizes = map[byte]int{
	SummaryEquipmentOn:    SettingsSize,
	SummaryPressureUpdate: 2,
	SummaryMaskOn:         1,
	SummaryMaskOff:        4,
	SummaryHumidifier:     1,
	SummaryFlex:           1,
	SummaryRamp:           2,
	SummaryEquipmentOff:   2,
}

// Span is one mask-on to mask-off period with the settings in force at its end.
type Span struct {
	Start    time.Time
	End      time.Time
	Settings model.MachineSettings
}

// Summary is the decoded session boundary and settings stream of a .001 file.
type Summary struct {
	SessionNumber uint32
	EquipmentOn   time.Time
	EquipmentOff  time.Time
	Spans         []Span
	Settings      model.MachineSettings
	// Unterminated is set when the stream ended with the mask still on.
	Unterminated bool
}

// maskState is either maskIdle or maskOpen.
type maskState interface {
	isMaskState()
}

type maskIdle struct{}

type maskOpen struct {
	since time.Time
}

func (maskIdle) isMaskState() {}
func (maskOpen) isMaskState() {}

type summaryDecoder struct {
	summary  *Summary
	state    maskState
	settings model.MachineSettings
	pressure [4]byte // low, high, PS min, PS max
	cursor   time.Time
}

// DecodeSummary walks the summary records of every chunk in order. The
// timestamp cursor starts at each chunk's header time and advances by every
// record's delta before the record is applied.
func DecodeSummary(chunks []*Chunk) (*Summary, error) {
	d := &summaryDecoder{summary: &Summary{}, state: maskIdle{}}
	for i, c := range chunks {
		if i == 0 {
			d.summary.SessionNumber = c.SessionNumber
		}
		d.cursor = c.Timestamp
		if err := d.decodeChunk(c.Payload); err != nil {
			return nil, fmt.Errorf("summary chunk %d: %w", i, err)
		}
	}

	if open, ok := d.state.(maskOpen); ok {
		d.closeSpan(open, d.cursor)
		d.summary.Unterminated = true
	}
	d.summary.Settings = d.settings
	return d.summary, nil
}

func (d *summaryDecoder) decodeChunk(p []byte) error {
	for pos := 0; pos < len(p); {
		code := p[pos]
		size, ok := summaryOperandSizes[code]
		if !ok {
			return fmt.Errorf("%w: summary code %#02x at %d", ErrUnknownCode, code, pos)
		}
		if pos+3+size > len(p) {
			return fmt.Errorf("%w: summary code %#02x needs %d bytes at %d", ErrTruncated, code, size, pos)
		}
		d.cursor = d.cursor.Add(time.Duration(binary.LittleEndian.Uint16(p[pos+1:pos+3])) * time.Second)
		operands := p[pos+3 : pos+3+size]
		if err := d.apply(code, operands); err != nil {
			return err
		}
		pos += 3 + size
	}
	return nil
}

func (d *summaryDecoder) apply(code byte, op []byte) error {
	switch code {
	case SummaryEquipmentOn:
		settings, err := decodeSettings(op)
		if err != nil {
			return err
		}
		copy(d.pressure[:], op[offPressureLow:offPSMax+1])
		d.settings = settings
		d.summary.EquipmentOn = d.cursor
	case SummaryPressureUpdate:
		d.pressure[0], d.pressure[1] = op[0], op[1]
		d.settings.Pressure = decodePressure(d.settings.Mode, d.pressure[0], d.pressure[1], d.pressure[2], d.pressure[3])
	case SummaryHumidifier:
		d.settings.Humidifier = decodeHumidifier(op[0])
	case SummaryFlex:
		d.settings.Relief = decodeFlex(d.settings.Mode, op[0])
	case SummaryRamp:
		d.settings.Ramp = decodeRamp(op[0], op[1])
	case SummaryMaskOn:
		return d.maskOn()
	case SummaryMaskOff:
		return d.maskOff()
	case SummaryEquipmentOff:
		if open, ok := d.state.(maskOpen); ok {
			d.closeSpan(open, d.cursor)
		}
		d.summary.EquipmentOff = d.cursor
	}
	return nil
}

func (d *summaryDecoder) maskOn() error {
	switch s := d.state.(type) {
	case maskIdle:
		d.state = maskOpen{since: d.cursor}
		return nil
	case maskOpen:
		return fmt.Errorf("%w: mask-on at %s while open since %s", ErrMaskSequence,
			d.cursor.Format(time.RFC3339), s.since.Format(time.RFC3339))
	default:
		return fmt.Errorf("unexpected mask state %T", s)
	}
}

func (d *summaryDecoder) maskOff() error {
	switch s := d.state.(type) {
	case maskOpen:
		d.closeSpan(s, d.cursor)
		return nil
	case maskIdle:
		return fmt.Errorf("%w: mask-off at %s while closed", ErrMaskSequence, d.cursor.Format(time.RFC3339))
	default:
		return fmt.Errorf("unexpected mask state %T", s)
	}
}

func (d *summaryDecoder) closeSpan(open maskOpen, end time.Time) {
	d.summary.Spans = append(d.summary.Spans, Span{Start: open.since, End: end, Settings: d.settings})
	d.state = maskIdle{}
}
