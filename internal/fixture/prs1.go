// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package fixture writes synthetic device card images for tests.
package fixture

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/OpenPSG/cpap/prs1"
	"github.com/stretchr/testify/require"
)

// Record is one code(1) delta(2) operands record of a summary or event payload.
type Record struct {
	Code     byte
	Delta    uint16
	Operands []byte
}

// Payload concatenates records.
func Payload(records ...Record) []byte {
	var out []byte
	for _, r := range records {
		out = append(out, r.Code)
		out = binary.LittleEndian.AppendUint16(out, r.Delta)
		out = append(out, r.Operands...)
	}
	return out
}

// Settings is the 24-byte block carried by Equipment-On.
type Settings struct {
	Mode         byte
	PressureLow  byte // tenths of cmH2O
	PressureHigh byte
	PSMin        byte
	PSMax        byte
	RampMinutes  byte
	RampPressure byte
	Flex         byte
	Humidifier   byte
	Mask         byte
	Features     byte
}

// Bytes renders the settings block.
func (s Settings) Bytes() []byte {
	b := make([]byte, prs1.SettingsSize)
	copy(b, []byte{s.Mode, s.PressureLow, s.PressureHigh, s.PSMin, s.PSMax, s.RampMinutes,
		s.RampPressure, s.Flex, s.Humidifier, s.Mask, s.Features})
	return b
}

func EquipmentOn(delta uint16, s Settings) Record {
	return Record{Code: prs1.SummaryEquipmentOn, Delta: delta, Operands: s.Bytes()}
}

func EquipmentOff(delta uint16) Record {
	return Record{Code: prs1.SummaryEquipmentOff, Delta: delta, Operands: make([]byte, 2)}
}

func MaskOn(delta uint16) Record {
	return Record{Code: prs1.SummaryMaskOn, Delta: delta, Operands: make([]byte, 1)}
}

func MaskOff(delta uint16) Record {
	return Record{Code: prs1.SummaryMaskOff, Delta: delta, Operands: make([]byte, 4)}
}

// Elapsed is an event stored as seconds before the cursor.
func Elapsed(code byte, delta uint16, elapsed byte) Record {
	return Record{Code: code, Delta: delta, Operands: []byte{elapsed}}
}

// Lasting is a duration-bearing event; seconds is stored halved.
func Lasting(code byte, delta uint16, seconds uint16, elapsed byte) Record {
	op := binary.LittleEndian.AppendUint16(nil, seconds/2)
	return Record{Code: code, Delta: delta, Operands: append(op, elapsed)}
}

// Header returns a supported standard chunk header.
func Header(session uint32, ext byte, ts time.Time) prs1.Header {
	return prs1.Header{
		FormatVersion: prs1.SupportedDataFormatVersion,
		Kind:          prs1.HeaderStandard,
		Family:        prs1.SupportedFamily,
		FamilyVersion: prs1.SupportedFamilyVersion,
		Extension:     ext,
		SessionNumber: session,
		Timestamp:     ts,
	}
}

// Chunk encodes a standard chunk.
func Chunk(session uint32, ext byte, ts time.Time, records ...Record) []byte {
	return prs1.EncodeChunk(Header(session, ext, ts), Payload(records...))
}

// WaveformChunk encodes a flow chunk of raw samples at rate Hz over
// one-second intervals.
func WaveformChunk(session uint32, ts time.Time, rate int, samples []int8) []byte {
	h := Header(session, prs1.ExtWaveform, ts)
	h.Kind = prs1.HeaderSignal
	h.IntervalCount = uint16(len(samples) / rate)
	h.IntervalLength = 1
	h.Channels = []prs1.WaveformChannel{{Format: 0, Interleave: uint16(rate)}}
	payload := make([]byte, len(samples))
	for i, v := range samples {
		payload[i] = byte(v)
	}
	return prs1.EncodeChunk(h, payload)
}

// Samples returns n raw samples of value v.
func Samples(n int, v int8) []int8 {
	out := make([]int8, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// PRS1Card writes a vendor A card image rooted at Root.
type PRS1Card struct {
	Root string
}

// NewPRS1Card creates the P-Series folder with a supported properties.txt.
func NewPRS1Card(t testing.TB, model, serial string) *PRS1Card {
	t.Helper()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "P-Series"), 0o755))
	props := fmt.Sprintf("Family=%d\nFamilyVersion=%d\nDataFormatVersion=%d\nModelNumber=%s\nSerialNumber=%s\n",
		prs1.SupportedFamily, prs1.SupportedFamilyVersion, prs1.SupportedDataFormatVersion, model, serial)
	require.NoError(t, os.WriteFile(filepath.Join(root, "P-Series", "properties.txt"), []byte(props), 0o644))
	return &PRS1Card{Root: root}
}

// WriteFile writes the chunks of one session file into a date bucket.
func (c *PRS1Card) WriteFile(t testing.TB, session uint32, ext byte, chunks ...[]byte) string {
	t.Helper()

	dir := filepath.Join(c.Root, "P-Series", fmt.Sprintf("P%d", session%10))
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, fmt.Sprintf("%010d.%03d", session, ext))
	var data []byte
	for _, chunk := range chunks {
		data = append(data, chunk...)
	}
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}
