// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package edf

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"
)

// maxRecordBytes is the data record size recommended by the EDF standard.
const maxRecordBytes = 61440

// Writer writes EDF files.
type Writer struct {
	w           io.WriteSeeker
	hdr         *Header
	dataRecords int // Number of data records written so far.
}

// Create creates a new EDF writer that writes to the given writer.
func Create(w io.WriteSeeker, hdr Header) (*Writer, error) {
	hdr.DataRecords = -1 // Unknown number of data records (at this time).
	hdr.SignalCount = len(hdr.Signals)

	ew := &Writer{w: w, hdr: &hdr}

	if err := ew.writeHeader(); err != nil {
		return nil, fmt.Errorf("error writing header: %w", err)
	}

	return ew, nil
}

// Close finalizes the EDF file by updating the header with the total number of data records.
func (ew *Writer) Close() error {
	ew.hdr.DataRecords = ew.dataRecords
	if err := ew.writeHeader(); err != nil {
		return fmt.Errorf("error writing header: %w", err)
	}

	return nil
}

// WriteRecord writes a single data record to the EDF file. signals holds one
// slice per ordinary signal, in header order, skipping annotation signals.
// annotations are encoded into the first annotation signal, after the
// time-keeping entry for the record.
func (ew *Writer) WriteRecord(signals [][]float64, annotations ...Annotation) error {
	return ew.WriteRecordAt(time.Duration(ew.dataRecords)*ew.hdr.DataRecordDuration, signals, annotations...)
}

// WriteRecordAt is WriteRecord with an explicit record onset, for EDF+D
// files whose records are not contiguous.
func (ew *Writer) WriteRecordAt(onset time.Duration, signals [][]float64, annotations ...Annotation) error {
	var ordinary int
	var recordBytes int
	for _, signal := range ew.hdr.Signals {
		if !signal.IsAnnotation() {
			ordinary++
		}
		recordBytes += signal.SamplesPerRecord * 2
	}
	if len(signals) != ordinary {
		return fmt.Errorf("expected %d signals, got %d", ordinary, len(signals))
	}

	if recordBytes > maxRecordBytes {
		return fmt.Errorf("data record too large: %d bytes, max is %d bytes", recordBytes, maxRecordBytes)
	}

	if _, err := ew.w.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	writer := bufio.NewWriter(ew.w)

	next := 0
	annotated := false
	for _, signal := range ew.hdr.Signals {
		if signal.IsAnnotation() {
			var pending []Annotation
			if !annotated {
				pending = annotations
				annotated = true
			}
			raw, err := encodeTALs(signal, onset, pending)
			if err != nil {
				return err
			}
			if _, err := writer.Write(raw); err != nil {
				return err
			}
			continue
		}

		samples := signals[next]
		next++
		if len(samples) != signal.SamplesPerRecord {
			return fmt.Errorf("signal %q: expected %d samples, got %d", signal.Label, signal.SamplesPerRecord, len(samples))
		}
		for _, sample := range samples {
			digitalValue := convertPhysicalToDigital(sample, signal.PhysicalMin, signal.PhysicalMax, signal.DigitalMin, signal.DigitalMax)
			if err := binary.Write(writer, binary.LittleEndian, digitalValue); err != nil {
				return err
			}
		}
	}

	if err := writer.Flush(); err != nil {
		return err
	}

	ew.dataRecords++
	return nil
}

// encodeTALs renders the time-keeping entry and annotations into the fixed
// byte budget of one annotation signal.
func encodeTALs(signal Signal, recordOnset time.Duration, annotations []Annotation) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(formatOnset(recordOnset))
	buf.WriteString("\x14\x14\x00")

	for _, a := range annotations {
		buf.WriteString(formatOnset(a.Onset))
		if a.Duration > 0 {
			buf.WriteByte(0x15)
			buf.WriteString(strconv.FormatFloat(a.Duration.Seconds(), 'f', -1, 64))
		}
		buf.WriteByte(0x14)
		buf.WriteString(a.Text)
		buf.WriteString("\x14\x00")
	}

	size := signal.SamplesPerRecord * 2
	if buf.Len() > size {
		return nil, fmt.Errorf("annotations need %d bytes, signal %q holds %d", buf.Len(), signal.Label, size)
	}
	raw := make([]byte, size)
	copy(raw, buf.Bytes())
	return raw, nil
}

// writeHeader writes the EDF header at the start of the file.
func (ew *Writer) writeHeader() error {
	if _, err := ew.w.Seek(0, io.SeekStart); err != nil {
		return err
	}

	ew.hdr.HeaderBytes = 256 + (ew.hdr.SignalCount * 256)

	var buf bytes.Buffer
	field := func(width int, format string, args ...any) {
		fmt.Fprintf(&buf, "%-*s", width, fmt.Sprintf(format, args...))
	}

	field(8, "%s", ew.hdr.Version)
	field(80, "%s", ew.hdr.PatientID)
	field(80, "%s", ew.hdr.RecordingID)
	field(8, "%s", ew.hdr.StartTime.Format("02.01.06"))
	field(8, "%s", ew.hdr.StartTime.Format("15.04.05"))
	field(8, "%d", ew.hdr.HeaderBytes)
	field(44, "%s", ew.hdr.Reserved)
	field(8, "%d", ew.hdr.DataRecords)
	field(8, "%s", formatRecordDuration(ew.hdr.DataRecordDuration))
	field(4, "%d", ew.hdr.SignalCount)

	for _, signal := range ew.hdr.Signals {
		field(16, "%s", signal.Label)
	}
	for _, signal := range ew.hdr.Signals {
		field(80, "%s", signal.TransducerType)
	}
	for _, signal := range ew.hdr.Signals {
		field(8, "%s", signal.PhysicalDimension)
	}
	for _, signal := range ew.hdr.Signals {
		buf.WriteString(formatPhysicalValue(signal.PhysicalMin))
	}
	for _, signal := range ew.hdr.Signals {
		buf.WriteString(formatPhysicalValue(signal.PhysicalMax))
	}
	for _, signal := range ew.hdr.Signals {
		field(8, "%d", signal.DigitalMin)
	}
	for _, signal := range ew.hdr.Signals {
		field(8, "%d", signal.DigitalMax)
	}
	for _, signal := range ew.hdr.Signals {
		field(80, "%s", signal.Prefiltering)
	}
	for _, signal := range ew.hdr.Signals {
		field(8, "%d", signal.SamplesPerRecord)
	}
	for range ew.hdr.Signals {
		field(32, "")
	}

	if buf.Len() != ew.hdr.HeaderBytes {
		return fmt.Errorf("header overflow: wrote %d bytes, expected %d", buf.Len(), ew.hdr.HeaderBytes)
	}

	_, err := ew.w.Write(buf.Bytes())
	return err
}

// convertPhysicalToDigital converts a physical value to a digital value using the calibration factors.
func convertPhysicalToDigital(physical float64, pmin, pmax float64, dmin, dmax int) int16 {
	if pmax == pmin {
		return 0 // Avoid division by zero
	}
	digital := math.Round(((physical - pmin) * (float64(dmax - dmin)) / (pmax - pmin)) + float64(dmin))
	return int16(math.Max(math.MinInt16, math.Min(math.MaxInt16, digital)))
}

func formatOnset(d time.Duration) string {
	return "+" + strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}

func formatRecordDuration(d time.Duration) string {
	s := d.Seconds()
	if s == math.Trunc(s) {
		return strconv.Itoa(int(s))
	}
	return strconv.FormatFloat(s, 'f', -1, 64)
}

func formatPhysicalValue(val float64) string {
	// Try with 2 decimal places
	s := fmt.Sprintf("%.2f", val)
	if len(s) > 8 {
		// Fall back to no decimal
		s = fmt.Sprintf("%.0f", val)
	}
	return fmt.Sprintf("%-8s", s)
}
