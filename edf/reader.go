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
	"strings"
	"time"
)

// Reader reads EDF/EDF+ files.
type Reader struct {
	r   io.ReadSeeker
	hdr *Header
}

// Open opens an EDF/EDF+ file for reading. The start time is interpreted as UTC.
func Open(r io.ReadSeeker) (*Reader, error) {
	return OpenInLocation(r, time.UTC)
}

// OpenInLocation opens an EDF/EDF+ file, interpreting the recorded start date
// and time as wall clock time in loc. Devices record local time without a zone.
func OpenInLocation(r io.ReadSeeker, loc *time.Location) (*Reader, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("error seeking to header: %w", err)
	}
	reader := bufio.NewReader(r)

	b := make([]byte, 256)
	if _, err := io.ReadFull(reader, b); err != nil {
		return nil, fmt.Errorf("error reading header: %w", err)
	}

	// Parse the fixed-width header fields
	hdr := &Header{}
	hdr.Version = Version(strings.TrimSpace(string(b[0:8])))
	hdr.PatientID = strings.TrimSpace(string(b[8:88]))
	hdr.RecordingID = strings.TrimSpace(string(b[88:168]))

	start, err := parseStartTime(strings.TrimSpace(string(b[168:176])), strings.TrimSpace(string(b[176:184])), loc)
	if err != nil {
		return nil, err
	}
	hdr.StartTime = start

	if hdr.HeaderBytes, err = strconv.Atoi(strings.TrimSpace(string(b[184:192]))); err != nil {
		return nil, fmt.Errorf("error parsing header bytes: %w", err)
	}
	hdr.Reserved = strings.TrimSpace(string(b[192:236]))

	if hdr.DataRecords, err = strconv.Atoi(strings.TrimSpace(string(b[236:244]))); err != nil {
		return nil, fmt.Errorf("error parsing number of data records: %w", err)
	}

	recordSeconds, err := strconv.ParseFloat(strings.TrimSpace(string(b[244:252])), 64)
	if err != nil {
		return nil, fmt.Errorf("error parsing data record duration: %w", err)
	}
	hdr.DataRecordDuration = secondsToDuration(recordSeconds)

	if hdr.SignalCount, err = strconv.Atoi(strings.TrimSpace(string(b[252:256]))); err != nil {
		return nil, fmt.Errorf("error parsing signal count: %w", err)
	}
	if hdr.SignalCount < 0 {
		return nil, fmt.Errorf("invalid signal count: %d", hdr.SignalCount)
	}

	// Signal headers are stored field by field, each field repeated for every signal.
	hdr.Signals = make([]Signal, hdr.SignalCount)
	fields := []struct {
		width int
		set   func(s *Signal, v []byte)
	}{
		{16, func(s *Signal, v []byte) { s.Label = strings.TrimSpace(string(v)) }},
		{80, func(s *Signal, v []byte) { s.TransducerType = strings.TrimSpace(string(v)) }},
		{8, func(s *Signal, v []byte) { s.PhysicalDimension = strings.TrimSpace(string(v)) }},
		{8, func(s *Signal, v []byte) { s.PhysicalMin = parseFloat(v) }},
		{8, func(s *Signal, v []byte) { s.PhysicalMax = parseFloat(v) }},
		{8, func(s *Signal, v []byte) { s.DigitalMin = parseInt(v) }},
		{8, func(s *Signal, v []byte) { s.DigitalMax = parseInt(v) }},
		{80, func(s *Signal, v []byte) { s.Prefiltering = strings.TrimSpace(string(v)) }},
		{8, func(s *Signal, v []byte) { s.SamplesPerRecord = parseInt(v) }},
		{32, func(s *Signal, v []byte) { s.Reserved = strings.TrimSpace(string(v)) }},
	}
	for _, field := range fields {
		for i := range hdr.Signals {
			v := make([]byte, field.width)
			if _, err := io.ReadFull(reader, v); err != nil {
				return nil, fmt.Errorf("error reading signal headers: %w", err)
			}
			field.set(&hdr.Signals[i], v)
		}
	}

	er := &Reader{r: r, hdr: hdr}
	if hdr.DataRecords < 0 {
		if hdr.DataRecords, err = er.countRecords(); err != nil {
			return nil, err
		}
	}

	return er, nil
}

// Header returns the parsed file header.
func (er *Reader) Header() *Header {
	return er.hdr
}

// SignalReader reads continuous signal data from an EDF/EDF+ file.
type SignalReader struct {
	r                io.ReadSeeker
	hdr              *Header
	signalIndex      int // Index of the signal to read
	currentRecord    int // Current record being processed
	currentSample    int // Current sample in the record
	recordSize       int // Total size of one data record
	signalOffset     int // Byte offset of the signal in a record
	samplesPerRecord int // Number of samples per record for the signal
}

// Signal creates a new SignalReader for a specified signal index.
func (er *Reader) Signal(signalIndex int) (*SignalReader, error) {
	if signalIndex < 0 || signalIndex >= len(er.hdr.Signals) {
		return nil, fmt.Errorf("signal index out of range")
	}

	return &SignalReader{
		r:                er.r,
		hdr:              er.hdr,
		signalIndex:      signalIndex,
		recordSize:       er.recordSize(),
		signalOffset:     er.signalOffset(signalIndex),
		samplesPerRecord: er.hdr.Signals[signalIndex].SamplesPerRecord,
	}, nil
}

// Read fills the provided float64 slice with the physical values from the signal.
func (sr *SignalReader) Read(data []float64) (int, error) {
	buf := make([]byte, 2)
	signal := sr.hdr.Signals[sr.signalIndex]

	n := 0
	for n < len(data) {
		if sr.currentRecord >= sr.hdr.DataRecords {
			return n, io.EOF // End of data records
		}

		// Calculate position to read the digital sample from
		pos := int64(sr.hdr.HeaderBytes) + int64(sr.currentRecord)*int64(sr.recordSize) + int64(sr.signalOffset) + int64(sr.currentSample*2)
		if _, err := sr.r.Seek(pos, io.SeekStart); err != nil {
			return n, fmt.Errorf("error seeking to position: %w", err)
		}

		if _, err := io.ReadFull(sr.r, buf); err != nil {
			return n, fmt.Errorf("error reading sample data: %w", err)
		}
		digitalValue := int16(binary.LittleEndian.Uint16(buf))
		data[n] = convertDigitalToPhysical(digitalValue, signal.DigitalMin, signal.DigitalMax, signal.PhysicalMin, signal.PhysicalMax)

		n++

		sr.currentSample++
		if sr.currentSample >= sr.samplesPerRecord {
			sr.currentSample = 0
			sr.currentRecord++
		}
	}

	return n, nil
}

// ReadSignal returns every physical sample of one signal, reading a whole
// record slice at a time.
func (er *Reader) ReadSignal(signalIndex int) ([]float64, error) {
	if signalIndex < 0 || signalIndex >= len(er.hdr.Signals) {
		return nil, fmt.Errorf("signal index out of range")
	}
	signal := er.hdr.Signals[signalIndex]
	if signal.IsAnnotation() {
		return nil, fmt.Errorf("signal %q is an annotation signal", signal.Label)
	}

	out := make([]float64, 0, signal.SamplesPerRecord*er.hdr.DataRecords)
	for record := range er.hdr.DataRecords {
		raw, err := er.readRecordSlice(record, signalIndex)
		if err != nil {
			return nil, err
		}
		for i := 0; i+1 < len(raw); i += 2 {
			digital := int16(binary.LittleEndian.Uint16(raw[i:]))
			out = append(out, convertDigitalToPhysical(digital, signal.DigitalMin, signal.DigitalMax, signal.PhysicalMin, signal.PhysicalMax))
		}
	}
	return out, nil
}

// Annotations decodes the EDF+ annotation lists of every annotation signal.
// The per-record time-keeping annotations carry no text and are omitted.
func (er *Reader) Annotations() ([]Annotation, error) {
	var annotations []Annotation
	for i, signal := range er.hdr.Signals {
		if !signal.IsAnnotation() {
			continue
		}
		for record := range er.hdr.DataRecords {
			raw, err := er.readRecordSlice(record, i)
			if err != nil {
				return nil, err
			}
			tals, err := parseTALs(raw)
			if err != nil {
				return nil, fmt.Errorf("error parsing annotations in record %d: %w", record, err)
			}
			annotations = append(annotations, tals...)
		}
	}
	return annotations, nil
}

// RecordOnsets returns the offset of every data record from the start time.
// EDF+D records take it from their time-keeping annotation; all other files
// are contiguous.
func (er *Reader) RecordOnsets() ([]time.Duration, error) {
	onsets := make([]time.Duration, er.hdr.DataRecords)
	for i := range onsets {
		onsets[i] = time.Duration(i) * er.hdr.DataRecordDuration
	}
	if strings.TrimSpace(er.hdr.Reserved) != ReservedDiscontinuous {
		return onsets, nil
	}

	annotationIndex := -1
	for i, signal := range er.hdr.Signals {
		if signal.IsAnnotation() {
			annotationIndex = i
			break
		}
	}
	if annotationIndex < 0 {
		return onsets, nil
	}

	for record := range onsets {
		raw, err := er.readRecordSlice(record, annotationIndex)
		if err != nil {
			return nil, err
		}
		field, _, _ := bytes.Cut(raw, []byte{0x14})
		field, _, _ = bytes.Cut(field, []byte{0x15})
		onset, err := strconv.ParseFloat(string(field), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid record %d onset %q: %w", record, field, err)
		}
		onsets[record] = secondsToDuration(onset)
	}
	return onsets, nil
}

func (er *Reader) readRecordSlice(record, signalIndex int) ([]byte, error) {
	pos := int64(er.hdr.HeaderBytes) + int64(record)*int64(er.recordSize()) + int64(er.signalOffset(signalIndex))
	if _, err := er.r.Seek(pos, io.SeekStart); err != nil {
		return nil, fmt.Errorf("error seeking to position: %w", err)
	}
	raw := make([]byte, er.hdr.Signals[signalIndex].SamplesPerRecord*2)
	if _, err := io.ReadFull(er.r, raw); err != nil {
		return nil, fmt.Errorf("error reading record %d: %w", record, err)
	}
	return raw, nil
}

func (er *Reader) recordSize() int {
	size := 0
	for _, sig := range er.hdr.Signals {
		size += sig.SamplesPerRecord * 2
	}
	return size
}

func (er *Reader) signalOffset(signalIndex int) int {
	offset := 0
	for _, sig := range er.hdr.Signals[:signalIndex] {
		offset += sig.SamplesPerRecord * 2
	}
	return offset
}

// countRecords derives the record count from the file size when the header
// was never finalized.
func (er *Reader) countRecords() (int, error) {
	end, err := er.r.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("error seeking to end: %w", err)
	}
	size := er.recordSize()
	if size == 0 {
		return 0, nil
	}
	return int((end - int64(er.hdr.HeaderBytes)) / int64(size)), nil
}

// parseTALs splits a raw annotation record into its Time-stamped Annotation Lists.
func parseTALs(raw []byte) ([]Annotation, error) {
	var out []Annotation
	for _, tal := range bytes.Split(raw, []byte{0}) {
		if len(tal) == 0 {
			continue
		}
		parts := bytes.Split(tal, []byte{0x14})
		onsetField, durationField, hasDuration := bytes.Cut(parts[0], []byte{0x15})

		onset, err := strconv.ParseFloat(string(onsetField), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid onset %q: %w", onsetField, err)
		}
		var duration float64
		if hasDuration && len(durationField) > 0 {
			if duration, err = strconv.ParseFloat(string(durationField), 64); err != nil {
				return nil, fmt.Errorf("invalid duration %q: %w", durationField, err)
			}
		}

		for _, text := range parts[1:] {
			if len(text) == 0 {
				continue
			}
			out = append(out, Annotation{
				Onset:    secondsToDuration(onset),
				Duration: secondsToDuration(duration),
				Text:     string(text),
			})
		}
	}
	return out, nil
}

func parseStartTime(dateStr, timeStr string, loc *time.Location) (time.Time, error) {
	startDate, err := time.Parse("02.01.06", dateStr)
	if err != nil {
		return time.Time{}, fmt.Errorf("error parsing start date: %w", err)
	}
	startTime, err := time.Parse("15.04.05", timeStr)
	if err != nil {
		return time.Time{}, fmt.Errorf("error parsing start time: %w", err)
	}

	// EDF clips two digit years at 1985.
	year := startDate.Year()
	if year < 1985 {
		year += 100
	}

	return time.Date(year, startDate.Month(), startDate.Day(),
		startTime.Hour(), startTime.Minute(), startTime.Second(), 0, loc), nil
}

// convertDigitalToPhysical converts a digital value from the data record to a physical value using the calibration factors.
func convertDigitalToPhysical(digital int16, dmin, dmax int, pmin, pmax float64) float64 {
	if dmax == dmin {
		return 0 // Avoid division by zero
	}
	return pmin + (float64(digital)-float64(dmin))*(pmax-pmin)/float64(dmax-dmin)
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}

func parseFloat(b []byte) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(string(b)), 64)
	if err != nil {
		return 0.0
	}
	return f
}

func parseInt(b []byte) int {
	i, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0
	}
	return i
}
