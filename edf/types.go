// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package edf reads and writes EDF/EDF+ biosignal containers, including the
// EDF+ annotation channel used by CPAP devices to record clinical events.
package edf

import (
	"strings"
	"time"
)

type Version string

const (
	// Version0 represents the version of the EDF/EDF+ standard.
	Version0 Version = "0"
)

const (
	// AnnotationLabel is the label of an EDF+ annotation signal.
	AnnotationLabel = "EDF Annotations"

	// ReservedContinuous marks an uninterrupted EDF+ recording.
	ReservedContinuous = "EDF+C"
	// ReservedDiscontinuous marks an EDF+ recording with gaps between records.
	ReservedDiscontinuous = "EDF+D"
)

// Header represents the EDF/EDF+ file header.
type Header struct {
	Version            Version       // Version of the EDF/EDF+ standard (usually "0")
	PatientID          string        // Identification of the patient
	RecordingID        string        // Identification of the recording session
	StartTime          time.Time     // Start date of the recording
	HeaderBytes        int           // Number of bytes in the header
	Reserved           string        // EDF+C, EDF+D or empty for plain EDF
	DataRecordDuration time.Duration // Duration of a single data record in seconds
	DataRecords        int           // Number of data records, -1 if unknown
	SignalCount        int           // Number of signals in each data record
	Signals            []Signal      // Details of each signal
}

// Duration is the total time covered by all data records.
func (h *Header) Duration() time.Duration {
	if h.DataRecords <= 0 {
		return 0
	}
	return time.Duration(h.DataRecords) * h.DataRecordDuration
}

// Signal represents the characteristics of each signal in the EDF/EDF+ file.
type Signal struct {
	Label             string  // Label of the signal (e.g., EEG Fpz-Cz)
	TransducerType    string  // Type of transducer used
	PhysicalDimension string  // Physical dimension (e.g., uV, mV)
	PhysicalMin       float64 // Minimum physical value
	PhysicalMax       float64 // Maximum physical value
	DigitalMin        int     // Minimum digital value
	DigitalMax        int     // Maximum digital value
	Prefiltering      string  // Pre-filtering information
	SamplesPerRecord  int     // Number of samples in each data record for this signal
	Reserved          string  // Reserved for future use
}

// IsAnnotation reports whether the signal carries EDF+ annotations rather than samples.
func (s Signal) IsAnnotation() bool {
	return strings.TrimSpace(s.Label) == AnnotationLabel
}

// SampleRate returns the number of samples per second given the record duration.
func (s Signal) SampleRate(recordDuration time.Duration) float64 {
	if recordDuration <= 0 {
		return 0
	}
	return float64(s.SamplesPerRecord) / recordDuration.Seconds()
}

// Annotation is a single entry of an EDF+ Time-stamped Annotation List.
type Annotation struct {
	Onset    time.Duration // Offset from the file start time
	Duration time.Duration // Zero when the annotation has no duration
	Text     string
}
