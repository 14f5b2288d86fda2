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
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/OpenPSG/cpap/edf"
	"github.com/OpenPSG/cpap/model"
)

// Data file types.
const (
	TypeBRP = "BRP" // breathing: flow and mask pressure
	TypePLD = "PLD" // low-rate therapy channels
	TypeSA2 = "SA2" // oximetry
	TypeSAD = "SAD" // oximetry, older devices
	TypeEVE = "EVE" // respiratory event annotations
	TypeCSL = "CSL" // Cheyne-Stokes annotations
)

var signalTypes = map[string]bool{TypeBRP: true, TypePLD: true, TypeSA2: true, TypeSAD: true}

const fileStampLayout = "20060102_150405"

// DataFile is a DATALOG file identified by its name.
type DataFile struct {
	Path string
	Type string
	// Stamp is the name's timestamp truncated to the minute. Only used to
	// find the owning session; the embedded EDF start time is authoritative.
	Stamp time.Time
}

// ParseFileName splits <yyyyMMdd_HHmmss>_<TYPE>.edf.
func ParseFileName(path string, loc *time.Location) (DataFile, error) {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	if !strings.EqualFold(ext, ".edf") {
		return DataFile{}, fmt.Errorf("%w: %s", ErrBadFileName, base)
	}
	stem := strings.TrimSuffix(base, ext)
	i := strings.LastIndexByte(stem, '_')
	if i < 0 {
		return DataFile{}, fmt.Errorf("%w: %s", ErrBadFileName, base)
	}
	kind := strings.ToUpper(stem[i+1:])
	if !signalTypes[kind] && kind != TypeEVE && kind != TypeCSL {
		return DataFile{}, fmt.Errorf("%w: %s", ErrBadFileName, base)
	}
	stamp, err := time.ParseInLocation(fileStampLayout, stem[:i], loc)
	if err != nil {
		return DataFile{}, fmt.Errorf("%w: %s: %w", ErrBadFileName, base, err)
	}
	return DataFile{Path: path, Type: kind, Stamp: stamp.Truncate(time.Minute)}, nil
}

// IsSignal reports whether the file carries sampled channels rather than annotations.
func (f DataFile) IsSignal() bool {
	return signalTypes[f.Type]
}

// channel is a canonical name plus the unit conversion applied at import.
type channel struct {
	name   string
	from   string // declared unit that triggers the conversion
	to     string
	factor float64
}

// channels maps device labels to canonical channels. Labels not listed are skipped.
var channels = map[string]channel{
	"Flow.40ms":   {name: model.SignalFlowRate, from: "L/s", to: "L/min", factor: 60},
	"Press.40ms":  {name: model.SignalMaskPressure},
	"Press.2s":    {name: model.SignalPressure},
	"EprPress.2s": {name: model.SignalEPAP},
	"Leak.2s":     {name: model.SignalLeak, from: "L/s", to: "L/min", factor: 60},
	"RespRate.2s": {name: model.SignalRespRate},
	"TidVol.2s":   {name: model.SignalTidalVolume, from: "L", to: "mL", factor: 1000},
	"MinVent.2s":  {name: model.SignalMinuteVent},
	"Snore.2s":    {name: model.SignalSnore},
	"FlowLim.2s":  {name: model.SignalFlowLimit, from: "", to: "%", factor: 100},
	"TgtVent.2s":  {name: model.SignalTargetVent},
	"SpO2.1s":     {name: model.SignalSpO2},
	"Pulse.1s":    {name: model.SignalPulse},
}

// CanonicalChannel returns the canonical name of a device label.
func CanonicalChannel(label string) (string, bool) {
	c, ok := channels[strings.TrimSpace(label)]
	return c.name, ok
}

// convert applies the channel's unit conversion when the declared unit matches.
func (c channel) convert(sig *model.Signal) {
	if c.factor == 0 || !strings.EqualFold(sig.Unit, c.from) {
		return
	}
	sig.Scale(c.factor, c.to)
}

// ReadSignals decodes every known channel of a signal file. A recording
// with gaps between records yields one signal per contiguous segment, so a
// channel may appear more than once. drift is added to every timestamp.
func ReadSignals(path string, loc *time.Location, drift time.Duration) ([]*model.Signal, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	er, err := edf.OpenInLocation(f, loc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptSignals, err)
	}
	hdr := er.Header()
	onsets, err := er.RecordOnsets()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptSignals, err)
	}
	segments := contiguous(onsets, hdr.DataRecordDuration)
	start := hdr.StartTime.Add(drift)

	var out []*model.Signal
	for i, s := range hdr.Signals {
		if s.IsAnnotation() {
			continue
		}
		c, ok := channels[strings.TrimSpace(s.Label)]
		if !ok {
			continue
		}
		rate := s.SampleRate(hdr.DataRecordDuration)
		if rate <= 0 {
			continue
		}
		samples, err := er.ReadSignal(i)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrCorruptSignals, s.Label, err)
		}
		for _, seg := range segments {
			from, to := seg.first*s.SamplesPerRecord, seg.last*s.SamplesPerRecord
			if to > len(samples) {
				to = len(samples)
			}
			if from >= to {
				continue
			}
			sig := model.NewSignal(c.name, strings.TrimSpace(s.PhysicalDimension), rate, s.PhysicalMin, s.PhysicalMax,
				start.Add(onsets[seg.first]), append([]float64(nil), samples[from:to]...))
			c.convert(sig)
			out = append(out, sig)
		}
	}
	return out, nil
}

// segment is a run of records [first, last).
type segment struct {
	first int
	last  int
}

// contiguous splits record onsets into runs without gaps.
func contiguous(onsets []time.Duration, recordDuration time.Duration) []segment {
	if len(onsets) == 0 {
		return nil
	}
	const tolerance = time.Millisecond
	var out []segment
	cur := segment{first: 0}
	for i := 1; i < len(onsets); i++ {
		delta := onsets[i] - onsets[i-1] - recordDuration
		if delta > tolerance || delta < -tolerance {
			cur.last = i
			out = append(out, cur)
			cur = segment{first: i}
		}
	}
	cur.last = len(onsets)
	return append(out, cur)
}

// ReadAnnotations returns the annotations of an annotation file and the
// file's start time, drift applied.
func ReadAnnotations(path string, loc *time.Location, drift time.Duration) (time.Time, []edf.Annotation, error) {
	f, err := os.Open(path)
	if err != nil {
		return time.Time{}, nil, err
	}
	defer f.Close()

	er, err := edf.OpenInLocation(f, loc)
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("%w: %w", ErrCorruptSignals, err)
	}
	annotations, err := er.Annotations()
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("%w: %w", ErrCorruptSignals, err)
	}
	return er.Header().StartTime.Add(drift), annotations, nil
}
