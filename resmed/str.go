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
	"io"
	"math"
	"strings"
	"time"

	"github.com/OpenPSG/cpap/edf"
	"github.com/OpenPSG/cpap/model"
)

// Index signal labels.
const (
	strMode       = "Mode"
	strCPAPPress  = "S.C.Press"
	strAutoMin    = "S.AS.MinPress"
	strAutoMax    = "S.AS.MaxPress"
	strEPAP       = "S.S.EPAP"
	strIPAP       = "S.S.IPAP"
	strVAutoEPAP  = "S.VA.MinEPAP"
	strVAutoIPAP  = "S.VA.MaxIPAP"
	strVAutoPS    = "S.VA.PS"
	strEPRLevel   = "S.EPR.Level"
	strEPRType    = "S.EPR.EPRType"
	strHumEnable  = "S.HumEnable"
	strHumLevel   = "S.HumLevel"
	strRampEnable = "S.RampEnable"
	strRampTime   = "S.RampTime"
	strRampPress  = "S.RampPress"
	strMaskOn     = "MaskOn"
	strMaskOff    = "MaskOff"
)

// Mode values of the index.
const (
	modeCPAP        = 0
	modeAutoSet     = 1
	modeBilevel     = 2
	modeAutoBilevel = 3
)

// EPR type values of the index.
const (
	eprOff      = 0
	eprRampOnly = 1
	eprFullTime = 2
)

// MaskSentinel ends a day's mask-on/off block before it is full.
const MaskSentinel = -1

// Span is a provisional mask-on period taken from the index.
type Span struct {
	Start time.Time
	End   time.Time
}

// DayRecord is one transposed row of the index.
type DayRecord struct {
	Date     time.Time
	Settings model.MachineSettings
	Spans    []Span
}

// ReadIndex reads STR.edf. Every data record covers one day, and each signal
// contributes one settings value per record except the mask arrays, which
// hold a fixed-size block of minutes-since-noon values per record.
func ReadIndex(r io.ReadSeeker, loc *time.Location) ([]DayRecord, error) {
	er, err := edf.OpenInLocation(r, loc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptSignals, err)
	}
	hdr := er.Header()

	t := table{columns: map[string][]float64{}, width: map[string]int{}}
	for i, sig := range hdr.Signals {
		if sig.IsAnnotation() {
			continue
		}
		label := strings.TrimSpace(sig.Label)
		samples, err := er.ReadSignal(i)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrCorruptSignals, label, err)
		}
		t.columns[label] = samples
		t.width[label] = sig.SamplesPerRecord
	}

	for _, label := range []string{strMaskOn, strMaskOff} {
		if _, ok := t.columns[label]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingSignal, label)
		}
	}
	if t.width[strMaskOn] != t.width[strMaskOff] {
		return nil, fmt.Errorf("%w: mask blocks of %d and %d entries", ErrCorruptSignals, t.width[strMaskOn], t.width[strMaskOff])
	}

	first := model.DateOf(hdr.StartTime)
	records := make([]DayRecord, 0, hdr.DataRecords)
	for rec := range hdr.DataRecords {
		date := first.AddDate(0, 0, rec)
		records = append(records, DayRecord{
			Date:     date,
			Settings: t.settings(rec),
			Spans:    MaskSpans(date, t.block(strMaskOn, rec), t.block(strMaskOff, rec)),
		})
	}
	return records, nil
}

// MaskSpans pairs a day's mask-on and mask-off minutes into spans. Scanning
// stops at the first sentinel in either array.
func MaskSpans(date time.Time, on, off []float64) []Span {
	noon := time.Date(date.Year(), date.Month(), date.Day(), 12, 0, 0, 0, date.Location())
	var spans []Span
	for i := 0; i < len(on) && i < len(off); i++ {
		if isSentinel(on[i]) || isSentinel(off[i]) {
			break
		}
		spans = append(spans, Span{
			Start: noon.Add(minutes(on[i])),
			End:   noon.Add(minutes(off[i])),
		})
	}
	return spans
}

func isSentinel(v float64) bool {
	return math.Round(v) <= MaskSentinel
}

func minutes(v float64) time.Duration {
	return time.Duration(math.Round(v)) * time.Minute
}

// table holds the index columns by label.
type table struct {
	columns map[string][]float64
	width   map[string]int
}

func (t table) value(label string, rec int) (float64, bool) {
	col, ok := t.columns[label]
	i := rec * t.width[label]
	if !ok || i >= len(col) {
		return 0, false
	}
	return col[i], true
}

func (t table) block(label string, rec int) []float64 {
	w := t.width[label]
	col := t.columns[label]
	if (rec+1)*w > len(col) {
		return nil
	}
	return col[rec*w : (rec+1)*w]
}

// settings decodes one day's row into typed settings. Keys whose signals
// are absent from the index stay unset.
func (t table) settings(rec int) model.MachineSettings {
	var s model.MachineSettings
	get := func(label string) (float64, bool) { return t.value(label, rec) }

	if v, ok := get(strMode); ok {
		s.Mode = decodeMode(int(math.Round(v)))
	}
	s.Pressure = decodePressure(s.Mode, get)

	if kind, ok := get(strEPRType); ok {
		level, _ := get(strEPRLevel)
		s.Relief = &model.Relief{Kind: decodeEPR(int(math.Round(kind))), Level: int(math.Round(level))}
	}
	if enabled, ok := get(strHumEnable); ok {
		level, _ := get(strHumLevel)
		s.Humidifier = &model.Humidifier{Enabled: enabled >= 0.5, Level: int(math.Round(level))}
	}
	if enabled, ok := get(strRampEnable); ok {
		mins, _ := get(strRampTime)
		press, _ := get(strRampPress)
		s.Ramp = &model.Ramp{Enabled: enabled >= 0.5, Minutes: int(math.Round(mins)), Pressure: round(press)}
	}
	return s
}

func decodeMode(v int) model.Mode {
	switch v {
	case modeCPAP:
		return model.ModeCPAP
	case modeAutoSet:
		return model.ModeAPAP
	case modeBilevel:
		return model.ModeBilevelFixed
	case modeAutoBilevel:
		return model.ModeBilevelAuto
	default:
		return model.ModeUnknown
	}
}

func decodePressure(mode model.Mode, get func(string) (float64, bool)) model.Pressure {
	all := func(labels ...string) ([]float64, bool) {
		out := make([]float64, len(labels))
		for i, label := range labels {
			v, ok := get(label)
			if !ok {
				return nil, false
			}
			out[i] = round(v)
		}
		return out, true
	}

	switch mode {
	case model.ModeCPAP:
		if v, ok := all(strCPAPPress); ok {
			return model.FixedPressure{Pressure: v[0]}
		}
	case model.ModeAPAP:
		if v, ok := all(strAutoMin, strAutoMax); ok {
			return model.AutoPressure{Min: v[0], Max: v[1]}
		}
	case model.ModeBilevelFixed:
		if v, ok := all(strEPAP, strIPAP); ok {
			return model.BilevelPressure{EPAP: v[0], IPAP: v[1]}
		}
	case model.ModeBilevelAuto:
		if v, ok := all(strVAutoEPAP, strVAutoIPAP, strVAutoPS); ok {
			return model.AutoBilevelPressure{MinEPAP: v[0], MaxIPAP: v[1], PSMin: v[2], PSMax: v[2]}
		}
	}
	return nil
}

func decodeEPR(v int) model.ReliefKind {
	switch v {
	case eprRampOnly:
		return model.ReliefRampOnly
	case eprFullTime:
		return model.ReliefEPR
	default:
		return model.ReliefNone
	}
}

// round trims digital quantization noise to the index's 0.01 resolution.
func round(v float64) float64 {
	return math.Round(v*100) / 100
}
