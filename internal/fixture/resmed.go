// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package fixture

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/OpenPSG/cpap/edf"
	"github.com/stretchr/testify/require"
)

// maskBlock is the number of mask-on/off slots per index record.
const maskBlock = 10

// ResMedCard writes a vendor B card image rooted at Root.
type ResMedCard struct {
	Root string
}

// NewResMedCard writes Identification.tgt and an empty DATALOG folder.
func NewResMedCard(t testing.TB, serial, productCode string) *ResMedCard {
	t.Helper()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "DATALOG"), 0o755))
	ident := fmt.Sprintf("#IMF 0001\n#VIR 0064\n#SRN %s\n#PNA AirSense_10_AutoSet\n#PCD %s\n", serial, productCode)
	require.NoError(t, os.WriteFile(filepath.Join(root, "Identification.tgt"), []byte(ident), 0o644))
	return &ResMedCard{Root: root}
}

// IndexDay is one record of STR.edf. Mask times are minutes since noon; the
// block is padded with the -1 sentinel.
type IndexDay struct {
	Mode      float64
	Pressure  float64
	MinPress  float64
	MaxPress  float64
	EPRType   float64
	EPRLevel  float64
	HumEnable float64
	HumLevel  float64
	MaskOn    []float64
	MaskOff   []float64
}

// WriteIndex writes STR.edf with one record per day starting at first.
func (c *ResMedCard) WriteIndex(t testing.TB, first time.Time, days ...IndexDay) {
	t.Helper()

	setting := func(label string, max float64) edf.Signal {
		return edf.Signal{Label: label, PhysicalMin: 0, PhysicalMax: max, DigitalMin: 0, DigitalMax: int(max * 100), SamplesPerRecord: 1}
	}
	mask := func(label string) edf.Signal {
		return edf.Signal{Label: label, PhysicalDimension: "min", PhysicalMin: -1, PhysicalMax: 1440, DigitalMin: -1, DigitalMax: 1440, SamplesPerRecord: maskBlock}
	}

	w := c.create(t, filepath.Join(c.Root, "STR.edf"), edf.Header{
		Version:            edf.Version0,
		StartTime:          time.Date(first.Year(), first.Month(), first.Day(), 12, 0, 0, 0, first.Location()),
		DataRecordDuration: 24 * time.Hour,
		Signals: []edf.Signal{
			setting("Mode", 10),
			setting("S.C.Press", 30),
			setting("S.AS.MinPress", 30),
			setting("S.AS.MaxPress", 30),
			setting("S.EPR.EPRType", 2),
			setting("S.EPR.Level", 3),
			setting("S.HumEnable", 1),
			setting("S.HumLevel", 8),
			mask("MaskOn"),
			mask("MaskOff"),
		},
	})
	for _, d := range days {
		require.NoError(t, w.WriteRecord([][]float64{
			{d.Mode}, {d.Pressure}, {d.MinPress}, {d.MaxPress},
			{d.EPRType}, {d.EPRLevel}, {d.HumEnable}, {d.HumLevel},
			padMask(d.MaskOn), padMask(d.MaskOff),
		}))
	}
	require.NoError(t, w.Close())
}

func padMask(values []float64) []float64 {
	out := make([]float64, maskBlock)
	for i := range out {
		out[i] = -1
	}
	copy(out, values)
	return out
}

// Channel is one signal of a data file. Samples must fill whole records.
type Channel struct {
	Label            string
	Unit             string
	Min              float64
	Max              float64
	SamplesPerRecord int
	Samples          []float64
}

// SignalFile describes a DATALOG signal file.
type SignalFile struct {
	Start          time.Time
	Type           string
	RecordDuration time.Duration
	Channels       []Channel
	// Onsets of each record, relative to Start, for an EDF+D file. Nil
	// writes a contiguous file.
	Onsets []time.Duration
}

// WriteSignals writes a signal file into the DATALOG folder of folder's date.
func (c *ResMedCard) WriteSignals(t testing.TB, folder time.Time, f SignalFile) string {
	t.Helper()

	hdr := edf.Header{Version: edf.Version0, Reserved: edf.ReservedContinuous, StartTime: f.Start, DataRecordDuration: f.RecordDuration}
	for _, ch := range f.Channels {
		hdr.Signals = append(hdr.Signals, edf.Signal{
			Label:             ch.Label,
			PhysicalDimension: ch.Unit,
			PhysicalMin:       ch.Min,
			PhysicalMax:       ch.Max,
			DigitalMin:        0,
			DigitalMax:        30000,
			SamplesPerRecord:  ch.SamplesPerRecord,
		})
	}
	if f.Onsets != nil {
		hdr.Reserved = edf.ReservedDiscontinuous
		hdr.Signals = append(hdr.Signals, edf.Signal{Label: edf.AnnotationLabel, DigitalMin: -32768, DigitalMax: 32767, SamplesPerRecord: 10})
	}

	path := c.dataPath(t, folder, f.Start, f.Type)
	w := c.create(t, path, hdr)
	records := len(f.Channels[0].Samples) / f.Channels[0].SamplesPerRecord
	for rec := range records {
		signals := make([][]float64, len(f.Channels))
		for i, ch := range f.Channels {
			signals[i] = ch.Samples[rec*ch.SamplesPerRecord : (rec+1)*ch.SamplesPerRecord]
		}
		onset := time.Duration(rec) * f.RecordDuration
		if f.Onsets != nil {
			onset = f.Onsets[rec]
		}
		require.NoError(t, w.WriteRecordAt(onset, signals))
	}
	require.NoError(t, w.Close())
	return path
}

// WriteAnnotations writes an EVE or CSL file holding one record.
func (c *ResMedCard) WriteAnnotations(t testing.TB, folder, start time.Time, kind string, annotations ...edf.Annotation) string {
	t.Helper()

	path := c.dataPath(t, folder, start, kind)
	w := c.create(t, path, edf.Header{
		Version:            edf.Version0,
		Reserved:           edf.ReservedContinuous,
		StartTime:          start,
		DataRecordDuration: time.Second,
		Signals: []edf.Signal{
			{Label: edf.AnnotationLabel, DigitalMin: -32768, DigitalMax: 32767, SamplesPerRecord: 20 + 24*len(annotations)},
		},
	})
	require.NoError(t, w.WriteRecord(nil, annotations...))
	require.NoError(t, w.Close())
	return path
}

func (c *ResMedCard) dataPath(t testing.TB, folder, start time.Time, kind string) string {
	t.Helper()

	dir := filepath.Join(c.Root, "DATALOG", folder.Format("20060102"))
	require.NoError(t, os.MkdirAll(dir, 0o755))
	return filepath.Join(dir, fmt.Sprintf("%s_%s.edf", start.Format("20060102_150405"), kind))
}

func (c *ResMedCard) create(t testing.TB, path string, hdr edf.Header) *edf.Writer {
	t.Helper()

	f, err := os.Create(path)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = f.Close()
	})
	w, err := edf.Create(f, hdr)
	require.NoError(t, err)
	return w
}

// Constant returns n copies of v.
func Constant(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}
