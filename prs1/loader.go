// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package prs1 decodes the chunked binary session files written by
// Philips Respironics System One (family 0, version 4) devices.
package prs1

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/OpenPSG/cpap/metasession"
	"github.com/OpenPSG/cpap/model"
	"github.com/OpenPSG/cpap/stats"
	"go.uber.org/zap"
)

// Name identifies this loader in logs.
const Name = "prs1"

const seriesDir = "P-Series"

// Loader opens vendor A card images.
type Loader struct {
	Logger   *zap.Logger
	Location *time.Location // device-local zone for chunk timestamps
}

// NewLoader returns a loader that logs to logger and interprets timestamps in loc.
func NewLoader(logger *zap.Logger, loc *time.Location) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Loader{Logger: logger.With(zap.String("loader", Name)), Location: loc}
}

// Detect reports whether root looks like a vendor A card image.
func Detect(root string) bool {
	_, err := os.Stat(filepath.Join(root, seriesDir, "properties.txt"))
	return err == nil
}

type sessionFiles struct {
	summary  string
	events   string
	waveform string
}

// span is the immutable provisional bounds of one mask-on period.
type span struct {
	id       string
	number   uint32
	start    time.Time
	end      time.Time
	settings model.MachineSettings
}

// Source is an opened card image: summaries are decoded and sessions are
// planned onto days, event and waveform files are decoded per day.
type Source struct {
	logger   *zap.Logger
	loc      *time.Location
	props    *Properties
	files    map[uint32]*sessionFiles
	spans    map[uint32][]span
	spanByID map[string]span
	plan     metasession.Plan
	failures []*model.ImportError
}

// Open validates the card image, decodes every summary file in file-name
// order and plans sessions whose start falls in window onto calendar days.
// Structural and format-version problems are returned as fatal errors.
func (l *Loader) Open(root string, window model.DateRange) (*Source, error) {
	propsPath := filepath.Join(root, seriesDir, "properties.txt")
	f, err := os.Open(propsPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = fmt.Errorf("%w: %s", ErrMissingFile, propsPath)
		}
		return nil, importError(propsPath, "", err)
	}
	props, err := ParseProperties(f)
	_ = f.Close()
	if err != nil {
		return nil, importError(propsPath, "", err)
	}

	files, err := scanSessionFiles(filepath.Join(root, seriesDir))
	if err != nil {
		return nil, importError(root, "", err)
	}

	s := &Source{
		logger:   l.Logger.With(zap.String("serial", props.SerialNumber)),
		loc:      l.Location,
		props:    props,
		files:    files,
		spans:    map[uint32][]span{},
		spanByID: map[string]span{},
	}

	var provisional []*model.Session
	for _, number := range sortedNumbers(files) {
		path := files[number].summary
		if path == "" {
			s.logger.Debug("session has no summary file", zap.Uint32("session", number))
			continue
		}

		summary, err := decodeFile(path, s.loc, DecodeSummary)
		if err != nil {
			ie := importError(path, strconv.FormatUint(uint64(number), 10), err)
			if ie.Kind.Fatal() {
				return nil, ie
			}
			s.logger.Error("discarding session", zap.String("path", path), zap.String("kind", ie.Kind.String()), zap.Error(err))
			s.failures = append(s.failures, ie)
			continue
		}
		if summary.Unterminated {
			s.logger.Warn("summary ended with mask on", zap.String("path", path))
		}

		for i, sp := range summary.Spans {
			if !window.Contains(sp.Start) {
				continue
			}
			id := sessionID(number, i, len(summary.Spans))
			p := span{id: id, number: number, start: sp.Start, end: sp.End, settings: sp.Settings}
			s.spans[number] = append(s.spans[number], p)
			s.spanByID[id] = p
			provisional = append(provisional, model.NewSession(id, model.SourceCPAP, sp.Start, sp.End))
		}
	}

	s.plan = metasession.Assign(provisional)
	s.logger.Info("card image indexed",
		zap.Int("sessions", len(provisional)),
		zap.Int("days", len(s.plan.Dates)),
		zap.Int("failures", len(s.failures)))
	return s, nil
}

// Machine returns the identity from properties.txt.
func (s *Source) Machine() model.MachineInfo {
	return s.props.Machine()
}

// Dates returns the planned calendar days in ascending order.
func (s *Source) Dates() []time.Time {
	return s.plan.Dates
}

// Failures returns sessions discarded while decoding summaries.
func (s *Source) Failures() []*model.ImportError {
	return s.failures
}

// BuildDay decodes the event and waveform files of every session planned on
// date and constructs the day. Sessions whose files fail to decode are
// discarded and reported; the rest of the day is kept. A structural or
// format-version failure fails the whole day in Err. BuildDay shares no
// mutable state with other dates and may run concurrently with them.
func (s *Source) BuildDay(date time.Time) model.DayResult {
	res := model.DayResult{Date: date}

	sessions := map[string]*model.Session{}
	seen := map[uint32]bool{}
	var numbers []uint32
	for _, p := range s.plan.Sessions[date] {
		sp := s.spanByID[p.ID]
		sess := model.NewSession(sp.id, model.SourceCPAP, sp.start, sp.end)
		sess.Settings = sp.settings
		sessions[sp.id] = sess
		if !seen[sp.number] {
			seen[sp.number] = true
			numbers = append(numbers, sp.number)
		}
	}
	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })

	for _, number := range numbers {
		path, err := s.attach(number, sessions)
		if err == nil {
			continue
		}
		ie := importError(path, strconv.FormatUint(uint64(number), 10), err)
		ie.Date = date
		if ie.Kind.Fatal() {
			s.logger.Error("unsupported session file", zap.Time("date", date), zap.String("path", path), zap.Error(err))
			res.Err = ie
			return res
		}
		s.logger.Warn("discarding session",
			zap.Time("date", date),
			zap.String("path", path),
			zap.String("kind", ie.Kind.String()),
			zap.Error(err))
		res.Discarded = append(res.Discarded, ie)
		for _, sp := range s.spans[number] {
			delete(sessions, sp.id)
		}
	}

	if len(sessions) == 0 {
		return res
	}
	kept := make([]*model.Session, 0, len(sessions))
	for _, sess := range sessions {
		kept = append(kept, sess)
	}
	day := metasession.BuildDay(date, kept)
	day.Machine = s.props.Machine()
	res.Day = day
	return res
}

// attach decodes the event and waveform files of one session number and
// attaches their content to the spans owned by this day. It returns the
// path of the file that failed.
func (s *Source) attach(number uint32, sessions map[string]*model.Session) (string, error) {
	files := s.files[number]
	spans := s.spans[number]
	owned := func(i int) *model.Session {
		if i < 0 {
			return nil
		}
		return sessions[spans[i].id]
	}

	points := map[string][]stats.Point{}
	if files.events != "" {
		data, err := decodeFile(files.events, s.loc, DecodeEvents)
		if err != nil {
			return files.events, err
		}
		for _, e := range data.Events {
			if sess := owned(pickSpan(spans, e.Start, e.End())); sess != nil {
				sess.AddEvents(e)
			}
		}
		points = data.Points
	}

	if files.waveform != "" {
		wf, err := decodeFile(files.waveform, s.loc, DecodeWaveform)
		if err != nil {
			return files.waveform, err
		}
		if sess := owned(pickSpan(spans, wf.Flow.Start, wf.Flow.End)); sess != nil {
			if err := sess.AddSignal(wf.Flow); err != nil {
				return files.waveform, err
			}
			sess.AddEvents(wf.Gaps...)
			if len(wf.Gaps) > 0 {
				s.logger.Debug("zero-filled waveform gaps", zap.String("session", sess.ID), zap.Int("gaps", len(wf.Gaps)))
			}
		} else {
			s.logger.Debug("missing optional waveform", zap.Uint32("session", number))
		}
	}

	for i, sp := range spans {
		sess := owned(i)
		if sess == nil {
			continue
		}
		for _, ch := range statChannels {
			var pts []stats.Point
			for _, p := range points[ch.Name] {
				if pickSpan(spans, p.Time, p.Time) == i {
					pts = append(pts, p)
				}
			}
			if sig := stats.Resample(ch, pts, sp.start, sp.end); sig != nil {
				if err := sess.AddSignal(sig); err != nil {
					return files.events, err
				}
			}
		}
		sess.RecomputeBounds()
	}
	return "", nil
}

// pickSpan returns the index of the span with the greatest overlap with
// [start, end]. A disjoint interval's overlap is its negative distance, so
// the nearest span wins when nothing overlaps. It returns -1 for no spans.
func pickSpan(spans []span, start, end time.Time) int {
	best, bestOverlap := -1, time.Duration(0)
	for i, sp := range spans {
		lo, hi := sp.start, sp.end
		if start.After(lo) {
			lo = start
		}
		if end.Before(hi) {
			hi = end
		}
		if overlap := hi.Sub(lo); best < 0 || overlap > bestOverlap {
			best, bestOverlap = i, overlap
		}
	}
	return best
}

func decodeFile[T any](path string, loc *time.Location, decode func([]*Chunk) (T, error)) (T, error) {
	var zero T
	data, err := os.ReadFile(path)
	if err != nil {
		return zero, err
	}
	chunks, err := DecodeChunks(data, loc)
	if err != nil {
		return zero, err
	}
	return decode(chunks)
}

// scanSessionFiles finds <session>.001/.002/.005 files anywhere below dir,
// in file-name order.
func scanSessionFiles(dir string) (map[uint32]*sessionFiles, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error scanning %s: %w", dir, err)
	}
	sort.SliceStable(paths, func(i, j int) bool {
		return filepath.Base(paths[i]) < filepath.Base(paths[j])
	})

	files := map[uint32]*sessionFiles{}
	for _, path := range paths {
		base := filepath.Base(path)
		stem, ext, ok := strings.Cut(base, ".")
		if !ok || len(stem) != 10 {
			continue
		}
		number, err := strconv.ParseUint(stem, 10, 32)
		if err != nil {
			continue
		}
		sf := files[uint32(number)]
		if sf == nil {
			sf = &sessionFiles{}
			files[uint32(number)] = sf
		}
		switch ext {
		case fmt.Sprintf("%03d", ExtSummary):
			sf.summary = path
		case fmt.Sprintf("%03d", ExtEvents):
			sf.events = path
		case fmt.Sprintf("%03d", ExtWaveform):
			sf.waveform = path
		}
	}
	return files, nil
}

func sortedNumbers(files map[uint32]*sessionFiles) []uint32 {
	numbers := make([]uint32, 0, len(files))
	for n := range files {
		numbers = append(numbers, n)
	}
	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })
	return numbers
}

func sessionID(number uint32, index, count int) string {
	if count == 1 {
		return strconv.FormatUint(uint64(number), 10)
	}
	return fmt.Sprintf("%d-%d", number, index+1)
}
