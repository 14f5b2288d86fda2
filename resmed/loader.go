// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package resmed loads ResMed SD card images: the STR.edf settings index,
// Identification.tgt and the per-day EDF files under DATALOG.
package resmed

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/OpenPSG/cpap/events"
	"github.com/OpenPSG/cpap/metasession"
	"github.com/OpenPSG/cpap/model"
	"go.uber.org/zap"
)

// Name identifies this loader in logs.
const Name = "resmed"

const (
	indexFile          = "STR.edf"
	identificationFile = "Identification.tgt"
	dataDir            = "DATALOG"
	folderLayout       = "20060102"
)

const (
	DefaultMinSessionDuration = time.Minute
	DefaultLargeLeakThreshold = 24.0 // L/min
)

// Loader opens vendor B card images.
type Loader struct {
	Logger   *zap.Logger
	Location *time.Location
	// ClockDrift is added to every timestamp read from the card.
	ClockDrift time.Duration
	// MinSessionDuration discards shorter mask-on spans from the index.
	MinSessionDuration time.Duration
	// LargeLeakThreshold is the leak rate above which large-leak events are synthesized.
	LargeLeakThreshold float64
}

// NewLoader returns a loader with the default session and leak limits.
func NewLoader(logger *zap.Logger, loc *time.Location) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Loader{
		Logger:             logger.With(zap.String("loader", Name)),
		Location:           loc,
		MinSessionDuration: DefaultMinSessionDuration,
		LargeLeakThreshold: DefaultLargeLeakThreshold,
	}
}

// Detect reports whether root looks like a vendor B card image.
func Detect(root string) bool {
	_, err := os.Stat(filepath.Join(root, indexFile))
	return err == nil
}

type provisional struct {
	id       string
	start    time.Time
	end      time.Time
	settings model.MachineSettings
}

// Source is an opened card image with its sessions planned onto days.
type Source struct {
	logger    *zap.Logger
	loc       *time.Location
	drift     time.Duration
	threshold float64
	root      string
	ident     *Identification
	byID      map[string]provisional
	plan      metasession.Plan
}

// Open reads the identification and index files and plans the index's
// mask-on spans whose start falls in window onto calendar days.
func (l *Loader) Open(root string, window model.DateRange) (*Source, error) {
	ident, err := l.readIdentification(root)
	if err != nil {
		return nil, err
	}

	indexPath := filepath.Join(root, indexFile)
	f, err := os.Open(indexPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = fmt.Errorf("%w: %s", ErrMissingFile, indexPath)
		}
		return nil, importError(indexPath, "", err)
	}
	records, err := ReadIndex(f, l.Location)
	_ = f.Close()
	if err != nil {
		return nil, importError(indexPath, "", err)
	}

	if info, err := os.Stat(filepath.Join(root, dataDir)); err != nil || !info.IsDir() {
		path := filepath.Join(root, dataDir)
		return nil, importError(path, "", fmt.Errorf("%w: %s", ErrMissingFile, path))
	}

	s := &Source{
		logger:    l.Logger.With(zap.String("serial", ident.Serial)),
		loc:       l.Location,
		drift:     l.ClockDrift,
		threshold: l.LargeLeakThreshold,
		root:      root,
		ident:     ident,
		byID:      map[string]provisional{},
	}

	var sessions []*model.Session
	for _, rec := range records {
		for i, sp := range rec.Spans {
			start, end := sp.Start.Add(l.ClockDrift), sp.End.Add(l.ClockDrift)
			if end.Sub(start) < l.MinSessionDuration {
				s.logger.Debug("discarding short session",
					zap.Time("start", start), zap.Duration("duration", end.Sub(start)))
				continue
			}
			if !window.Contains(start) {
				continue
			}
			p := provisional{
				id:       fmt.Sprintf("%s-%d", rec.Date.Format(folderLayout), i+1),
				start:    start,
				end:      end,
				settings: rec.Settings,
			}
			s.byID[p.id] = p
			sessions = append(sessions, model.NewSession(p.id, model.SourceCPAP, start, end))
		}
	}

	s.plan = metasession.Assign(sessions)
	s.logger.Info("card image indexed",
		zap.Int("index_days", len(records)),
		zap.Int("sessions", len(sessions)),
		zap.Int("days", len(s.plan.Dates)))
	return s, nil
}

func (l *Loader) readIdentification(root string) (*Identification, error) {
	path := filepath.Join(root, identificationFile)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = fmt.Errorf("%w: %s", ErrMissingFile, path)
		}
		return nil, importError(path, "", err)
	}
	defer f.Close()

	ident, err := ParseIdentification(f)
	if err != nil {
		return nil, importError(path, "", err)
	}
	return ident, nil
}

// Machine returns the identity from Identification.tgt.
func (s *Source) Machine() model.MachineInfo {
	return s.ident.Machine()
}

// Dates returns the planned calendar days in ascending order.
func (s *Source) Dates() []time.Time {
	return s.plan.Dates
}

// Failures is always empty: index problems fail Open.
func (s *Source) Failures() []*model.ImportError {
	return nil
}

// family is a provisional session plus the siblings forked from it when a
// recording discontinuity produced a second copy of a channel.
type family struct {
	p       provisional
	members []*model.Session
	events  []model.Event
}

func newFamily(p provisional) *family {
	f := &family{p: p}
	f.fork()
	return f
}

func (f *family) fork() *model.Session {
	id := f.p.id
	if n := len(f.members); n > 0 {
		id = fmt.Sprintf("%s.%d", f.p.id, n)
	}
	sess := model.NewSession(id, model.SourceCPAP, f.p.start, f.p.end)
	sess.Settings = f.p.settings
	f.members = append(f.members, sess)
	return sess
}

// attach gives sig to the first member lacking its channel, forking a new
// sibling over the same window when every member already has it.
func (f *family) attach(sig *model.Signal) (forked bool) {
	for _, m := range f.members {
		if !m.HasSignal(sig.Name) {
			_ = m.AddSignal(sig)
			return false
		}
	}
	_ = f.fork().AddSignal(sig)
	return true
}

// owns reports whether a file named at stamp belongs to this family.
func (f *family) owns(stamp time.Time) bool {
	return !stamp.Before(f.p.start.Truncate(time.Minute)) && !stamp.After(f.p.end)
}

// BuildDay reads the DATALOG files of the sessions planned on date and
// constructs the day. Files that fail to decode are skipped and reported;
// BuildDay shares no mutable state with other dates.
func (s *Source) BuildDay(date time.Time) model.DayResult {
	res := model.DayResult{Date: date}
	logger := s.logger.With(zap.Time("date", date))

	var families []*family
	for _, p := range s.plan.Sessions[date] {
		families = append(families, newFamily(s.byID[p.ID]))
	}

	files, err := s.dayFiles(date)
	if err != nil {
		res.Err = &model.ImportError{Kind: model.KindData, Path: filepath.Join(s.root, dataDir), Date: date, Err: err}
		return res
	}

	for _, file := range files {
		var owner *family
		for _, f := range families {
			if f.owns(file.Stamp) {
				owner = f
				break
			}
		}
		if owner == nil {
			continue
		}
		if err := s.readFile(logger, file, owner); err != nil {
			ie := importError(file.Path, owner.p.id, err)
			ie.Date = date
			if ie.Kind == model.KindInvariant {
				logger.Error("invariant violation", zap.String("path", file.Path), zap.Error(err))
			} else {
				logger.Warn("skipping file", zap.String("path", file.Path), zap.Error(err))
			}
			res.Discarded = append(res.Discarded, ie)
		}
	}

	var kept []*model.Session
	for _, f := range families {
		kept = append(kept, s.finish(logger, f)...)
	}
	if len(kept) == 0 {
		return res
	}
	day := metasession.BuildDay(date, kept)
	day.Machine = s.ident.Machine()
	res.Day = day
	return res
}

func (s *Source) readFile(logger *zap.Logger, file DataFile, owner *family) error {
	switch {
	case file.IsSignal():
		signals, err := ReadSignals(file.Path, s.loc, s.drift)
		if err != nil {
			return err
		}
		for _, sig := range signals {
			if owner.attach(sig) {
				logger.Debug("recording discontinuity, forked session",
					zap.String("session", owner.p.id), zap.String("signal", sig.Name))
			}
		}
	case file.Type == TypeEVE:
		start, annotations, err := ReadAnnotations(file.Path, s.loc, s.drift)
		if err != nil {
			return err
		}
		evs, skipped := Events(start, annotations)
		owner.events = append(owner.events, evs...)
		if len(skipped) > 0 {
			logger.Debug("skipped unknown annotations", zap.Strings("texts", skipped))
		}
	case file.Type == TypeCSL:
		start, annotations, err := ReadAnnotations(file.Path, s.loc, s.drift)
		if err != nil {
			return err
		}
		evs, orphans, err := CheyneStokes(start, annotations)
		if err != nil {
			return err
		}
		owner.events = append(owner.events, evs...)
		if orphans > 0 {
			logger.Warn("CSR end without start", zap.String("path", file.Path), zap.Int("count", orphans))
		}
	}
	return nil
}

// finish strips absent sensors, drops empty members, recomputes bounds and
// synthesizes large-leak events. Annotation events go to the first
// surviving member.
func (s *Source) finish(logger *zap.Logger, f *family) []*model.Session {
	var kept []*model.Session
	for _, m := range f.members {
		for _, sig := range append([]*model.Signal(nil), m.Signals...) {
			if sig.SensorAbsent() {
				logger.Debug("stripping absent sensor", zap.String("session", m.ID), zap.String("signal", sig.Name))
				m.RemoveSignal(sig.Name)
			}
		}
		if len(m.Signals) == 0 {
			continue
		}
		m.RecomputeBounds()
		if leak := m.Signal(model.SignalLeak); leak != nil {
			m.AddEvents(events.AboveThreshold(leak, s.threshold, model.EventLargeLeak)...)
		}
		kept = append(kept, m)
	}
	if len(kept) > 0 {
		kept[0].AddEvents(f.events...)
	} else if len(f.events) > 0 {
		logger.Debug("dropping events of session without signals", zap.String("session", f.p.id), zap.Int("events", len(f.events)))
	}
	return kept
}

// dayFiles lists the data files in the folders of the day before, the day
// itself and the day after, in file-name order.
func (s *Source) dayFiles(date time.Time) ([]DataFile, error) {
	var files []DataFile
	for offset := -1; offset <= 1; offset++ {
		dir := filepath.Join(s.root, dataDir, date.AddDate(0, 0, offset).Format(folderLayout))
		entries, err := os.ReadDir(dir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			file, err := ParseFileName(filepath.Join(dir, e.Name()), s.loc)
			if err != nil {
				if !strings.EqualFold(filepath.Ext(e.Name()), ".crc") {
					s.logger.Debug("ignoring file", zap.String("path", filepath.Join(dir, e.Name())))
				}
				continue
			}
			file.Stamp = file.Stamp.Add(s.drift)
			files = append(files, file)
		}
	}
	sort.SliceStable(files, func(i, j int) bool {
		return filepath.Base(files[i].Path) < filepath.Base(files[j].Path)
	})
	return files, nil
}
