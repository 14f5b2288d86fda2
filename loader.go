// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package cpap imports therapy data from CPAP device card images. It
// detects the card layout, reconstructs sessions into calendar days and
// computes per-day statistics.
package cpap

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/OpenPSG/cpap/events"
	"github.com/OpenPSG/cpap/model"
	"github.com/OpenPSG/cpap/prs1"
	"github.com/OpenPSG/cpap/resmed"
	"github.com/OpenPSG/cpap/stats"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Vendor names a supported card image layout.
type Vendor string

const (
	VendorPRS1   Vendor = prs1.Name
	VendorResMed Vendor = resmed.Name
)

// ErrUnrecognized is returned when a folder matches no known card layout.
var ErrUnrecognized = errors.New("unrecognized card image")

// Detect returns the vendor whose folder layout path satisfies.
func Detect(path string) (Vendor, error) {
	switch {
	case prs1.Detect(path):
		return VendorPRS1, nil
	case resmed.Detect(path):
		return VendorResMed, nil
	default:
		return "", &model.ImportError{Kind: model.KindStructural, Path: path, Err: ErrUnrecognized}
	}
}

// Options are the per-call inputs of LoadFromFolder.
type Options struct {
	// MinDate and MaxDate bound the returned days. Zero values are open ends.
	MinDate time.Time
	MaxDate time.Time
	// Settings defaults to DefaultSettings.
	Settings *ImportSettings
	// Logger defaults to one built from Settings.
	Logger *zap.Logger
}

// Result is the outcome of an import run.
type Result struct {
	RunID   uuid.UUID
	Vendor  Vendor
	Machine model.MachineInfo
	// Days in ascending date order.
	Days []*model.Day
	// Failures are the sessions and days dropped without aborting the run.
	Failures []*model.ImportError
}

// source is an opened card image of either vendor.
type source interface {
	Machine() model.MachineInfo
	Dates() []time.Time
	Failures() []*model.ImportError
	BuildDay(date time.Time) model.DayResult
}

// LoadFromFolder imports the card image at path. Structural and
// format-version problems fail the whole run; any other failure drops only
// the affected session or day and is listed in Result.Failures. Days are
// built concurrently, and a cancelled ctx stops the run before the next day
// starts.
func LoadFromFolder(ctx context.Context, path string, opts Options) (*Result, error) {
	settings := opts.Settings
	if settings == nil {
		settings = DefaultSettings()
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	loc, err := settings.Location()
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		if logger, err = NewLogger(settings.LogLevel, settings.LogFormat); err != nil {
			return nil, err
		}
	}

	res := &Result{RunID: uuid.New()}
	logger = logger.With(zap.String("run_id", res.RunID.String()), zap.String("path", path))

	if res.Vendor, err = Detect(path); err != nil {
		return nil, err
	}

	window := model.DateRange{From: opts.MinDate, To: opts.MaxDate}
	src, err := openSource(res.Vendor, path, window.Pad(1), settings, loc, logger)
	if err != nil {
		logger.Error("import failed", zap.Error(err))
		return nil, err
	}
	res.Machine = src.Machine()
	res.Failures = append(res.Failures, src.Failures()...)

	dates := src.Dates()
	results := make([]model.DayResult, len(dates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(settings.Workers)
	for i, date := range dates {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r := src.BuildDay(date)
			var ie *model.ImportError
			if errors.As(r.Err, &ie) && ie.Kind.Fatal() {
				return ie
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.Error("import failed", zap.Error(err))
		return nil, err
	}

	var sessions, eventCount int
	for _, r := range results {
		res.Failures = append(res.Failures, r.Discarded...)
		if r.Err != nil {
			logger.Warn("discarding day", zap.Time("date", r.Date), zap.Error(r.Err))
			res.Failures = append(res.Failures, dayError(r))
			continue
		}
		if r.Day == nil || !window.Contains(r.Date) {
			continue
		}
		r.Day.Statistics = stats.Calculate(r.Day)
		events.Finalize(r.Day)
		res.Days = append(res.Days, r.Day)
		sessions += len(r.Day.Sessions)
		eventCount += len(r.Day.Events)
	}
	sort.SliceStable(res.Days, func(i, j int) bool {
		return res.Days[i].Date.Before(res.Days[j].Date)
	})

	logger.Info("import complete",
		zap.String("vendor", string(res.Vendor)),
		zap.String("serial", res.Machine.Serial),
		zap.String("days", humanize.Comma(int64(len(res.Days)))),
		zap.String("sessions", humanize.Comma(int64(sessions))),
		zap.String("events", humanize.Comma(int64(eventCount))),
		zap.Int("failures", len(res.Failures)))
	return res, nil
}

func openSource(vendor Vendor, path string, window model.DateRange, settings *ImportSettings, loc *time.Location, logger *zap.Logger) (source, error) {
	switch vendor {
	case VendorPRS1:
		src, err := prs1.NewLoader(logger, loc).Open(path, window)
		if err != nil {
			return nil, err
		}
		return src, nil
	case VendorResMed:
		l := resmed.NewLoader(logger, loc)
		l.ClockDrift = settings.ClockDrift
		l.MinSessionDuration = settings.MinSessionDuration
		l.LargeLeakThreshold = settings.LargeLeakThreshold
		src, err := l.Open(path, window)
		if err != nil {
			return nil, err
		}
		return src, nil
	default:
		return nil, fmt.Errorf("no loader for vendor %q", vendor)
	}
}

func dayError(r model.DayResult) *model.ImportError {
	var ie *model.ImportError
	if errors.As(r.Err, &ie) {
		return ie
	}
	return &model.ImportError{Kind: model.KindData, Date: r.Date, Err: r.Err}
}
