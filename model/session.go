// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrDuplicateSignal is returned when a session already holds a signal of the same name.
var ErrDuplicateSignal = errors.New("duplicate signal")

// SourceType is the device category a session was recorded by.
type SourceType string

const (
	SourceCPAP     SourceType = "CPAP"
	SourceOximetry SourceType = "Oximetry"
)

// Session is one contiguous recording.
type Session struct {
	ID       string
	Source   SourceType
	Start    time.Time
	End      time.Time
	Signals  []*Signal
	Events   []Event
	Settings MachineSettings
}

// NewSession creates a session with provisional bounds.
func NewSession(id string, source SourceType, start, end time.Time) *Session {
	return &Session{ID: id, Source: source, Start: start, End: end}
}

// Signal returns the signal called name, or nil.
func (s *Session) Signal(name string) *Signal {
	for _, sig := range s.Signals {
		if sig.Name == name {
			return sig
		}
	}
	return nil
}

// HasSignal reports whether a signal called name is attached.
func (s *Session) HasSignal(name string) bool {
	return s.Signal(name) != nil
}

// AddSignal attaches sig. Signal names are unique within a session.
func (s *Session) AddSignal(sig *Signal) error {
	if s.HasSignal(sig.Name) {
		return fmt.Errorf("session %s: %w: %s", s.ID, ErrDuplicateSignal, sig.Name)
	}
	s.Signals = append(s.Signals, sig)
	return nil
}

// RemoveSignal detaches the signal called name.
func (s *Session) RemoveSignal(name string) {
	kept := s.Signals[:0]
	for _, sig := range s.Signals {
		if sig.Name != name {
			kept = append(kept, sig)
		}
	}
	s.Signals = kept
}

// AddEvents appends events.
func (s *Session) AddEvents(events ...Event) {
	s.Events = append(s.Events, events...)
}

// RecomputeBounds replaces the provisional bounds with the union of the
// attached signals' bounds. Sessions without signals keep their bounds.
func (s *Session) RecomputeBounds() {
	if len(s.Signals) == 0 {
		return
	}
	start, end := s.Signals[0].Start, s.Signals[0].End
	for _, sig := range s.Signals[1:] {
		if sig.Start.Before(start) {
			start = sig.Start
		}
		if sig.End.After(end) {
			end = sig.End
		}
	}
	s.Start, s.End = start, end
}

// Duration is End - Start.
func (s *Session) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// Contains reports whether t lies within [Start, End].
func (s *Session) Contains(t time.Time) bool {
	return !t.Before(s.Start) && !t.After(s.End)
}
