// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package model

import "fmt"

// Mode is the device operating mode.
type Mode int

const (
	ModeUnknown Mode = iota
	ModeCPAP
	ModeCPAPCheck
	ModeAPAP
	ModeBilevelFixed
	ModeBilevelAuto
)

func (m Mode) String() string {
	switch m {
	case ModeCPAP:
		return "CPAP"
	case ModeCPAPCheck:
		return "CPAP-Check"
	case ModeAPAP:
		return "APAP"
	case ModeBilevelFixed:
		return "Bi-Level"
	case ModeBilevelAuto:
		return "Auto Bi-Level"
	default:
		return "Unknown"
	}
}

// Pressure is the mode-specific pressure configuration. It is one of
// FixedPressure, AutoPressure, BilevelPressure or AutoBilevelPressure.
// Values are in cmH2O.
type Pressure interface {
	isPressure()
}

type FixedPressure struct {
	Pressure float64
}

type AutoPressure struct {
	Min float64
	Max float64
}

type BilevelPressure struct {
	EPAP float64
	IPAP float64
}

type AutoBilevelPressure struct {
	MinEPAP float64
	MaxIPAP float64
	PSMin   float64
	PSMax   float64
}

func (FixedPressure) isPressure()       {}
func (AutoPressure) isPressure()        {}
func (BilevelPressure) isPressure()     {}
func (AutoBilevelPressure) isPressure() {}

// ReliefKind names the vendor's expiratory pressure relief feature.
type ReliefKind int

const (
	ReliefNone ReliefKind = iota
	ReliefCFlex
	ReliefCFlexPlus
	ReliefAFlex
	ReliefBiFlex
	ReliefEPR
	ReliefRampOnly
)

func (k ReliefKind) String() string {
	switch k {
	case ReliefCFlex:
		return "C-Flex"
	case ReliefCFlexPlus:
		return "C-Flex+"
	case ReliefAFlex:
		return "A-Flex"
	case ReliefBiFlex:
		return "Bi-Flex"
	case ReliefEPR:
		return "EPR"
	case ReliefRampOnly:
		return "Ramp Only"
	default:
		return "None"
	}
}

// Relief covers Flex (vendor A) and EPR (vendor B).
type Relief struct {
	Kind   ReliefKind
	Level  int
	Locked bool
}

type Humidifier struct {
	Enabled    bool
	Level      int
	HeatedTube bool
}

type Ramp struct {
	Enabled  bool
	Minutes  int
	Pressure float64
}

type Mask struct {
	Resistance     int
	ResistanceLock bool
	HoseDiameter   int // mm
}

type Features struct {
	AutoOn    bool
	AutoOff   bool
	MaskAlert bool
	ShowAHI   bool
}

// MachineSettings is a snapshot of device configuration. Unset keys are nil
// (or ModeUnknown) so that Merge can apply them last-session-wins.
type MachineSettings struct {
	Mode       Mode
	Pressure   Pressure
	Relief     *Relief
	Humidifier *Humidifier
	Ramp       *Ramp
	Mask       *Mask
	Features   *Features
}

// Merge overwrites s key by key with every key next has set.
func (s MachineSettings) Merge(next MachineSettings) MachineSettings {
	if next.Mode != ModeUnknown {
		s.Mode = next.Mode
	}
	if next.Pressure != nil {
		s.Pressure = next.Pressure
	}
	if next.Relief != nil {
		s.Relief = next.Relief
	}
	if next.Humidifier != nil {
		s.Humidifier = next.Humidifier
	}
	if next.Ramp != nil {
		s.Ramp = next.Ramp
	}
	if next.Mask != nil {
		s.Mask = next.Mask
	}
	if next.Features != nil {
		s.Features = next.Features
	}
	return s
}

// PressureRange returns the lowest and highest pressure the settings allow.
func (s MachineSettings) PressureRange() (low, high float64, err error) {
	switch p := s.Pressure.(type) {
	case FixedPressure:
		return p.Pressure, p.Pressure, nil
	case AutoPressure:
		return p.Min, p.Max, nil
	case BilevelPressure:
		return p.EPAP, p.IPAP, nil
	case AutoBilevelPressure:
		return p.MinEPAP, p.MaxIPAP, nil
	case nil:
		return 0, 0, fmt.Errorf("pressure not set")
	default:
		return 0, 0, fmt.Errorf("unexpected pressure setting %T", p)
	}
}
