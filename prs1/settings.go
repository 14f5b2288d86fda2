// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package prs1

import (
	"fmt"

	"github.com/OpenPSG/cpap/model"
)

// SettingsSize is the length of the settings block carried by Equipment-On.
const SettingsSize = 24

// Operating mode byte values.
const (
	modeCPAP        = 0
	modeCPAPCheck   = 1
	modeAutoCPAP    = 2
	modeBilevel     = 3
	modeAutoBilevel = 4
)

// Settings block offsets.
const (
	offMode        = 0
	offPressureLow = 1
	offPressureHi  = 2
	offPSMin       = 3
	offPSMax       = 4
	offRampTime    = 5
	offRampPress   = 6
	offFlex        = 7
	offHumidifier  = 8
	offMask        = 9
	offFeatures    = 10
)

// pressure values are stored in tenths of cmH2O.
func pressure(b byte) float64 {
	return float64(b) / 10
}

func decodeMode(b byte) (model.Mode, error) {
	switch b {
	case modeCPAP:
		return model.ModeCPAP, nil
	case modeCPAPCheck:
		return model.ModeCPAPCheck, nil
	case modeAutoCPAP:
		return model.ModeAPAP, nil
	case modeBilevel:
		return model.ModeBilevelFixed, nil
	case modeAutoBilevel:
		return model.ModeBilevelAuto, nil
	default:
		return model.ModeUnknown, fmt.Errorf("unknown operating mode %#02x", b)
	}
}

func decodePressure(mode model.Mode, low, high, psMin, psMax byte) model.Pressure {
	switch mode {
	case model.ModeAPAP:
		return model.AutoPressure{Min: pressure(low), Max: pressure(high)}
	case model.ModeBilevelFixed:
		return model.BilevelPressure{EPAP: pressure(low), IPAP: pressure(high)}
	case model.ModeBilevelAuto:
		return model.AutoBilevelPressure{
			MinEPAP: pressure(low),
			MaxIPAP: pressure(high),
			PSMin:   pressure(psMin),
			PSMax:   pressure(psMax),
		}
	default:
		return model.FixedPressure{Pressure: pressure(low)}
	}
}

// flex: bits 0-2 level, bits 3-4 kind, bit 7 locked.
func decodeFlex(mode model.Mode, b byte) *model.Relief {
	r := &model.Relief{Level: int(b & 0x07), Locked: b&0x80 != 0}
	switch (b >> 3) & 0x03 {
	case 1:
		r.Kind = model.ReliefCFlex
	case 2:
		r.Kind = model.ReliefCFlexPlus
	case 3:
		r.Kind = model.ReliefAFlex
	default:
		r.Kind = model.ReliefNone
	}
	if r.Kind != model.ReliefNone && (mode == model.ModeBilevelFixed || mode == model.ModeBilevelAuto) {
		r.Kind = model.ReliefBiFlex
	}
	return r
}

// humidifier: bits 0-2 level, bit 6 heated tube, bit 7 enabled.
func decodeHumidifier(b byte) *model.Humidifier {
	return &model.Humidifier{
		Enabled:    b&0x80 != 0,
		Level:      int(b & 0x07),
		HeatedTube: b&0x40 != 0,
	}
}

// mask: bits 0-2 resistance, bit 3 lock, bit 4 set for 15 mm hose.
func decodeMask(b byte) *model.Mask {
	m := &model.Mask{Resistance: int(b & 0x07), ResistanceLock: b&0x08 != 0, HoseDiameter: 22}
	if b&0x10 != 0 {
		m.HoseDiameter = 15
	}
	return m
}

func decodeFeatures(b byte) *model.Features {
	return &model.Features{
		AutoOn:    b&0x01 != 0,
		AutoOff:   b&0x02 != 0,
		MaskAlert: b&0x04 != 0,
		ShowAHI:   b&0x08 != 0,
	}
}

func decodeRamp(minutes, press byte) *model.Ramp {
	return &model.Ramp{Enabled: minutes > 0, Minutes: int(minutes), Pressure: pressure(press)}
}

// decodeSettings parses the fixed settings block.
func decodeSettings(b []byte) (model.MachineSettings, error) {
	if len(b) != SettingsSize {
		return model.MachineSettings{}, fmt.Errorf("settings block is %d bytes, expected %d", len(b), SettingsSize)
	}
	mode, err := decodeMode(b[offMode])
	if err != nil {
		return model.MachineSettings{}, err
	}
	return model.MachineSettings{
		Mode:       mode,
		Pressure:   decodePressure(mode, b[offPressureLow], b[offPressureHi], b[offPSMin], b[offPSMax]),
		Relief:     decodeFlex(mode, b[offFlex]),
		Humidifier: decodeHumidifier(b[offHumidifier]),
		Ramp:       decodeRamp(b[offRampTime], b[offRampPress]),
		Mask:       decodeMask(b[offMask]),
		Features:   decodeFeatures(b[offFeatures]),
	}, nil
}
