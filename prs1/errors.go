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
	"errors"

	"github.com/OpenPSG/cpap/model"
)

var (
	ErrMissingFile              = errors.New("required file missing")
	ErrMissingProperty          = errors.New("required property missing")
	ErrUnsupportedMachine       = errors.New("unsupported machine family or version")
	ErrUnsupportedFormatVersion = errors.New("unsupported format version")
	ErrCorruptHeader            = errors.New("header checksum mismatch")
	ErrCorruptBlock             = errors.New("block checksum mismatch")
	ErrTruncated                = errors.New("truncated chunk")
	ErrMaskSequence             = errors.New("mask on/off out of sequence")
	ErrUnknownCode              = errors.New("unknown record code")
	ErrWaveformOverlap          = errors.New("waveform chunks overlap")
	ErrUnexpectedSampleRate     = errors.New("unexpected waveform sample rate")
	ErrSampleCount              = errors.New("waveform sample count does not match header")
)

// kindOf classifies a decode error for reporting.
func kindOf(err error) model.ErrorKind {
	switch {
	case errors.Is(err, ErrMissingFile):
		return model.KindStructural
	case errors.Is(err, ErrMissingProperty), errors.Is(err, ErrUnsupportedMachine),
		errors.Is(err, ErrUnsupportedFormatVersion):
		return model.KindFormatVersion
	case errors.Is(err, ErrCorruptHeader), errors.Is(err, ErrCorruptBlock):
		return model.KindChecksum
	case errors.Is(err, ErrWaveformOverlap):
		return model.KindTimestampGap
	case errors.Is(err, ErrMaskSequence):
		return model.KindInvariant
	default:
		return model.KindData
	}
}

func importError(path, session string, err error) *model.ImportError {
	return &model.ImportError{Kind: kindOf(err), Path: path, Session: session, Err: err}
}
