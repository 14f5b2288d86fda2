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
	"errors"

	"github.com/OpenPSG/cpap/model"
)

var (
	ErrMissingFile    = errors.New("required file missing")
	ErrMissingSignal  = errors.New("required index signal missing")
	ErrMissingSerial  = errors.New("identification has no serial number")
	ErrUnmatchedCSR   = errors.New("unmatched CSR start")
	ErrBadFileName    = errors.New("unrecognized data file name")
	ErrCorruptSignals = errors.New("corrupt signal file")
)

func kindOf(err error) model.ErrorKind {
	switch {
	case errors.Is(err, ErrMissingFile):
		return model.KindStructural
	case errors.Is(err, ErrMissingSignal), errors.Is(err, ErrMissingSerial):
		return model.KindFormatVersion
	case errors.Is(err, ErrUnmatchedCSR):
		return model.KindInvariant
	default:
		return model.KindData
	}
}

func importError(path, session string, err error) *model.ImportError {
	return &model.ImportError{Kind: kindOf(err), Path: path, Session: session, Err: err}
}
