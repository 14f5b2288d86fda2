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
	"fmt"
	"time"
)

// ErrorKind classifies import failures.
type ErrorKind int

const (
	// KindStructural is a missing required file or folder. Fatal for the import.
	KindStructural ErrorKind = iota + 1
	// KindFormatVersion is an unsupported family, version or data format. Fatal for the import.
	KindFormatVersion
	// KindChecksum is a header or block checksum mismatch. Fatal for the file's session.
	KindChecksum
	// KindTimestampGap is a waveform ordering anomaly that discards a session.
	KindTimestampGap
	// KindInvariant is an internal consistency violation such as unbalanced
	// mask-on/off records or an unmatched CSR start.
	KindInvariant
	// KindData is any other undecodable input.
	KindData
)

func (k ErrorKind) String() string {
	switch k {
	case KindStructural:
		return "structural"
	case KindFormatVersion:
		return "format-version"
	case KindChecksum:
		return "checksum"
	case KindTimestampGap:
		return "timestamp-gap"
	case KindInvariant:
		return "invariant"
	case KindData:
		return "data"
	default:
		return "unknown"
	}
}

// Fatal reports whether errors of this kind abort the whole import.
func (k ErrorKind) Fatal() bool {
	return k == KindStructural || k == KindFormatVersion
}

// ImportError is a classified failure with the location it occurred at.
type ImportError struct {
	Kind    ErrorKind
	Path    string
	Session string
	Date    time.Time
	Err     error
}

func (e *ImportError) Error() string {
	msg := e.Kind.String() + " error"
	if e.Path != "" {
		msg += " in " + e.Path
	}
	if e.Session != "" {
		msg += " (session " + e.Session + ")"
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

func (e *ImportError) Unwrap() error {
	return e.Err
}
