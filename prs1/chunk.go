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
	"encoding/binary"
	"fmt"
	"time"

	"github.com/snksoft/crc"
)

// HeaderKind distinguishes plain chunks from waveform chunks, which carry
// an additional signal sub-header.
type HeaderKind byte

const (
	HeaderStandard HeaderKind = 0
	HeaderSignal   HeaderKind = 1
)

// File extensions of the per-session files.
const (
	ExtSummary  = 1
	ExtEvents   = 2
	ExtWaveform = 5
)

const (
	standardHeaderSize = 15 // bytes before the checksum
	signalSubHeader    = 4  // interval count, interval length, signal count
	waveformEntrySize  = 3  // sample format, interleave
	blockCRCSize       = 2
)

// blockCRC is CRC-16/KERMIT.
var blockCRC = crc.NewTable(&crc.Parameters{
	Width:      16,
	Polynomial: 0x1021,
	ReflectIn:  true,
	ReflectOut: true,
	Init:       0x0000,
	FinalXor:   0x0000,
})

// WaveformChannel describes one interleaved channel of a waveform chunk.
type WaveformChannel struct {
	Format     byte
	Interleave uint16 // samples per interval
}

// Header is a decoded chunk header.
type Header struct {
	FormatVersion byte
	BlockLength   uint16 // header + payload + block checksum
	Kind          HeaderKind
	Family        byte
	FamilyVersion byte
	Extension     byte
	SessionNumber uint32
	Timestamp     time.Time

	// Signal headers only.
	IntervalCount  uint16
	IntervalLength byte // seconds
	Channels       []WaveformChannel

	Size     int // header bytes including the checksum
	Checksum byte
}

// Duration is the time a waveform chunk covers.
func (h *Header) Duration() time.Duration {
	return time.Duration(h.IntervalCount) * time.Duration(h.IntervalLength) * time.Second
}

// Chunk is one self-describing block of a session file.
type Chunk struct {
	Header
	Payload []byte
	CRC     uint16
}

// HeaderChecksum is the additive mod-256 checksum over b.
func HeaderChecksum(b []byte) byte {
	var sum byte
	for _, v := range b {
		sum += v
	}
	return sum
}

// BlockChecksum is the 16-bit CRC over a payload.
func BlockChecksum(payload []byte) uint16 {
	return uint16(blockCRC.CalculateCRC(payload))
}

// ParseHeader decodes and verifies the header at the start of data.
// Timestamps are converted to loc.
func ParseHeader(data []byte, loc *time.Location) (Header, error) {
	var h Header
	if len(data) < standardHeaderSize+1 {
		return h, fmt.Errorf("%w: %d header bytes", ErrTruncated, len(data))
	}

	// The version 3 layout is undocumented and is rejected like any other.
	h.FormatVersion = data[0]
	if h.FormatVersion != SupportedDataFormatVersion {
		return h, fmt.Errorf("%w: %d", ErrUnsupportedFormatVersion, h.FormatVersion)
	}

	h.BlockLength = binary.LittleEndian.Uint16(data[1:3])
	h.Kind = HeaderKind(data[3])
	h.Family = data[4]
	h.FamilyVersion = data[5]
	h.Extension = data[6]
	h.SessionNumber = binary.LittleEndian.Uint32(data[7:11])
	h.Timestamp = time.Unix(int64(binary.LittleEndian.Uint32(data[11:15])), 0).In(loc)

	if h.Family != SupportedFamily || h.FamilyVersion != SupportedFamilyVersion {
		return h, fmt.Errorf("%w: family %d version %d", ErrUnsupportedMachine, h.Family, h.FamilyVersion)
	}

	size := standardHeaderSize
	switch h.Kind {
	case HeaderStandard:
	case HeaderSignal:
		if len(data) < size+signalSubHeader {
			return h, fmt.Errorf("%w: signal header", ErrTruncated)
		}
		h.IntervalCount = binary.LittleEndian.Uint16(data[15:17])
		h.IntervalLength = data[17]
		count := int(data[18])
		size += signalSubHeader
		if len(data) < size+count*waveformEntrySize+2 {
			return h, fmt.Errorf("%w: %d waveform channels", ErrTruncated, count)
		}
		for range count {
			h.Channels = append(h.Channels, WaveformChannel{
				Format:     data[size],
				Interleave: binary.LittleEndian.Uint16(data[size+1 : size+3]),
			})
			size += waveformEntrySize
		}
		if data[size] != 0 {
			return h, fmt.Errorf("%w: missing signal header terminator", ErrCorruptHeader)
		}
		size++
	default:
		return h, fmt.Errorf("%w: header kind %d", ErrCorruptHeader, h.Kind)
	}

	h.Checksum = data[size]
	if sum := HeaderChecksum(data[:size]); sum != h.Checksum {
		return h, fmt.Errorf("%w: stored %#02x, calculated %#02x", ErrCorruptHeader, h.Checksum, sum)
	}
	h.Size = size + 1
	return h, nil
}

// DecodeChunk decodes the chunk at the start of data and returns it with
// the number of bytes consumed.
func DecodeChunk(data []byte, loc *time.Location) (*Chunk, int, error) {
	h, err := ParseHeader(data, loc)
	if err != nil {
		return nil, 0, err
	}

	length := int(h.BlockLength)
	payloadSize := length - h.Size - blockCRCSize
	if payloadSize < 0 {
		return nil, 0, fmt.Errorf("%w: block length %d shorter than header", ErrCorruptHeader, length)
	}
	if len(data) < length {
		return nil, 0, fmt.Errorf("%w: block needs %d bytes, %d left", ErrTruncated, length, len(data))
	}

	payload := data[h.Size : h.Size+payloadSize]
	stored := binary.LittleEndian.Uint16(data[h.Size+payloadSize : length])
	if calc := BlockChecksum(payload); calc != stored {
		return nil, 0, fmt.Errorf("%w: stored %#04x, calculated %#04x", ErrCorruptBlock, stored, calc)
	}

	return &Chunk{Header: h, Payload: payload, CRC: stored}, length, nil
}

// DecodeChunks decodes every chunk of a session file, in file order.
func DecodeChunks(data []byte, loc *time.Location) ([]*Chunk, error) {
	var chunks []*Chunk
	for offset := 0; offset < len(data); {
		c, n, err := DecodeChunk(data[offset:], loc)
		if err != nil {
			return nil, fmt.Errorf("chunk at offset %d: %w", offset, err)
		}
		chunks = append(chunks, c)
		offset += n
	}
	return chunks, nil
}

// EncodeChunk renders a chunk with both checksums. BlockLength, Size and
// Checksum are computed; Timestamp is truncated to whole seconds.
func EncodeChunk(h Header, payload []byte) []byte {
	hdr := []byte{h.FormatVersion, 0, 0, byte(h.Kind), h.Family, h.FamilyVersion, h.Extension}
	hdr = binary.LittleEndian.AppendUint32(hdr, h.SessionNumber)
	hdr = binary.LittleEndian.AppendUint32(hdr, uint32(h.Timestamp.Unix()))
	if h.Kind == HeaderSignal {
		hdr = binary.LittleEndian.AppendUint16(hdr, h.IntervalCount)
		hdr = append(hdr, h.IntervalLength, byte(len(h.Channels)))
		for _, ch := range h.Channels {
			hdr = append(hdr, ch.Format)
			hdr = binary.LittleEndian.AppendUint16(hdr, ch.Interleave)
		}
		hdr = append(hdr, 0)
	}

	length := len(hdr) + 1 + len(payload) + blockCRCSize
	binary.LittleEndian.PutUint16(hdr[1:3], uint16(length))
	hdr = append(hdr, HeaderChecksum(hdr))

	out := append(hdr, payload...)
	return binary.LittleEndian.AppendUint16(out, BlockChecksum(payload))
}
