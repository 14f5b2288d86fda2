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
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/OpenPSG/cpap/model"
)

const (
	SupportedFamily            = 0
	SupportedFamilyVersion     = 4
	SupportedDataFormatVersion = 2
)

var requiredProperties = []string{"Family", "FamilyVersion", "DataFormatVersion", "ModelNumber", "SerialNumber"}

// productNames maps model numbers of the supported family to marketing names.
var productNames = map[string]string{
	"460P":   "REMstar Plus (System One 60 Series)",
	"560P":   "REMstar Pro (System One 60 Series)",
	"560PBT": "REMstar Pro (System One 60 Series)",
	"660P":   "REMstar Auto (System One 60 Series)",
	"660PBT": "REMstar Auto (System One 60 Series)",
	"760P":   "BiPAP Auto (System One 60 Series)",
}

// Properties is the machine identity file at P-Series/properties.txt.
type Properties struct {
	Family            int
	FamilyVersion     int
	DataFormatVersion int
	ModelNumber       string
	SerialNumber      string
	Values            map[string]string
}

// ParseProperties reads newline-delimited key=value pairs and checks that the
// machine family and data format are supported.
func ParseProperties(r io.Reader) (*Properties, error) {
	values := map[string]string{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		values[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading properties: %w", err)
	}

	for _, key := range requiredProperties {
		if _, ok := values[key]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingProperty, key)
		}
	}

	p := &Properties{
		ModelNumber:  values["ModelNumber"],
		SerialNumber: values["SerialNumber"],
		Values:       values,
	}
	var err error
	if p.Family, err = strconv.Atoi(values["Family"]); err != nil {
		return nil, fmt.Errorf("%w: Family %q", ErrUnsupportedMachine, values["Family"])
	}
	if p.FamilyVersion, err = strconv.Atoi(values["FamilyVersion"]); err != nil {
		return nil, fmt.Errorf("%w: FamilyVersion %q", ErrUnsupportedMachine, values["FamilyVersion"])
	}
	if p.DataFormatVersion, err = strconv.Atoi(values["DataFormatVersion"]); err != nil {
		return nil, fmt.Errorf("%w: DataFormatVersion %q", ErrUnsupportedFormatVersion, values["DataFormatVersion"])
	}

	if p.Family != SupportedFamily || p.FamilyVersion != SupportedFamilyVersion {
		return nil, fmt.Errorf("%w: family %d version %d", ErrUnsupportedMachine, p.Family, p.FamilyVersion)
	}
	if p.DataFormatVersion != SupportedDataFormatVersion {
		return nil, fmt.Errorf("%w: data format %d", ErrUnsupportedFormatVersion, p.DataFormatVersion)
	}
	return p, nil
}

// Machine returns the identity of the device.
func (p *Properties) Machine() model.MachineInfo {
	return model.MachineInfo{
		Vendor:      "Philips Respironics",
		Model:       p.ModelNumber,
		ProductName: productNames[p.ModelNumber],
		Serial:      p.SerialNumber,
	}
}
