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
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/OpenPSG/cpap/model"
)

const vendor = "ResMed"

// productNames maps product codes to model names.
var productNames = map[string]string{
	"36001": "S9 Escape",
	"36003": "S9 Elite",
	"36005": "S9 AutoSet",
	"36007": "S9 VPAP Auto",
	"37028": "AirSense 10 AutoSet",
	"37051": "AirSense 10 AutoSet For Her",
	"37203": "AirSense 10 Elite",
	"37207": "AirSense 10 CPAP",
	"37211": "AirCurve 10 VAuto",
	"39000": "AirSense 11 AutoSet",
}

// Identification is the machine identity file at the card root.
type Identification struct {
	Serial      string
	ProductName string
	ProductCode string
	Values      map[string]string
}

// ParseIdentification reads "#KEY value" lines.
func ParseIdentification(r io.Reader) (*Identification, error) {
	values := map[string]string{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "#") {
			continue
		}
		key, value, _ := strings.Cut(line[1:], " ")
		values[key] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading identification: %w", err)
	}

	id := &Identification{
		Serial:      values["SRN"],
		ProductName: values["PNA"],
		ProductCode: values["PCD"],
		Values:      values,
	}
	if id.Serial == "" {
		return nil, ErrMissingSerial
	}
	return id, nil
}

// Machine returns the identity of the device. The product code table takes
// precedence over the free-text product name.
func (id *Identification) Machine() model.MachineInfo {
	name, ok := productNames[id.ProductCode]
	if !ok {
		name = strings.ReplaceAll(id.ProductName, "_", " ")
	}
	return model.MachineInfo{
		Vendor:      vendor,
		Model:       id.ProductCode,
		ProductName: name,
		Serial:      id.Serial,
	}
}
