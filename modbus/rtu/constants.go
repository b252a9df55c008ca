// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import "time"

const (
	MinSize = 4
	MaxSize = 256

	ExceptionSize = 5

	// MaxPDUData is the largest payload following the function code.
	MaxPDUData = MaxSize - MinSize
)

// Fixed silence intervals mandated for baud rates above 19200.
const (
	highSpeedBaud      = 19200
	highSpeedInterChar = 750 * time.Microsecond
	highSpeedFrame     = 1750 * time.Microsecond
)
