// RTLUSB - A userspace USB driver for RTL2832U based software defined radios.
// Copyright (C) 2016 Douglas Hall
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package rtlerr defines the errors shared by every layer of the driver.
//
// Errors are compared with xerrors.Is; wrapped causes survive because every
// layer wraps with %w.
package rtlerr

import (
	"fmt"

	"golang.org/x/xerrors"
)

var (
	// ErrTransport marks any USB layer failure: timeout, stall, short
	// control transfer or disconnect.
	ErrTransport = xerrors.New("usb transport error")

	// ErrProtocol marks unexpected register readback or malformed hardware
	// tables.
	ErrProtocol = xerrors.New("protocol error")

	// ErrNoDevice is returned when no known device matches an index or serial.
	ErrNoDevice = xerrors.New("no device found")

	// ErrNoSupportedTuner is returned when probing finds no tuner with a driver.
	ErrNoSupportedTuner = xerrors.New("no supported tuner found")

	// ErrTunerNotFound is returned by a tuner attach whose identification
	// register does not match.
	ErrTunerNotFound = xerrors.New("tuner not found")

	ErrFrequencyOutOfRange  = xerrors.New("frequency out of range")
	ErrSampleRateOutOfRange = xerrors.New("sample rate out of range")

	// ErrSamplesLost is returned for a short bulk read. The streaming session
	// is over until the buffer is reset.
	ErrSamplesLost = xerrors.New("samples lost")

	ErrDeviceClosed = xerrors.New("device closed")
)

// TransportError describes a failed or short USB transfer.
type TransportError struct {
	Op   string // "control in", "control out", "bulk in", ...
	N    int    // bytes transferred
	Want int    // bytes requested
	Err  error  // underlying cause, nil for a short transfer
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: short transfer: %d of %d bytes", e.Op, e.N, e.Want)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is reports every TransportError as ErrTransport.
func (e *TransportError) Is(target error) bool { return target == ErrTransport }
