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

// Package samplerate computes the RTL2832U resampler ratio for a sample rate.
//
// The demodulator divides its crystal by a 28 bit fixed point ratio with 22
// fractional bits. Bit 27 of the ratio register is sign extended into bit 28
// by the hardware, which is what makes rates down to 225 kHz reachable.
package samplerate

import (
	"golang.org/x/xerrors"

	"github.com/bemasher/rtlusb/rtlerr"
)

const (
	// TolerancePPM is the largest deviation of the resolved rate from the
	// requested rate that is accepted.
	TolerancePPM = 100

	fracBits = 22
	mask     = 0x0ffffffc
	signBit  = 0x08000000
)

// Valid reports whether rate falls in (225 kHz, 300 kHz] or (900 kHz, 3.2 MHz].
func Valid(rate uint32) bool {
	return (rate > 225000 && rate <= 300000) || (rate > 900000 && rate <= 3200000)
}

// Setting is a resolved sample rate.
type Setting struct {
	Requested uint32
	Ratio     uint32 // register value, 28 bits
	Real      uint32 // ratio as interpreted by the hardware
	Rate      uint32 // resolved rate, rounded to the nearest Hz
}

// High is written to demod register 1:0x9f.
func (s Setting) High() uint16 { return uint16(s.Ratio >> 16) }

// Low is written to demod register 1:0xa1.
func (s Setting) Low() uint16 { return uint16(s.Ratio) }

// Integer returns the integer part of the effective ratio.
func (s Setting) Integer() uint32 { return s.Real >> fracBits }

// Fraction returns the fractional part of the effective ratio in units of
// 2^-22.
func (s Setting) Fraction() uint32 { return s.Real & (1<<fracBits - 1) }

// Compute resolves rate against a crystal of xtal Hz.
func Compute(rate, xtal uint32) (s Setting, err error) {
	if !Valid(rate) {
		return s, xerrors.Errorf("%d sps: %w", rate, rtlerr.ErrSampleRateOutOfRange)
	}

	num := uint64(xtal) << fracBits

	s.Requested = rate
	s.Ratio = uint32(num/uint64(rate)) & mask
	s.Real = s.Ratio | (s.Ratio&signBit)<<1
	if s.Real == 0 {
		return s, xerrors.Errorf("%d sps: zero ratio: %w", rate, rtlerr.ErrSampleRateOutOfRange)
	}

	den := uint64(s.Real)
	q, r := num/den, num%den
	if 2*r >= den {
		q++
	}
	s.Rate = uint32(q)

	// |num/real - rate| <= rate * TolerancePPM / 1e6, without division.
	diff := int64(num) - int64(rate)*int64(den)
	if diff < 0 {
		diff = -diff
	}
	if uint64(diff)*1e6 > uint64(rate)*den*TolerancePPM {
		return s, xerrors.Errorf("%d sps resolves to %d sps: %w", rate, s.Rate, rtlerr.ErrSampleRateOutOfRange)
	}

	return s, nil
}
