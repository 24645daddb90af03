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

// Package synth computes fractional-N PLL settings for a tuner's local
// oscillator. Everything here is integer arithmetic so the same input always
// yields the same register fields.
package synth

import (
	"golang.org/x/xerrors"

	"github.com/bemasher/rtlusb/rtlerr"
)

// Params describes a tuner's PLL.
type Params struct {
	Ref uint64 // PLL reference in Hz, after any reference doubler

	VCOMin uint64 // inclusive
	VCOMax uint64 // exclusive

	// Mixer divider range, powers of two.
	MinDiv uint64
	MaxDiv uint64

	NintMin uint64
	NintMax uint64

	FracBits uint
}

// Result holds the fields to program and what they produce.
type Result struct {
	Div  uint64 // mixer divider
	Nint uint64 // integer part of VCO/Ref
	Frac uint64 // fractional part of VCO/Ref, in units of 2^-FracBits

	VCO  uint64 // requested VCO frequency
	Freq uint64 // frequency the PLL will produce
	Step uint64 // output frequency resolution, rounded up
}

// Correct applies a ppm correction to hz, rounding half to even. A
// correction of -1e6 or below yields 0.
func Correct(hz uint64, ppm int) uint64 {
	factor := int64(1e6) + int64(ppm)
	if factor <= 0 {
		return 0
	}
	return roundHalfEven(hz*uint64(factor), 1e6)
}

func roundHalfEven(num, den uint64) uint64 {
	q, r := num/den, num%den
	switch {
	case 2*r > den:
		q++
	case 2*r == den && q&1 == 1:
		q++
	}
	return q
}

// Solve finds PLL settings for target corrected by ppm. The smallest
// divider that puts the VCO in range is used.
func Solve(target uint64, ppm int, p Params) (res Result, err error) {
	freq := Correct(target, ppm)

	for div := p.MinDiv; div <= p.MaxDiv; div <<= 1 {
		vco := freq * div
		if vco >= p.VCOMin && vco < p.VCOMax {
			res.Div = div
			res.VCO = vco
			break
		}
	}
	if res.Div == 0 {
		return res, xerrors.Errorf("%d Hz (%d ppm): no divider puts vco in range: %w", target, ppm, rtlerr.ErrFrequencyOutOfRange)
	}

	one := uint64(1) << p.FracBits

	res.Nint = res.VCO / p.Ref
	res.Frac = roundHalfEven((res.VCO%p.Ref)<<p.FracBits, p.Ref)
	if res.Frac == one {
		res.Nint++
		res.Frac = 0
	}

	if res.Nint < p.NintMin || res.Nint > p.NintMax {
		return res, xerrors.Errorf("%d Hz (%d ppm): nint %d: %w", target, ppm, res.Nint, rtlerr.ErrFrequencyOutOfRange)
	}

	scale := res.Div << p.FracBits
	res.Freq = roundHalfEven((res.Nint<<p.FracBits+res.Frac)*p.Ref, scale)
	res.Step = (p.Ref + scale - 1) / scale

	return res, nil
}
