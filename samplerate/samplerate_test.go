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

package samplerate

import (
	"testing"

	"golang.org/x/xerrors"

	"github.com/bemasher/rtlusb/rtlerr"
)

const xtal = 28800000

func TestCompute(t *testing.T) {
	for _, tc := range []struct {
		rate      uint32
		high, low uint16
	}{
		{2048000, 0x0384, 0x0000},
		{2400000, 0x0300, 0x0000},
		{3200000, 0x0240, 0x0000},
		{1000000, 0x0733, 0x3330},
		{250000, 0x0ccc, 0xcccc},
		{225001, 0x0fff, 0xf6ac},
	} {
		s, err := Compute(tc.rate, xtal)
		if err != nil {
			t.Fatalf("%d: %+v\n", tc.rate, err)
		}
		if s.High() != tc.high || s.Low() != tc.low {
			t.Fatalf("%d: got %#04x %#04x, want %#04x %#04x\n", tc.rate, s.High(), s.Low(), tc.high, tc.low)
		}
		if s.Rate != tc.rate {
			t.Fatalf("%d: resolved %d\n", tc.rate, s.Rate)
		}
	}
}

func TestSignExtension(t *testing.T) {
	s, err := Compute(240000, xtal)
	if err != nil {
		t.Fatalf("%+v\n", err)
	}
	if s.Ratio != 0x0e000000 || s.Real != 0x1e000000 {
		t.Fatalf("%+v\n", s)
	}
	if s.Integer() != 0x78 || s.Fraction() != 0 {
		t.Fatalf("%d %d\n", s.Integer(), s.Fraction())
	}
}

func TestWithinTolerance(t *testing.T) {
	check := func(rate uint32) {
		s, err := Compute(rate, xtal)
		if err != nil {
			t.Fatalf("%d: %+v\n", rate, err)
		}

		diff := int64(s.Rate) - int64(rate)
		if diff < 0 {
			diff = -diff
		}
		if diff*1e6 > int64(rate)*TolerancePPM {
			t.Fatalf("%d: resolved %d\n", rate, s.Rate)
		}
	}

	for rate := uint32(225001); rate <= 300000; rate += 997 {
		check(rate)
	}
	for rate := uint32(900001); rate <= 3200000; rate += 9973 {
		check(rate)
	}
}

func TestOutOfRange(t *testing.T) {
	for _, rate := range []uint32{0, 225000, 300001, 600000, 900000, 3200001, 10000000} {
		if _, err := Compute(rate, xtal); !xerrors.Is(err, rtlerr.ErrSampleRateOutOfRange) {
			t.Fatalf("%d: %+v\n", rate, err)
		}
	}
}

func TestToleranceReject(t *testing.T) {
	// A 1001 Hz crystal leaves the ratio too coarse to land within 100 ppm.
	_, err := Compute(2048000, 1001)
	if !xerrors.Is(err, rtlerr.ErrSampleRateOutOfRange) {
		t.Fatalf("%+v\n", err)
	}
}
