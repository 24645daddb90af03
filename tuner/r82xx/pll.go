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

package r82xx

import (
	"math/bits"

	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/bemasher/rtlusb/synth"
	"github.com/bemasher/rtlusb/tuner"
)

// freqRange holds the RF mux settings for LO frequencies from freq MHz up to
// the next entry.
type freqRange struct {
	freq      uint64 // MHz
	openD     byte
	rfMuxPoly byte
	tfC       byte
	xtalCap0p byte
}

var freqRanges = []freqRange{
	{0, 0x08, 0x02, 0xdf, 0x00},
	{50, 0x08, 0x02, 0xbe, 0x00},
	{55, 0x08, 0x02, 0x8b, 0x00},
	{60, 0x08, 0x02, 0x7b, 0x00},
	{65, 0x08, 0x02, 0x69, 0x00},
	{70, 0x08, 0x02, 0x58, 0x00},
	{75, 0x00, 0x02, 0x44, 0x00},
	{80, 0x00, 0x02, 0x44, 0x00},
	{90, 0x00, 0x02, 0x34, 0x00},
	{100, 0x00, 0x02, 0x34, 0x00},
	{110, 0x00, 0x02, 0x24, 0x00},
	{120, 0x00, 0x02, 0x24, 0x00},
	{140, 0x00, 0x02, 0x14, 0x00},
	{180, 0x00, 0x02, 0x13, 0x00},
	{220, 0x00, 0x02, 0x13, 0x00},
	{250, 0x00, 0x02, 0x11, 0x00},
	{280, 0x00, 0x02, 0x00, 0x00},
	{310, 0x00, 0x41, 0x00, 0x00},
	{450, 0x00, 0x41, 0x00, 0x00},
	{588, 0x00, 0x40, 0x00, 0x00},
	{650, 0x00, 0x40, 0x00, 0x00},
}

func lookupRange(lo uint64) freqRange {
	mhz := lo / 1000000

	idx := 0
	for ; idx < len(freqRanges)-1; idx++ {
		if mhz < freqRanges[idx+1].freq {
			break
		}
	}

	return freqRanges[idx]
}

func (t *Tuner) setMux(lo uint64) error {
	r := lookupRange(lo)

	return t.writeMasked([]regWrite{
		{0x17, r.openD, 0x08},
		{0x1a, r.rfMuxPoly, 0xc3},
		{0x1b, r.tfC, 0xff},
		{0x10, r.xtalCap0p, 0x0b}, // high cap, 0 pF
		{0x08, 0x00, 0x3f},
		{0x09, 0x00, 0x3f},
	})
}

// setPLL programs the synthesizer with res and waits for lock.
func (t *Tuner) setPLL(res synth.Result) error {
	err := t.writeMasked([]regWrite{
		{0x10, 0x00, 0x10}, // refdiv2 off
		{0x1a, 0x00, 0x0c}, // autotune 128 kHz
		{0x12, 0x80, 0xe0}, // VCO current 100
	})
	if err != nil {
		return err
	}

	// Divider 2 is field value 0.
	divNum := byte(bits.TrailingZeros64(res.Div) - 1)

	data, err := t.read(5)
	if err != nil {
		return err
	}

	fineTune := (data[4] & 0x30) >> 4
	switch {
	case fineTune > t.vcoPowerRef:
		divNum--
	case fineTune < t.vcoPowerRef:
		divNum++
	}

	ni := byte((res.Nint - 13) / 4)
	si := byte(res.Nint - 13 - 4*uint64(ni))

	var pwSDM byte
	if res.Frac == 0 {
		pwSDM = 0x08
	}

	err = t.writeMasked([]regWrite{
		{0x10, divNum << 5, 0xe0},
		{0x14, ni + si<<6, 0xff},
		{0x12, pwSDM, 0x08},
		{0x16, byte(res.Frac >> 8), 0xff},
		{0x15, byte(res.Frac), 0xff},
	})
	if err != nil {
		return err
	}

	for i := 0; i < 2; i++ {
		data, err = t.read(3)
		if err != nil {
			return err
		}

		t.locked = data[2]&0x40 != 0
		if t.locked {
			break
		}

		if i == 0 {
			// Raise VCO current and try again.
			if err := t.writeRegMask(0x12, 0x60, 0xe0); err != nil {
				return err
			}
		}
	}

	if !t.locked {
		t.log.WithField("lo", res.Freq).Warn("pll not locked")
		return nil
	}

	// autotune 8 kHz
	return t.writeRegMask(0x1a, 0x08, 0x08)
}

func (t *Tuner) CheckFrequency(hz uint64, ppm int) error {
	_, err := synth.Solve(hz+uint64(t.ifFreq), ppm, t.pll)
	return err
}

// SetFrequency tunes the LO to hz plus the IF. The synthesizer is solved
// before any register is written, so an out of range request changes
// nothing.
func (t *Tuner) SetFrequency(hz uint64, ppm int) (uint64, error) {
	lo := hz + uint64(t.ifFreq)

	res, err := synth.Solve(lo, ppm, t.pll)
	if err != nil {
		return 0, err
	}

	if err := t.setMux(lo); err != nil {
		return 0, err
	}
	if err := t.setPLL(res); err != nil {
		return 0, err
	}

	if t.desc.Type == tuner.R828D {
		// Cable 1 input below 345 MHz, air input above.
		input := byte(0x60)
		if hz > 345000000 {
			input = 0x00
		}

		if input != t.input {
			if err := t.writeRegMask(0x05, input, 0x60); err != nil {
				return 0, xerrors.Errorf("input switch: %w", err)
			}
			t.input = input
		}
	}

	achieved := res.Freq - uint64(t.ifFreq)

	t.log.WithFields(logrus.Fields{
		"freq":   hz,
		"lo":     res.Freq,
		"div":    res.Div,
		"nint":   res.Nint,
		"sdm":    res.Frac,
		"locked": t.locked,
	}).Debug("tuned")

	return achieved, nil
}
