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
	"github.com/bemasher/rtlusb/tuner"
)

// Gain added by each LNA and mixer step, in tenths of a dB. Manual gain walks
// both ladders alternately starting with the LNA.
var (
	lnaGainSteps   = [16]int{0, 9, 13, 40, 38, 13, 31, 22, 26, 31, 26, 14, 19, 5, 35, 13}
	mixerGainSteps = [16]int{0, 5, 10, 10, 19, 9, 10, 25, 17, 10, 8, 16, 13, 6, 3, -8}
)

// gainIndices returns the LNA and mixer indices that first reach gain.
func gainIndices(gain int) (lna, mix byte) {
	total := 0
	for i := 0; i < 15; i++ {
		if total >= gain {
			break
		}
		lna++
		total += lnaGainSteps[lna]

		if total >= gain {
			break
		}
		mix++
		total += mixerGainSteps[mix]
	}
	return lna, mix
}

// SetGain switches between LNA and mixer AGC and a fixed gain. The VGA is
// held at a fixed gain in both modes.
func (t *Tuner) SetGain(g tuner.Gain) error {
	if g.Auto {
		return t.writeMasked([]regWrite{
			{0x05, 0x00, 0x10}, // LNA auto
			{0x07, 0x10, 0x10}, // mixer auto
			{0x0c, 0x0b, 0x9f}, // VGA 26.5 dB
		})
	}

	gains := t.desc.Gains
	gain := gains[tuner.ClosestGain(gains, g.Value)]
	lna, mix := gainIndices(gain)

	err := t.writeMasked([]regWrite{
		{0x05, 0x10, 0x10}, // LNA manual
		{0x07, 0x00, 0x10}, // mixer manual
	})
	if err != nil {
		return err
	}

	// Status read, result unused.
	if _, err := t.read(4); err != nil {
		return err
	}

	err = t.writeMasked([]regWrite{
		{0x0c, 0x08, 0x9f}, // VGA 16.3 dB
		{0x05, lna, 0x0f},
		{0x07, mix, 0x0f},
	})
	if err != nil {
		return err
	}

	t.log.WithField("gain", gain).Debug("manual gain")

	return nil
}
