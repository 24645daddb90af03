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
	"github.com/sirupsen/logrus"

	"github.com/bemasher/rtlusb/tuner"
)

// IF filter corners in Hz.
const (
	hpBW1 = 350000
	hpBW2 = 380000
)

var lowPassBW = [...]uint32{1700000, 1600000, 1550000, 1450000, 1200000, 900000, 700000, 550000, 450000, 350000}

// filter is one IF filter setting and the IF it centers the passband on.
type filter struct {
	bw     uint32
	reg0a  byte
	reg0b  byte
	ifFreq uint32
}

// filters lists every bandwidth the IF chain can be set to: the three
// broadcast channel filters, then the narrow low pass filter with each
// combination of the two high pass corners.
var filters = buildFilters()

func buildFilters() []filter {
	f := []filter{
		{8000000, 0x10, 0x0b, 4570000},
		{7000000, 0x10, 0x2a, 4570000},
		{6000000, 0x10, 0x6b, 3570000},
	}

	for _, hp2 := range []bool{false, true} {
		for _, hp1 := range []bool{false, true} {
			for idx, lp := range lowPassBW {
				bw, ifFreq := lp, uint32(2300000)
				reg0b := byte(0x80 | (15 - idx))

				if hp2 {
					bw += hpBW2
					ifFreq += hpBW2
				} else {
					reg0b |= 0x20
				}

				if hp1 {
					bw += hpBW1
					ifFreq += hpBW1
				} else {
					reg0b |= 0x40
				}

				f = append(f, filter{bw, 0x00, reg0b, ifFreq - bw/2})
			}
		}
	}

	return f
}

func bandwidths() []uint32 {
	bws := make([]uint32, len(filters))
	for idx, f := range filters {
		bws[idx] = f.bw
	}
	return bws
}

// SetBandwidth selects the filter nearest hz. The IF moves with the filter
// so the passband stays centered; the caller must reprogram the demodulator
// IF and retune.
func (t *Tuner) SetBandwidth(hz uint32) (applied, ifFreq uint32, err error) {
	f := filters[tuner.NearestBandwidth(bandwidths(), hz)]

	err = t.writeMasked([]regWrite{
		{0x0a, f.reg0a, 0x10},
		{0x0b, f.reg0b, 0xef},
	})
	if err != nil {
		return 0, 0, err
	}

	t.ifFreq = f.ifFreq

	t.log.WithFields(logrus.Fields{
		"requested": hz,
		"bandwidth": f.bw,
		"if":        f.ifFreq,
	}).Debug("bandwidth")

	return f.bw, f.ifFreq, nil
}
