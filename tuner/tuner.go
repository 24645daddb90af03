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

// Package tuner defines the contract between the RTL2832U controller and the
// RF tuner behind its I2C repeater, the table of known tuner chips, and the
// gain and bandwidth selection policies shared by every driver.
package tuner

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/bemasher/rtlusb/rtlerr"
)

// Type identifies a tuner chip. Values match the tuner field of the rtl_tcp
// dongle header.
type Type uint32

const (
	Unknown Type = iota
	E4000
	FC0012
	FC0013
	FC2580
	R820T
	R828D
)

func (t Type) String() string {
	switch t {
	case E4000:
		return "E4000"
	case FC0012:
		return "FC0012"
	case FC0013:
		return "FC0013"
	case FC2580:
		return "FC2580"
	case R820T:
		return "R820T"
	case R828D:
		return "R828D"
	}
	return "UNKNOWN"
}

// Gain is either automatic or a manual value in tenths of a dB.
type Gain struct {
	Auto  bool
	Value int
}

// Auto enables the tuner's AGC.
func Auto() Gain { return Gain{Auto: true} }

// Manual requests a fixed gain of tenths/10 dB.
func Manual(tenths int) Gain { return Gain{Value: tenths} }

func (g Gain) String() string {
	if g.Auto {
		return "auto"
	}
	return fmt.Sprintf("%.1f dB", float64(g.Value)/10)
}

// I2C is the register access a tuner driver needs. Reads and writes address
// the chip through the demodulator's repeater, which the caller opens.
type I2C interface {
	I2CWrite(addr uint8, data []byte) error
	I2CReadFrom(addr, reg uint8, data []byte) error
	I2CReadReg(addr, reg uint8) (uint8, error)
}

// Env is what a driver is attached with.
type Env struct {
	I2C  I2C
	Xtal uint32 // tuner crystal in Hz
	Log  logrus.FieldLogger

	// Sleep waits between register writes that need settling time.
	// Defaults to time.Sleep.
	Sleep func(time.Duration)
}

// Tuner is implemented by every tuner driver.
type Tuner interface {
	Descriptor() *Descriptor

	// Init writes the chip's power-up register set and runs any calibration.
	Init() error

	// Exit puts the chip in standby.
	Exit() error

	// SetFrequency tunes hz corrected by ppm and returns the frequency the
	// PLL actually produces.
	SetFrequency(hz uint64, ppm int) (uint64, error)

	// CheckFrequency fails as SetFrequency would for hz and ppm, without
	// touching the chip.
	CheckFrequency(hz uint64, ppm int) error

	// SetBandwidth selects the IF filter nearest hz, ties toward the wider
	// filter. It returns the applied bandwidth and the resulting IF.
	SetBandwidth(hz uint32) (applied, ifFreq uint32, err error)

	// SetGain applies g. Manual values snap to the nearest table entry.
	SetGain(g Gain) error

	// Gains returns the supported gains in tenths of a dB, ascending.
	Gains() []int

	// IFFrequency is the IF the demodulator must shift down by, 0 for zero-IF
	// tuners.
	IFFrequency() uint32
}

// AttachFunc binds a driver to a detected chip. It fails with
// rtlerr.ErrTunerNotFound if the chip does not identify as d.
type AttachFunc func(env Env, d *Descriptor) (Tuner, error)

// Descriptor is the static description of a tuner chip.
type Descriptor struct {
	Type Type
	Addr uint8 // 8 bit I2C address

	// Identification: (reg CheckReg) & CheckMask == CheckVal.
	CheckReg  uint8
	CheckMask uint8
	CheckVal  uint8

	Xtal uint32 // 0 shares the demodulator crystal

	Gains []int

	MinFreq uint64
	MaxFreq uint64
}

func (d *Descriptor) String() string {
	return fmt.Sprintf("%s@%#02x", d.Type, d.Addr)
}

// Identify reads the identification register. A chip that does not answer
// is simply absent.
func (d *Descriptor) Identify(i2c I2C) bool {
	val, err := i2c.I2CReadReg(d.Addr, d.CheckReg)
	if err != nil {
		return false
	}
	return val&d.CheckMask == d.CheckVal
}

// Verify is Identify for drivers: a mismatch is ErrTunerNotFound.
func (d *Descriptor) Verify(i2c I2C) error {
	val, err := i2c.I2CReadReg(d.Addr, d.CheckReg)
	if err != nil {
		return xerrors.Errorf("%s: %v: %w", d, err, rtlerr.ErrTunerNotFound)
	}
	if val&d.CheckMask != d.CheckVal {
		return xerrors.Errorf("%s: id %#02x: %w", d, val, rtlerr.ErrTunerNotFound)
	}
	return nil
}

var r82xxGains = []int{
	0, 9, 14, 27, 37, 77, 87, 125, 144, 157, 166, 197, 207, 229, 254,
	280, 297, 328, 338, 364, 372, 386, 402, 421, 434, 439, 445, 480, 496,
}

var fc0013Gains = []int{
	-99, -73, -65, -63, -60, -58, -54, 58, 61, 63, 65, 67,
	68, 70, 71, 179, 181, 182, 184, 186, 188, 191, 197,
}

// Known lists every tuner chip the controller can detect, in probe order.
// Only the R82xx family has a driver; the others are reported as
// unsupported.
var Known = []Descriptor{
	{
		Type:      E4000,
		Addr:      0xc8,
		CheckReg:  0x02,
		CheckMask: 0xff,
		CheckVal:  0x40,
		Gains:     []int{-10, 15, 40, 65, 90, 115, 140, 165, 190, 215, 240, 290, 340, 420},
		MinFreq:   52000000,
		MaxFreq:   2200000000,
	},
	{
		Type:      FC0013,
		Addr:      0xc6,
		CheckReg:  0x00,
		CheckMask: 0xff,
		CheckVal:  0xa3,
		Gains:     fc0013Gains,
		MinFreq:   22000000,
		MaxFreq:   1100000000,
	},
	{
		Type:      R820T,
		Addr:      0x34,
		CheckReg:  0x00,
		CheckMask: 0xff,
		CheckVal:  0x69,
		Gains:     r82xxGains,
		MinFreq:   24000000,
		MaxFreq:   1766000000,
	},
	{
		Type:      R828D,
		Addr:      0x74,
		CheckReg:  0x00,
		CheckMask: 0xff,
		CheckVal:  0x69,
		Xtal:      16000000,
		Gains:     r82xxGains,
		MinFreq:   24000000,
		MaxFreq:   1766000000,
	},
	{
		Type:      FC2580,
		Addr:      0xac,
		CheckReg:  0x01,
		CheckMask: 0x7f,
		CheckVal:  0x56,
		Xtal:      16384000,
		Gains:     []int{0},
		MinFreq:   146000000,
		MaxFreq:   924000000,
	},
	{
		Type:      FC0012,
		Addr:      0xc6,
		CheckReg:  0x00,
		CheckMask: 0xff,
		CheckVal:  0xa1,
		Gains:     []int{-99, -40, 71, 179, 192},
		MinFreq:   22000000,
		MaxFreq:   948600000,
	},
}

// Lookup returns the known descriptor for t.
func Lookup(t Type) (*Descriptor, bool) {
	for idx := range Known {
		if Known[idx].Type == t {
			return &Known[idx], true
		}
	}
	return nil, false
}

// Probe returns the first known chip that identifies on i2c.
func Probe(i2c I2C) (*Descriptor, bool) {
	for idx := range Known {
		if Known[idx].Identify(i2c) {
			return &Known[idx], true
		}
	}
	return nil, false
}

// ValidateGains checks that a gain table is non-empty and strictly
// ascending.
func ValidateGains(gains []int) error {
	if len(gains) == 0 {
		return xerrors.Errorf("empty gain table: %w", rtlerr.ErrProtocol)
	}
	for idx := 1; idx < len(gains); idx++ {
		if gains[idx] <= gains[idx-1] {
			return xerrors.Errorf("gain table not ascending at %d: %w", idx, rtlerr.ErrProtocol)
		}
	}
	return nil
}

// ClosestGain returns the index of the entry of an ascending table nearest
// to want. Ties go to the lower gain.
func ClosestGain(gains []int, want int) int {
	best := 0
	for idx, g := range gains {
		if dist(g, want) < dist(gains[best], want) {
			best = idx
		}
	}
	return best
}

// NearestBandwidth returns the index of the option nearest to hz. Ties go to
// the wider option, then to the earlier one.
func NearestBandwidth(options []uint32, hz uint32) int {
	best := 0
	for idx, bw := range options {
		d, bd := dist(int(bw), int(hz)), dist(int(options[best]), int(hz))
		if d < bd || (d == bd && bw > options[best]) {
			best = idx
		}
	}
	return best
}

func dist(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}
