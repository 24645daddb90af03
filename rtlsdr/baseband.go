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

package rtlsdr

import (
	"golang.org/x/xerrors"

	"github.com/bemasher/rtlusb/bus"
	"github.com/bemasher/rtlusb/rtlerr"
	"github.com/bemasher/rtlusb/synth"
)

// DefaultFIR is the decimation filter used by the stock driver: 8 bit taps
// then 12 bit taps.
var DefaultFIR = []int{
	-54, -36, -41, -40, -32, -14, 14, 53,
	101, 156, 215, 273, 327, 372, 404, 421,
}

const firLen = 16

type regWrite struct {
	block bus.Block
	addr  uint16
	val   uint16
	len   int
}

type demodWrite struct {
	page uint8
	addr uint16
	val  uint16
	len  int
}

// usbInit powers up the USB endpoint and the demodulator.
var usbInit = []regWrite{
	{bus.USBBlock, bus.USBSysCtl, 0x09, 1},
	{bus.USBBlock, bus.USBEPAMaxPkt, 0x0002, 2},
	{bus.USBBlock, bus.USBEPACtl, 0x1002, 2},
	{bus.SysBlock, bus.DemodCtl1, 0x22, 1},
	{bus.SysBlock, bus.DemodCtl, 0xe8, 1},
}

// demodReset pulses the soft reset bit.
var demodReset = []demodWrite{
	{1, 0x01, 0x14, 1},
	{1, 0x01, 0x10, 1},
}

// demodInit clears spectrum inversion, adjacent channel rejection, DDC shift
// and IF registers.
var demodInit = []demodWrite{
	{1, 0x15, 0x00, 1},
	{1, 0x16, 0x0000, 2},
	{1, 0x16, 0x00, 1},
	{1, 0x17, 0x00, 1},
	{1, 0x18, 0x00, 1},
	{1, 0x19, 0x00, 1},
	{1, 0x1a, 0x00, 1},
	{1, 0x1b, 0x00, 1},
}

// sdrMode follows the FIR load.
var sdrMode = []demodWrite{
	{0, 0x19, 0x05, 1}, // SDR mode, digital AGC off
	{1, 0x93, 0xf0, 1}, // FSM state holding
	{1, 0x94, 0x0f, 1},
	{1, 0x11, 0x00, 1}, // AGC off
	{1, 0x04, 0x00, 1}, // RF and IF AGC loop off
	{0, 0x61, 0x60, 1}, // PID filter off
	{0, 0x06, 0x80, 1}, // default ADC I/Q datapath
	{1, 0xb1, 0x1b, 1}, // zero-IF, DC cancellation, IQ compensation
	{0, 0x0d, 0x83, 1}, // TP_CK0 clock output off
}

func (d *Device) regWrites(w []regWrite) error {
	for _, r := range w {
		if err := d.bus.WriteReg(r.block, r.addr, r.val, r.len); err != nil {
			return err
		}
	}
	return nil
}

func (d *Device) demodWrites(w []demodWrite) error {
	for _, r := range w {
		if err := d.bus.DemodWriteReg(r.page, r.addr, r.val, r.len); err != nil {
			return err
		}
	}
	return nil
}

func (d *Device) initBaseband(fir []byte) error {
	if err := d.regWrites(usbInit); err != nil {
		return xerrors.Errorf("init usb: %w", err)
	}

	for _, w := range [][]demodWrite{demodReset, demodInit} {
		if err := d.demodWrites(w); err != nil {
			return xerrors.Errorf("init demod: %w", err)
		}
	}

	for idx, b := range fir {
		if err := d.bus.DemodWriteReg(1, 0x1c+uint16(idx), uint16(b), 1); err != nil {
			return xerrors.Errorf("load fir: %w", err)
		}
	}

	if err := d.demodWrites(sdrMode); err != nil {
		return xerrors.Errorf("init demod: %w", err)
	}

	return nil
}

// packFIR encodes the filter taps into the demodulator's 20 byte layout. The
// 12 bit taps are packed in pairs into 3 bytes.
func packFIR(taps []int) ([]byte, error) {
	if len(taps) != firLen {
		return nil, xerrors.Errorf("fir has %d taps, want %d: %w", len(taps), firLen, rtlerr.ErrProtocol)
	}

	fir := make([]byte, 20)

	for idx, v := range taps[:8] {
		if v < -128 || v > 127 {
			return nil, xerrors.Errorf("fir tap %d: %d overflows 8 bits: %w", idx, v, rtlerr.ErrProtocol)
		}
		fir[idx] = byte(v)
	}

	for idx := 0; idx < 8; idx += 2 {
		for j := 8 + idx; j < 10+idx; j++ {
			if taps[j] < -2048 || taps[j] > 2047 {
				return nil, xerrors.Errorf("fir tap %d: %d overflows 12 bits: %w", j, taps[j], rtlerr.ErrProtocol)
			}
		}

		v0, v1 := taps[8+idx], taps[9+idx]

		o := 8 + idx*3/2
		fir[o] = byte(v0 >> 4)
		fir[o+1] = byte(v0<<4) | byte(v1>>8)&0x0f
		fir[o+2] = byte(v1)
	}

	return fir, nil
}

// setIFFreq programs the demodulator's DDC to shift freq to baseband.
func (d *Device) setIFFreq(freq uint32) error {
	xtal := synth.Correct(uint64(d.cfg.Xtal), d.ppm)
	if xtal == 0 {
		return xerrors.Errorf("corrected xtal: %w", rtlerr.ErrFrequencyOutOfRange)
	}

	ifFreq := -int64(uint64(freq) << 22 / xtal)

	return d.demodWrites([]demodWrite{
		{1, 0x19, uint16(ifFreq>>16) & 0x3f, 1},
		{1, 0x1a, uint16(ifFreq>>8) & 0xff, 1},
		{1, 0x1b, uint16(ifFreq) & 0xff, 1},
	})
}

// setSampleFreqCorrection trims the resampler for the crystal error.
func (d *Device) setSampleFreqCorrection(ppm int) error {
	offs := -int64(ppm) * (1 << 24) / 1000000

	return d.demodWrites([]demodWrite{
		{1, 0x3f, uint16(offs) & 0xff, 1},
		{1, 0x3e, uint16(offs>>8) & 0x3f, 1},
	})
}
