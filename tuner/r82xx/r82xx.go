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

// Package r82xx drives the Rafael Micro R820T, R820T2 and R828D tuners.
//
// The chip keeps no readable copy of its control registers, so writes are
// made against a shadow of registers 0x05 through 0x1f and masked updates
// are computed from the shadow. Only the five status bytes at 0x00 can be
// read back, and they arrive bit reversed.
package r82xx

import (
	"math/bits"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/bemasher/rtlusb/rtlerr"
	"github.com/bemasher/rtlusb/synth"
	"github.com/bemasher/rtlusb/tuner"
)

const (
	shadowStart = 0x05
	numRegs     = 27

	// maxMsgLen is the largest I2C message the RTL2832U forwards, including
	// the register pointer.
	maxMsgLen = 8

	// VCO range in Hz.
	vcoMin = 1770000000
	vcoMax = 2 * vcoMin
)

var initArray = [numRegs]byte{
	0x83, 0x32, 0x75,       // 05 to 07
	0xc0, 0x40, 0xd6, 0x6c, // 08 to 0b
	0xf5, 0x63, 0x75, 0x68, // 0c to 0f
	0x6c, 0x83, 0x80, 0x00, // 10 to 13
	0x0f, 0x00, 0xc0, 0x30, // 14 to 17
	0x48, 0xcc, 0x60, 0x00, // 18 to 1b
	0x54, 0xae, 0x4a, 0xc0, // 1c to 1f
}

// Tuner is an attached R82xx.
type Tuner struct {
	desc  *tuner.Descriptor
	i2c   tuner.I2C
	log   logrus.FieldLogger
	sleep func(time.Duration)

	pll         synth.Params
	vcoPowerRef byte

	regs [numRegs]byte

	ifFreq   uint32
	input    byte
	locked   bool
	calCode  byte
	initDone bool
}

// Attach verifies the chip at d.Addr and returns its driver. env.Xtal is the
// crystal feeding the tuner.
func Attach(env tuner.Env, d *tuner.Descriptor) (tuner.Tuner, error) {
	if d.Type != tuner.R820T && d.Type != tuner.R828D {
		return nil, xerrors.Errorf("r82xx cannot drive %s: %w", d.Type, rtlerr.ErrNoSupportedTuner)
	}
	if err := tuner.ValidateGains(d.Gains); err != nil {
		return nil, err
	}
	if err := d.Verify(env.I2C); err != nil {
		return nil, err
	}

	t := &Tuner{
		desc:        d,
		i2c:         env.I2C,
		log:         env.Log,
		sleep:       env.Sleep,
		vcoPowerRef: 2,
		pll: synth.Params{
			Ref:      2 * uint64(env.Xtal),
			VCOMin:   vcoMin,
			VCOMax:   vcoMax,
			MinDiv:   2,
			MaxDiv:   64,
			NintMin:  13,
			NintMax:  63,
			FracBits: 16,
		},
		ifFreq: 3570000,
	}

	if d.Type == tuner.R828D {
		t.vcoPowerRef = 1
		t.pll.NintMax = 127
	}

	if t.log == nil {
		t.log = logrus.StandardLogger()
	}
	t.log = t.log.WithField("tuner", d.Type)

	if t.sleep == nil {
		t.sleep = time.Sleep
	}

	t.regs = initArray

	return t, nil
}

func (t *Tuner) Descriptor() *tuner.Descriptor { return t.desc }

func (t *Tuner) IFFrequency() uint32 { return t.ifFreq }

func (t *Tuner) Gains() []int {
	return append([]int(nil), t.desc.Gains...)
}

// Locked reports whether the PLL locked on the last tune.
func (t *Tuner) Locked() bool { return t.locked }

// write stores val in the shadow and sends it starting at reg, split into
// messages the bridge can carry.
func (t *Tuner) write(reg byte, val []byte) error {
	t.store(reg, val)

	for len(val) > 0 {
		size := len(val)
		if size > maxMsgLen-1 {
			size = maxMsgLen - 1
		}

		msg := append([]byte{reg}, val[:size]...)
		if err := t.i2c.I2CWrite(t.desc.Addr, msg); err != nil {
			return xerrors.Errorf("r82xx write %#02x: %w", reg, err)
		}

		reg += byte(size)
		val = val[size:]
	}

	return nil
}

func (t *Tuner) store(reg byte, val []byte) {
	r := int(reg) - shadowStart
	if r < 0 {
		if len(val) <= -r {
			return
		}
		val = val[-r:]
		r = 0
	}
	if r >= numRegs {
		return
	}
	copy(t.regs[r:], val)
}

func (t *Tuner) writeReg(reg, val byte) error {
	return t.write(reg, []byte{val})
}

func (t *Tuner) writeRegMask(reg, val, mask byte) error {
	old := t.regs[reg-shadowStart]
	return t.writeReg(reg, old&^mask|val&mask)
}

// read returns the first n status bytes.
func (t *Tuner) read(n int) ([]byte, error) {
	data := make([]byte, n)
	if err := t.i2c.I2CReadFrom(t.desc.Addr, 0x00, data); err != nil {
		return nil, xerrors.Errorf("r82xx read: %w", err)
	}
	for idx := range data {
		data[idx] = bits.Reverse8(data[idx])
	}
	return data, nil
}

// regWrite is one masked register update.
type regWrite struct {
	reg, val, mask byte
}

func (t *Tuner) writeMasked(writes []regWrite) error {
	for _, w := range writes {
		var err error
		if w.mask == 0xff {
			err = t.writeReg(w.reg, w.val)
		} else {
			err = t.writeRegMask(w.reg, w.val, w.mask)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Init loads the power-up register set, calibrates the IF filter and
// selects the DVB-T system settings.
func (t *Tuner) Init() error {
	if err := t.write(shadowStart, initArray[:]); err != nil {
		return err
	}
	if err := t.setTVStandard(); err != nil {
		return err
	}
	if err := t.sysFreqSel(); err != nil {
		return err
	}

	t.initDone = true
	t.log.WithField("ifcal", t.calCode).Debug("tuner initialized")

	return nil
}

const (
	filtCalLO = 56000000
	filtQ     = 0x10
	filtGain  = 0x10
	hpCor     = 0x6b
	imgR      = 0x00
	extEnable = 0x60
	loopThru  = 0x01
	ltAtt     = 0x00
	fltExtWid = 0x00
	polyfil   = 0x60

	verNum = 49
)

// setTVStandard configures the 6 MHz digital standard, which is what every
// SDR bandwidth is derived from, and runs the filter calibration.
func (t *Tuner) setTVStandard() error {
	t.regs = initArray

	err := t.writeMasked([]regWrite{
		{0x0c, 0x00, 0x0f},
		{0x13, verNum, 0x3f},
		{0x1d, 0x00, 0x38},
	})
	if err != nil {
		return err
	}
	t.sleep(time.Millisecond)

	t.ifFreq = 3570000

	for i := 0; i < 2; i++ {
		err := t.writeMasked([]regWrite{
			{0x0b, hpCor, 0x60},
			{0x0f, 0x04, 0x04}, // calibration clock on
			{0x10, 0x00, 0x03}, // xtal cap 0 pF
		})
		if err != nil {
			return err
		}

		res, err := synth.Solve(filtCalLO, 0, t.pll)
		if err != nil {
			return err
		}
		if err := t.setPLL(res); err != nil {
			return err
		}
		if !t.locked {
			t.log.Warn("pll not locked for filter calibration")
			return nil
		}

		if err := t.writeRegMask(0x0b, 0x10, 0x10); err != nil {
			return err
		}
		t.sleep(time.Millisecond)

		err = t.writeMasked([]regWrite{
			{0x0b, 0x00, 0x10},
			{0x0f, 0x00, 0x04},
		})
		if err != nil {
			return err
		}

		data, err := t.read(5)
		if err != nil {
			return err
		}

		t.calCode = data[4] & 0x0f
		if t.calCode != 0 && t.calCode != 0x0f {
			break
		}
	}

	// narrowest
	if t.calCode == 0x0f {
		t.calCode = 0
	}

	return t.writeMasked([]regWrite{
		{0x0a, filtQ | t.calCode, 0x1f},
		{0x0b, hpCor, 0xef},
		{0x07, imgR, 0x80},
		{0x06, filtGain, 0x30},
		{0x1e, extEnable, 0x60},
		{0x05, loopThru, 0x80},
		{0x1f, ltAtt, 0x80},
		{0x0f, fltExtWid, 0x80},
		{0x19, polyfil, 0x60},
	})
}

// DVB-T system settings.
const (
	mixerTop     = 0x24
	lnaTop       = 0xe5
	cpCur        = 0x38
	divBufCur    = 0x30
	lnaVthL      = 0x53
	mixerVthL    = 0x75
	airCable1In  = 0x00
	cable2In     = 0x00
	lnaDischarge = 14
	filterCur    = 0x40
)

func (t *Tuner) sysFreqSel() error {
	err := t.writeMasked([]regWrite{
		{0x1d, lnaTop, 0xc7},
		{0x1c, mixerTop, 0xf8},
		{0x0d, lnaVthL, 0xff},
		{0x0e, mixerVthL, 0xff},
		{0x05, airCable1In, 0x60},
		{0x06, cable2In, 0x08},
		{0x11, cpCur, 0x38},
		{0x17, divBufCur, 0x30},
		{0x0a, filterCur, 0x60},

		// LNA top lowest, normal mode, predetect off, AGC clock 250 Hz.
		{0x1d, 0x00, 0x38},
		{0x1c, 0x00, 0x04},
		{0x06, 0x00, 0x40},
		{0x1a, 0x30, 0x30},
	})
	if err != nil {
		return err
	}
	t.input = airCable1In

	t.sleep(250 * time.Millisecond)

	return t.writeMasked([]regWrite{
		{0x1d, 0x18, 0x38}, // LNA top 3
		{0x1c, mixerTop, 0x04},
		{0x1e, lnaDischarge, 0x1f},
		{0x1a, 0x20, 0x30}, // AGC clock 60 Hz
	})
}

// Exit writes the standby register set. A tuner that never finished Init is
// left alone.
func (t *Tuner) Exit() error {
	if !t.initDone {
		return nil
	}

	err := t.writeMasked([]regWrite{
		{0x06, 0xb1, 0xff},
		{0x05, 0x03, 0xff},
		{0x07, 0x3a, 0xff},
		{0x08, 0x40, 0xff},
		{0x09, 0xc0, 0xff},
		{0x0a, 0x36, 0xff},
		{0x0c, 0x35, 0xff},
		{0x0f, 0x68, 0xff},
		{0x11, 0x03, 0xff},
		{0x17, 0xf4, 0xff},
		{0x19, 0x0c, 0xff},
	})
	if err != nil {
		return xerrors.Errorf("standby: %w", err)
	}

	t.initDone = false
	return nil
}
