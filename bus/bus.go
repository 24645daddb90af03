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

// Package bus implements register access to the RTL2832U over USB vendor
// control transfers, including the I2C bridge to the tuner.
//
// Every call goes to the hardware. Nothing is cached.
package bus

import (
	"sync"

	"golang.org/x/xerrors"

	"github.com/bemasher/rtlusb/rtlerr"
	"github.com/bemasher/rtlusb/usb"
)

// Block selects a register space in the RTL2832U.
type Block uint16

const (
	DemodBlock Block = iota
	USBBlock
	SysBlock
	TunerBlock
	ROMBlock
	IRBlock
	I2CBlock
)

// USB block registers.
const (
	USBSysCtl     = 0x2000
	USBCtrl       = 0x2010
	USBStat       = 0x2014
	USBEPACfg     = 0x2144
	USBEPACtl     = 0x2148
	USBEPAMaxPkt  = 0x2158
	USBEPAMaxPkt2 = 0x215a
	USBEPAFIFOCfg = 0x2160
)

// System block registers.
const (
	DemodCtl  = 0x3000
	GPO       = 0x3001
	GPI       = 0x3002
	GPOE      = 0x3003
	GPD       = 0x3004
	SysIntE   = 0x3005
	SysIntS   = 0x3006
	GPCfg0    = 0x3007
	GPCfg1    = 0x3008
	SysIntE1  = 0x3009
	SysIntS1  = 0x300a
	DemodCtl1 = 0x300b
	IRSuspend = 0x300c
)

// writeFlag is or'd into wIndex for every write.
const writeFlag = 0x10

// Bus issues register accesses on a transport it owns exclusively.
//
// The mutex only keeps multi-transfer sequences (I2C pointer write then
// read, demod write then dummy read) from interleaving. A Bus is otherwise
// not meant to be shared between goroutines.
type Bus struct {
	mu sync.Mutex
	t  usb.Transport
}

// New returns a Bus on t.
func New(t usb.Transport) *Bus {
	return &Bus{t: t}
}

// Transport returns the underlying transport.
func (b *Bus) Transport() usb.Transport {
	return b.t
}

func (b *Bus) control(op string, reqType uint8, value, index uint16, data []byte) error {
	n, err := b.t.Control(reqType, 0, value, index, data, usb.CtrlTimeout)
	if err != nil {
		return &rtlerr.TransportError{Op: op, N: n, Want: len(data), Err: err}
	}
	if n != len(data) {
		return &rtlerr.TransportError{Op: op, N: n, Want: len(data)}
	}
	return nil
}

func (b *Bus) readArray(block Block, addr uint16, data []byte) error {
	return b.control("control in", usb.CtrlIn, addr, uint16(block)<<8, data)
}

func (b *Bus) writeArray(block Block, addr uint16, data []byte) error {
	return b.control("control out", usb.CtrlOut, addr, uint16(block)<<8|writeFlag, data)
}

// ReadArray reads len(data) bytes starting at addr in block.
func (b *Bus) ReadArray(block Block, addr uint16, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.readArray(block, addr, data)
}

// WriteArray writes data starting at addr in block.
func (b *Bus) WriteArray(block Block, addr uint16, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writeArray(block, addr, data)
}

func checkLen(length int) error {
	if length != 1 && length != 2 {
		return xerrors.Errorf("register length %d: %w", length, rtlerr.ErrProtocol)
	}
	return nil
}

// encode lays val out big-endian in length bytes.
func encode(val uint16, length int) []byte {
	if length == 1 {
		return []byte{byte(val)}
	}
	return []byte{byte(val >> 8), byte(val)}
}

// decode composes a register value the way the hardware returns it: low
// byte first.
func decode(data []byte) uint16 {
	if len(data) == 1 {
		return uint16(data[0])
	}
	return uint16(data[1])<<8 | uint16(data[0])
}

// ReadReg reads a 1 or 2 byte register.
func (b *Bus) ReadReg(block Block, addr uint16, length int) (uint16, error) {
	if err := checkLen(length); err != nil {
		return 0, err
	}

	data := make([]byte, length)
	if err := b.ReadArray(block, addr, data); err != nil {
		return 0, xerrors.Errorf("read reg %d:%#04x: %w", block, addr, err)
	}

	return decode(data), nil
}

// WriteReg writes a 1 or 2 byte register, most significant byte first.
func (b *Bus) WriteReg(block Block, addr, val uint16, length int) error {
	if err := checkLen(length); err != nil {
		return err
	}

	if err := b.WriteArray(block, addr, encode(val, length)); err != nil {
		return xerrors.Errorf("write reg %d:%#04x=%#04x: %w", block, addr, val, err)
	}

	return nil
}

func demodValue(addr uint16) uint16 {
	return addr<<8 | 0x20
}

func (b *Bus) demodRead(page uint8, addr uint16, data []byte) error {
	return b.control("demod in", usb.CtrlIn, demodValue(addr), uint16(page), data)
}

// DemodReadReg reads a 1 or 2 byte demodulator register on page.
func (b *Bus) DemodReadReg(page uint8, addr uint16, length int) (uint16, error) {
	if err := checkLen(length); err != nil {
		return 0, err
	}

	data := make([]byte, length)

	b.mu.Lock()
	err := b.demodRead(page, addr, data)
	b.mu.Unlock()

	if err != nil {
		return 0, xerrors.Errorf("read demod %d:%#02x: %w", page, addr, err)
	}

	return decode(data), nil
}

// DemodWriteReg writes a 1 or 2 byte demodulator register on page. Each
// write is followed by a read of page 0x0a register 0x01, which the
// demodulator needs to latch the value.
func (b *Bus) DemodWriteReg(page uint8, addr, val uint16, length int) error {
	if err := checkLen(length); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	err := b.control("demod out", usb.CtrlOut, demodValue(addr), writeFlag|uint16(page), encode(val, length))
	if err != nil {
		return xerrors.Errorf("write demod %d:%#02x=%#04x: %w", page, addr, val, err)
	}

	if err := b.demodRead(0x0a, 0x01, make([]byte, 1)); err != nil {
		return xerrors.Errorf("write demod %d:%#02x latch: %w", page, addr, err)
	}

	return nil
}

// I2CWrite writes data to the device at i2cAddr. data[0] is normally the
// register pointer.
func (b *Bus) I2CWrite(i2cAddr uint8, data []byte) error {
	if err := b.WriteArray(I2CBlock, uint16(i2cAddr), data); err != nil {
		return xerrors.Errorf("i2c write %#02x: %w", i2cAddr, err)
	}
	return nil
}

// I2CRead reads len(data) bytes from the device at i2cAddr starting at its
// current register pointer.
func (b *Bus) I2CRead(i2cAddr uint8, data []byte) error {
	if err := b.ReadArray(I2CBlock, uint16(i2cAddr), data); err != nil {
		return xerrors.Errorf("i2c read %#02x: %w", i2cAddr, err)
	}
	return nil
}

// I2CWriteReg writes val to register reg of the device at i2cAddr.
func (b *Bus) I2CWriteReg(i2cAddr, reg, val uint8) error {
	return b.I2CWrite(i2cAddr, []byte{reg, val})
}

// I2CReadReg reads register reg of the device at i2cAddr. The pointer write
// and the read are issued back to back.
func (b *Bus) I2CReadReg(i2cAddr, reg uint8) (uint8, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.writeArray(I2CBlock, uint16(i2cAddr), []byte{reg}); err != nil {
		return 0, xerrors.Errorf("i2c read %#02x:%#02x: %w", i2cAddr, reg, err)
	}

	data := make([]byte, 1)
	if err := b.readArray(I2CBlock, uint16(i2cAddr), data); err != nil {
		return 0, xerrors.Errorf("i2c read %#02x:%#02x: %w", i2cAddr, reg, err)
	}

	return data[0], nil
}

// I2CReadFrom writes the register pointer reg then reads len(data) bytes as
// one transaction.
func (b *Bus) I2CReadFrom(i2cAddr, reg uint8, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.writeArray(I2CBlock, uint16(i2cAddr), []byte{reg}); err != nil {
		return xerrors.Errorf("i2c read %#02x:%#02x: %w", i2cAddr, reg, err)
	}
	if err := b.readArray(I2CBlock, uint16(i2cAddr), data); err != nil {
		return xerrors.Errorf("i2c read %#02x:%#02x: %w", i2cAddr, reg, err)
	}

	return nil
}

// SetI2CRepeater gates the demodulator's I2C master through to the tuner.
func (b *Bus) SetI2CRepeater(on bool) error {
	val := uint16(0x10)
	if on {
		val = 0x18
	}
	return b.DemodWriteReg(1, 0x01, val, 1)
}

// SetGPIOOutput configures gpio as an output.
func (b *Bus) SetGPIOOutput(gpio uint) error {
	mask := uint16(1) << gpio

	r, err := b.ReadReg(SysBlock, GPD, 1)
	if err != nil {
		return err
	}
	if err := b.WriteReg(SysBlock, GPD, r&^mask, 1); err != nil {
		return err
	}

	r, err = b.ReadReg(SysBlock, GPOE, 1)
	if err != nil {
		return err
	}
	return b.WriteReg(SysBlock, GPOE, r|mask, 1)
}

// SetGPIOBit drives output gpio high or low.
func (b *Bus) SetGPIOBit(gpio uint, on bool) error {
	mask := uint16(1) << gpio

	r, err := b.ReadReg(SysBlock, GPO, 1)
	if err != nil {
		return err
	}

	if on {
		r |= mask
	} else {
		r &^= mask
	}

	return b.WriteReg(SysBlock, GPO, r, 1)
}
