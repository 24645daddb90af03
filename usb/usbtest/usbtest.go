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

// Package usbtest provides a recording usb.Transport that emulates enough of
// an RTL2832U and its I2C tuner to run the driver without hardware.
package usbtest

import (
	"sync"
	"time"

	"golang.org/x/xerrors"
)

var (
	// ErrStall is returned for I2C accesses to an address with no chip, the
	// way the dongle stalls the control pipe on a NAK.
	ErrStall = xerrors.New("pipe stalled")

	ErrClosed   = xerrors.New("device closed")
	ErrInjected = xerrors.New("injected fault")
)

const i2cBlock = 6

// Transfer records one control transfer. Data holds the bytes written for
// OUT transfers and the bytes returned for IN transfers.
type Transfer struct {
	RequestType uint8
	Request     uint8
	Value       uint16
	Index       uint16
	Data        []byte
}

// In reports whether t is a device to host transfer.
func (t Transfer) In() bool {
	return t.RequestType&0x80 != 0
}

// Demod reports whether t addresses a demodulator page, and which one.
func (t Transfer) Demod() (page uint8, addr uint16, ok bool) {
	if t.Index>>8 != 0 {
		return 0, 0, false
	}
	return uint8(t.Index & 0x0f), t.Value >> 8, true
}

// Block returns the register block t addresses.
func (t Transfer) Block() uint16 {
	return t.Index >> 8
}

// Chip is an I2C device behind the demodulator's repeater.
type Chip struct {
	Addr uint8
	Regs [256]byte

	ptr uint8
}

// R820T returns a model of an R820T at 0x34: chip id 0x69, PLL locked, VCO
// fine tune and filter calibration codes in range.
func R820T() *Chip {
	c := &Chip{Addr: 0x34}
	c.Regs[0] = 0x69
	c.Regs[2] = 0x02 // bit reversed: 0x40, PLL lock
	c.Regs[4] = 0x14 // bit reversed: 0x28, fine tune 2, calibration code 8
	return c
}

// R828D returns a model of an R828D at 0x74.
func R828D() *Chip {
	c := R820T()
	c.Addr = 0x74
	c.Regs[4] = 0x18 // bit reversed: 0x18, fine tune 1, calibration code 8
	return c
}

// E4000 returns a model of an Elonics E4000 at 0xc8, a tuner with no driver.
func E4000() *Chip {
	c := &Chip{Addr: 0xc8}
	c.Regs[2] = 0x40
	return c
}

type regKey struct {
	block uint16
	addr  uint16
}

// Fake is a recording usb.Transport. The zero value is not usable, use New.
type Fake struct {
	mu sync.Mutex

	transfers []Transfer
	regs      map[regKey][]byte
	demod     map[regKey][]byte
	chips     map[uint8]*Chip

	claimed int
	resets  int
	closed  bool
	counter byte

	// Fault is called before every control transfer with its 1-based
	// sequence number. A non-nil return fails the transfer.
	Fault func(seq int, t Transfer) error

	// ShortControl, when non-zero, truncates IN control transfers of more
	// than ShortControl bytes.
	ShortControl int

	// ShortRead, when non-zero, truncates every bulk read to ShortRead bytes.
	ShortRead int

	// BulkErr fails every bulk read.
	BulkErr error
}

// New returns a Fake with chips on its I2C bus.
func New(chips ...*Chip) *Fake {
	f := &Fake{
		regs:    make(map[regKey][]byte),
		demod:   make(map[regKey][]byte),
		chips:   make(map[uint8]*Chip),
		claimed: -1,
	}
	for _, c := range chips {
		f.chips[c.Addr] = c
	}
	return f
}

// FailAt returns a Fault that fails transfer number seq.
func FailAt(seq int) func(int, Transfer) error {
	return func(n int, _ Transfer) error {
		if n == seq {
			return ErrInjected
		}
		return nil
	}
}

func (f *Fake) ClaimInterface(iface int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}
	f.claimed = iface
	return nil
}

func (f *Fake) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.resets++
	return nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	return nil
}

func (f *Fake) Control(requestType, request uint8, value, index uint16, data []byte, _ time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return 0, ErrClosed
	}

	t := Transfer{RequestType: requestType, Request: request, Value: value, Index: index}
	if !t.In() {
		t.Data = append([]byte(nil), data...)
	}

	if f.Fault != nil {
		if err := f.Fault(len(f.transfers)+1, t); err != nil {
			f.transfers = append(f.transfers, t)
			return 0, err
		}
	}

	n, err := f.handle(t, data)
	if t.In() {
		t.Data = append([]byte(nil), data[:n]...)
	}
	f.transfers = append(f.transfers, t)

	return n, err
}

func (f *Fake) handle(t Transfer, data []byte) (int, error) {
	if page, addr, ok := t.Demod(); ok {
		key := regKey{uint16(page), addr}
		if t.In() {
			return f.short(copy(data, pad(f.demod[key], len(data)))), nil
		}
		f.demod[key] = append([]byte(nil), data...)
		return len(data), nil
	}

	if t.Block() == i2cBlock {
		c, ok := f.chips[uint8(t.Value)]
		if !ok {
			return 0, ErrStall
		}
		if t.In() {
			for i := range data {
				data[i] = c.Regs[c.ptr+uint8(i)]
			}
			return f.short(len(data)), nil
		}
		if len(data) > 0 {
			c.ptr = data[0]
			for i, b := range data[1:] {
				c.Regs[c.ptr+uint8(i)] = b
			}
		}
		return len(data), nil
	}

	key := regKey{t.Block(), t.Value}
	if t.In() {
		return f.short(copy(data, pad(f.regs[key], len(data)))), nil
	}
	f.regs[key] = append([]byte(nil), data...)
	return len(data), nil
}

func (f *Fake) short(n int) int {
	if f.ShortControl > 0 && n > f.ShortControl {
		return f.ShortControl
	}
	return n
}

func pad(b []byte, n int) []byte {
	if len(b) >= n {
		return b
	}
	return append(append([]byte(nil), b...), make([]byte, n-len(b))...)
}

// Bulk fills data with the demodulator's test mode counting pattern,
// continuing from the previous read.
func (f *Fake) Bulk(endpoint uint8, data []byte, _ time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return 0, ErrClosed
	}
	if endpoint != 0x81 {
		return 0, xerrors.Errorf("endpoint %#02x: %w", endpoint, ErrStall)
	}
	if f.BulkErr != nil {
		return 0, f.BulkErr
	}

	n := len(data)
	if f.ShortRead > 0 && f.ShortRead < n {
		n = f.ShortRead
	}
	for i := range data[:n] {
		data[i] = f.counter
		f.counter++
	}

	return n, nil
}

// Transfers returns a copy of the control transfer log.
func (f *Fake) Transfers() []Transfer {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]Transfer(nil), f.transfers...)
}

// Writes returns the OUT transfers in the log.
func (f *Fake) Writes() (w []Transfer) {
	for _, t := range f.Transfers() {
		if !t.In() {
			w = append(w, t)
		}
	}
	return w
}

// ClearLog empties the transfer log.
func (f *Fake) ClearLog() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.transfers = nil
}

// DemodReg returns the bytes last written to a demodulator register.
func (f *Fake) DemodReg(page uint8, addr uint16) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]byte(nil), f.demod[regKey{uint16(page), addr}]...)
}

// Reg returns the bytes last written to a block register.
func (f *Fake) Reg(block, addr uint16) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]byte(nil), f.regs[regKey{block, addr}]...)
}

// SetReg presets the value returned by reads of a block register.
func (f *Fake) SetReg(block, addr uint16, data ...byte) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.regs[regKey{block, addr}] = data
}

// TunerReg returns a register of the chip at addr.
func (f *Fake) TunerReg(addr, reg uint8) byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.chips[addr].Regs[reg]
}

// Claimed returns the claimed interface, -1 if none.
func (f *Fake) Claimed() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.claimed
}

// Resets returns the number of USB resets issued.
func (f *Fake) Resets() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.resets
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.closed
}
