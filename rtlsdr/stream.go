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
	"context"

	"golang.org/x/xerrors"

	"github.com/bemasher/rtlusb/bus"
	"github.com/bemasher/rtlusb/rtlerr"
	"github.com/bemasher/rtlusb/usb"
)

// ResetBuffer flushes the endpoint FIFO and starts a new streaming session.
// Required before the first read and after samples were lost.
func (d *Device) ResetBuffer() error {
	if err := d.check(); err != nil {
		return err
	}

	if err := d.regWrites([]regWrite{
		{bus.USBBlock, bus.USBEPACtl, 0x1002, 2},
		{bus.USBBlock, bus.USBEPACtl, 0x0000, 2},
	}); err != nil {
		return xerrors.Errorf("reset buffer: %w", err)
	}

	d.lost = false
	d.dirty = false
	d.state = StateStreaming

	return nil
}

// ReadSync fills buf with interleaved unsigned 8 bit I/Q samples. Reads
// require a session started by ResetBuffer. A short read returns
// ErrSamplesLost and ends the session: every later read fails until
// ResetBuffer.
func (d *Device) ReadSync(buf []byte) (int, error) {
	if err := d.check(); err != nil {
		return 0, err
	}
	if d.lost {
		return 0, xerrors.Errorf("buffer not reset: %w", rtlerr.ErrSamplesLost)
	}
	if d.state != StateStreaming {
		return 0, xerrors.Errorf("read before buffer reset: %w", rtlerr.ErrProtocol)
	}

	if d.dirty {
		d.log.Warn("configuration changed since buffer reset, samples may span both settings")
		d.dirty = false
	}

	n, err := d.t.Bulk(usb.BulkEndpoint, buf, d.cfg.BulkTimeout)
	if err != nil {
		return n, &rtlerr.TransportError{Op: "bulk in", N: n, Want: len(buf), Err: err}
	}

	if n < len(buf) {
		d.lost = true
		d.state = StateInitialized
		d.log.WithField("read", n).WithField("want", len(buf)).Warn("short read")
		return n, xerrors.Errorf("read %d of %d bytes: %w", n, len(buf), rtlerr.ErrSamplesLost)
	}

	d.state = StateStreaming

	return n, nil
}

// Read implements io.Reader on top of ReadSync.
func (d *Device) Read(p []byte) (int, error) {
	return d.ReadSync(p)
}

// Acquire reads buffers of len(buf) and hands each to fn until ctx is done,
// a read fails or fn returns an error. buf is reused between calls.
func (d *Device) Acquire(ctx context.Context, buf []byte, fn func([]byte) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := d.ReadSync(buf)
		if err != nil {
			return err
		}

		if err := fn(buf[:n]); err != nil {
			return err
		}
	}
}

// CounterCheck verifies the counter pattern produced in test mode: every
// byte is one more than the last.
type CounterCheck struct {
	next    byte
	started bool

	Bytes uint64
	Lost  uint64
}

// Check scans buf and returns the number of counter values skipped.
func (c *CounterCheck) Check(buf []byte) (lost int) {
	for _, b := range buf {
		if !c.started {
			c.next, c.started = b, true
		}

		if b != c.next {
			lost += int(b - c.next)
			c.next = b
		}
		c.next++
	}

	c.Bytes += uint64(len(buf))
	c.Lost += uint64(lost)

	return lost
}
