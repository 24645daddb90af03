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

package usb

import (
	"context"
	"time"

	"github.com/google/gousb"
	"github.com/pkg/errors"
	"golang.org/x/xerrors"

	"github.com/bemasher/rtlusb/rtlerr"
)

// configNum is the only configuration exposed by RTL2832U dongles.
const configNum = 1

// Device is a Transport backed by libusb through gousb.
type Device struct {
	ctx  *gousb.Context
	dev  *gousb.Device
	cfg  *gousb.Config
	intf *gousb.Interface
	in   *gousb.InEndpoint

	Info DeviceInfo
}

// known reports whether desc is one of KnownDevices.
func known(desc *gousb.DeviceDesc) bool {
	_, ok := Lookup(uint16(desc.Vendor), uint16(desc.Product))
	return ok
}

// openKnown opens every known dongle on the bus in enumeration order. The
// caller owns the returned devices.
func openKnown(ctx *gousb.Context) ([]*gousb.Device, error) {
	devs, err := ctx.OpenDevices(known)
	if err != nil && len(devs) == 0 {
		return nil, errors.Wrap(err, "open devices")
	}
	return devs, nil
}

func describe(idx int, dev *gousb.Device) DeviceInfo {
	k, _ := Lookup(uint16(dev.Desc.Vendor), uint16(dev.Desc.Product))
	info := DeviceInfo{
		Index: idx,
		Known: k,
		Bus:   dev.Desc.Bus,
		Addr:  dev.Desc.Address,
	}

	// Serial descriptors are optional, an unreadable one is left empty.
	if serial, err := dev.SerialNumber(); err == nil {
		info.Serial = serial
	}

	return info
}

// List enumerates every known dongle attached to the host.
func List() ([]DeviceInfo, error) {
	ctx := gousb.NewContext()
	defer ctx.Close()

	devs, err := openKnown(ctx)
	if err != nil {
		return nil, err
	}

	infos := make([]DeviceInfo, 0, len(devs))
	for idx, dev := range devs {
		infos = append(infos, describe(idx, dev))
		dev.Close()
	}

	return infos, nil
}

// OpenByIndex opens the index'th known dongle.
func OpenByIndex(index int) (*Device, error) {
	return open(func(info DeviceInfo) bool { return info.Index == index })
}

// OpenBySerial opens the known dongle whose serial number matches serial
// exactly.
func OpenBySerial(serial string) (*Device, error) {
	return open(func(info DeviceInfo) bool { return info.Serial == serial })
}

func open(match func(DeviceInfo) bool) (*Device, error) {
	ctx := gousb.NewContext()

	devs, err := openKnown(ctx)
	if err != nil {
		ctx.Close()
		return nil, err
	}

	var d *Device
	for idx, dev := range devs {
		info := describe(idx, dev)
		if d == nil && match(info) {
			dev.ControlTimeout = CtrlTimeout
			d = &Device{ctx: ctx, dev: dev, Info: info}
			continue
		}
		dev.Close()
	}

	if d == nil {
		ctx.Close()
		return nil, rtlerr.ErrNoDevice
	}

	return d, nil
}

func (d *Device) ClaimInterface(iface int) (err error) {
	if err = d.dev.SetAutoDetach(true); err != nil {
		return errors.Wrap(err, "set auto detach")
	}

	d.cfg, err = d.dev.Config(configNum)
	if err != nil {
		return errors.Wrapf(err, "set config %d", configNum)
	}

	d.intf, err = d.cfg.Interface(iface, 0)
	if err != nil {
		return errors.Wrapf(err, "claim interface %d", iface)
	}

	return nil
}

func (d *Device) Reset() error {
	return errors.Wrap(d.dev.Reset(), "reset device")
}

func (d *Device) Control(requestType, request uint8, value, index uint16, data []byte, timeout time.Duration) (int, error) {
	d.dev.ControlTimeout = timeout
	n, err := d.dev.Control(requestType, request, value, index, data)
	if err != nil {
		return n, errors.Wrapf(err, "control %#02x value %#04x index %#04x", requestType, value, index)
	}
	return n, nil
}

func (d *Device) Bulk(endpoint uint8, data []byte, timeout time.Duration) (int, error) {
	if d.intf == nil {
		return 0, xerrors.Errorf("bulk %#02x: interface not claimed: %w", endpoint, rtlerr.ErrTransport)
	}

	if d.in == nil {
		in, err := d.intf.InEndpoint(int(endpoint & 0x0f))
		if err != nil {
			return 0, errors.Wrapf(err, "open endpoint %#02x", endpoint)
		}
		d.in = in
	}

	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	n, err := d.in.ReadContext(ctx, data)
	if err != nil {
		return n, errors.Wrapf(err, "bulk read %#02x", endpoint)
	}
	return n, nil
}

func (d *Device) Close() error {
	if d.intf != nil {
		d.intf.Close()
	}
	if d.cfg != nil {
		d.cfg.Close()
	}

	err := d.dev.Close()
	d.ctx.Close()

	return errors.Wrap(err, "close device")
}
