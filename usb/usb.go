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

// Package usb is the boundary between the driver and the host USB stack.
//
// The driver only ever talks to a Transport. The gousb backed implementation
// in this package opens real dongles; usbtest provides a recording fake.
package usb

import (
	"fmt"
	"time"
)

// Control request types used by the RTL2832U: vendor requests, device
// recipient.
const (
	CtrlIn  = 0xC0
	CtrlOut = 0x40
)

const (
	// CtrlTimeout bounds every register access.
	CtrlTimeout = 300 * time.Millisecond

	// BulkEndpoint is the sample stream endpoint (EP1 IN).
	BulkEndpoint = 0x81

	// DefaultBulkTimeout bounds a single synchronous sample read so that a
	// cooperative shutdown flag is observed even when the stream stalls.
	DefaultBulkTimeout = time.Second

	// Interface is the interface claimed for register and sample access.
	Interface = 0
)

// Transport is the synchronous subset of a USB device handle the driver
// needs. Implementations are not required to be safe for concurrent use.
type Transport interface {
	// ClaimInterface claims exclusive access to iface, detaching any kernel
	// driver (dvb_usb_rtl28xxu) if required.
	ClaimInterface(iface int) error

	// Reset issues a USB port reset.
	Reset() error

	// Control performs a control transfer. The direction is taken from bit 7
	// of requestType. Returns the number of bytes transferred in the data
	// stage.
	Control(requestType, request uint8, value, index uint16, data []byte, timeout time.Duration) (int, error)

	// Bulk performs a synchronous bulk transfer on endpoint.
	Bulk(endpoint uint8, data []byte, timeout time.Duration) (int, error)

	// Close releases the interface and the device.
	Close() error
}

// KnownDevice associates a vendor/product id pair with a product name.
type KnownDevice struct {
	VendorID  uint16
	ProductID uint16
	Name      string
}

func (k KnownDevice) String() string {
	return fmt.Sprintf("%04x:%04x %s", k.VendorID, k.ProductID, k.Name)
}

// KnownDevices lists every dongle the driver recognizes.
var KnownDevices = []KnownDevice{
	{0x0bda, 0x2832, "Generic RTL2832U"},
	{0x0bda, 0x2838, "Generic RTL2832U OEM"},
	{0x0413, 0x6680, "DigitalNow Quad DVB-T PCI-E card"},
	{0x0413, 0x6f0f, "Leadtek WinFast DTV Dongle mini D"},
	{0x0458, 0x707f, "Genius TVGo DVB-T03 USB dongle (Ver. B)"},
	{0x0ccd, 0x00a9, "Terratec Cinergy T Stick Black (rev 1)"},
	{0x0ccd, 0x00b3, "Terratec NOXON DAB/DAB+ USB dongle (rev 1)"},
	{0x0ccd, 0x00b4, "Terratec Deutschlandradio DAB Stick"},
	{0x0ccd, 0x00b5, "Terratec NOXON DAB Stick - Radio Energy"},
	{0x0ccd, 0x00b7, "Terratec Media Broadcast DAB Stick"},
	{0x0ccd, 0x00b8, "Terratec BR DAB Stick"},
	{0x0ccd, 0x00b9, "Terratec WDR DAB Stick"},
	{0x0ccd, 0x00c0, "Terratec MuellerVerlag DAB Stick"},
	{0x0ccd, 0x00c6, "Terratec Fraunhofer DAB Stick"},
	{0x0ccd, 0x00d3, "Terratec Cinergy T Stick RC (Rev.3)"},
	{0x0ccd, 0x00d7, "Terratec T Stick PLUS"},
	{0x0ccd, 0x00e0, "Terratec NOXON DAB/DAB+ USB dongle (rev 2)"},
	{0x1554, 0x5020, "PixelView PV-DT235U(RN)"},
	{0x15f4, 0x0131, "Astrometa DVB-T/DVB-T2"},
	{0x15f4, 0x0133, "HanfTek DAB+FM+DVB-T"},
	{0x185b, 0x0620, "Compro Videomate U620F"},
	{0x185b, 0x0650, "Compro Videomate U650F"},
	{0x185b, 0x0680, "Compro Videomate U680F"},
	{0x1b80, 0xd393, "GIGABYTE GT-U7300"},
	{0x1b80, 0xd394, "DIKOM USB-DVBT HD"},
	{0x1b80, 0xd395, "Peak 102569AGPK"},
	{0x1b80, 0xd397, "KWorld KW-UB450-T USB DVB-T Pico TV"},
	{0x1b80, 0xd398, "Zaapa ZT-MINDVBZP"},
	{0x1b80, 0xd39d, "SVEON STV20 DVB-T USB & FM"},
	{0x1b80, 0xd3a4, "Twintech UT-40"},
	{0x1b80, 0xd3a8, "ASUS U3100MINI_PLUS_V2"},
	{0x1b80, 0xd3af, "SVEON STV27 DVB-T USB & FM"},
	{0x1b80, 0xd3b0, "SVEON STV21 DVB-T USB & FM"},
	{0x1d19, 0x1101, "Dexatek DK DVB-T Dongle (Logilink VG0002A)"},
	{0x1d19, 0x1102, "Dexatek DK DVB-T Dongle (MSI DigiVox mini II V3.0)"},
	{0x1d19, 0x1103, "Dexatek Technology Ltd. DK 5217 DVB-T Dongle"},
	{0x1d19, 0x1104, "MSI DigiVox Micro HD"},
	{0x1f4d, 0xa803, "Sweex DVB-T USB"},
	{0x1f4d, 0xb803, "GTek T803"},
	{0x1f4d, 0xc803, "Lifeview LV5TDeluxe"},
	{0x1f4d, 0xd286, "MyGica TD312"},
	{0x1f4d, 0xd803, "PROlectrix DV107669"},
}

// Lookup returns the known device matching vid and pid.
func Lookup(vid, pid uint16) (KnownDevice, bool) {
	for _, k := range KnownDevices {
		if k.VendorID == vid && k.ProductID == pid {
			return k, true
		}
	}
	return KnownDevice{}, false
}

// DeviceInfo describes an enumerated dongle. Index is the position used by
// OpenByIndex.
type DeviceInfo struct {
	Index  int
	Known  KnownDevice
	Serial string
	Bus    int
	Addr   int
}

func (d DeviceInfo) String() string {
	return fmt.Sprintf("%d: %s, SN: %s (bus %d addr %d)", d.Index, d.Known, d.Serial, d.Bus, d.Addr)
}
