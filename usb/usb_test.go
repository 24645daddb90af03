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

import "testing"

func TestLookup(t *testing.T) {
	k, ok := Lookup(0x0bda, 0x2838)
	if !ok {
		t.Fatalf("generic oem dongle not known")
	}
	if k.String() != "0bda:2838 Generic RTL2832U OEM" {
		t.Fatalf("%q\n", k.String())
	}

	if _, ok := Lookup(0x0bda, 0x0000); ok {
		t.Fatalf("unexpected match")
	}
}

func TestKnownDevicesUnique(t *testing.T) {
	seen := map[[2]uint16]string{}
	for _, k := range KnownDevices {
		key := [2]uint16{k.VendorID, k.ProductID}
		if prev, dup := seen[key]; dup {
			t.Fatalf("duplicate id %s and %q\n", k, prev)
		}
		seen[key] = k.Name
	}
}
