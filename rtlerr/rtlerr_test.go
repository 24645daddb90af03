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

package rtlerr

import (
	"testing"

	"golang.org/x/xerrors"
)

func TestTransportErrorIs(t *testing.T) {
	cause := xerrors.New("libusb: timeout")
	err := xerrors.Errorf("write reg: %w", &TransportError{Op: "control out", Err: cause})

	if !xerrors.Is(err, ErrTransport) {
		t.Fatalf("%+v\n", err)
	}
	if !xerrors.Is(err, cause) {
		t.Fatalf("cause lost: %+v\n", err)
	}

	var te *TransportError
	if !xerrors.As(err, &te) || te.Op != "control out" {
		t.Fatalf("%+v\n", err)
	}
}

func TestTransportErrorShort(t *testing.T) {
	err := &TransportError{Op: "control in", N: 1, Want: 2}
	if err.Error() != "control in: short transfer: 1 of 2 bytes" {
		t.Fatalf("%q\n", err.Error())
	}
	if xerrors.Is(err, ErrProtocol) {
		t.Fatalf("transport error must not match protocol error")
	}
}
