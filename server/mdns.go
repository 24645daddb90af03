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

package server

import (
	"fmt"

	"github.com/bemasher/rtltcp"
	"github.com/grandcat/zeroconf"
	"golang.org/x/xerrors"
)

// Service is the mDNS service type rtl_tcp servers are advertised under.
const Service = "_rtl_tcp._tcp"

// txt describes the dongle in the advertisement's TXT record.
func txt(info rtltcp.DongleInfo) []string {
	return []string{
		"tuner=" + info.Tuner.String(),
		fmt.Sprintf("gains=%d", info.GainCount),
	}
}

// Advertise announces the server on every interface until the returned
// shutdown func is called.
func Advertise(instance string, port int, info rtltcp.DongleInfo) (shutdown func(), err error) {
	srv, err := zeroconf.Register(instance, Service, "local.", port, txt(info), nil)
	if err != nil {
		return nil, xerrors.Errorf("mdns register %q: %w", instance, err)
	}
	return srv.Shutdown, nil
}
