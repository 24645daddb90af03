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
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/bemasher/rtltcp"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/bemasher/rtlusb/rtlsdr"
	"github.com/bemasher/rtlusb/tuner"
	"github.com/bemasher/rtlusb/usb/usbtest"
)

type result struct {
	cmd Command
	err error
}

type rig struct {
	dev     *rtlsdr.Device
	fake    *usbtest.Fake
	srv     *Server
	sdr     rtltcp.SDR
	results chan result
	cancel  context.CancelFunc
	done    chan error
}

func newRig(t *testing.T) *rig {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	cfg := rtlsdr.DefaultConfig()
	cfg.Logger = log
	cfg.Sleep = func(time.Duration) {}

	fake := usbtest.New(usbtest.R820T())
	dev, err := rtlsdr.New(fake, cfg)
	if err != nil {
		t.Fatalf("%+v\n", err)
	}

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("%+v\n", err)
	}

	r := &rig{
		dev:     dev,
		fake:    fake,
		srv:     New(dev, log),
		results: make(chan result, 16),
		done:    make(chan error, 1),
	}
	r.srv.BlockSize = 4096
	r.srv.OnCommand = func(cmd Command, err error) {
		r.results <- result{cmd, err}
	}

	var ctx context.Context
	ctx, r.cancel = context.WithCancel(context.Background())
	go func() { r.done <- r.srv.Serve(ctx, l) }()

	if err := r.sdr.Connect(l.Addr().(*net.TCPAddr)); err != nil {
		t.Fatalf("%+v\n", err)
	}

	return r
}

func (r *rig) wait(t *testing.T, op uint8) error {
	t.Helper()

	select {
	case res := <-r.results:
		if res.cmd.Op != op {
			t.Fatalf("got op %d, want %d\n", res.cmd.Op, op)
		}
		return res.err
	case <-time.After(5 * time.Second):
		t.Fatalf("op %d never applied\n", op)
	}
	return nil
}

func (r *rig) stop(t *testing.T) {
	t.Helper()

	r.cancel()
	r.sdr.Close()

	select {
	case err := <-r.done:
		if err != nil {
			t.Fatalf("%+v\n", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not stop\n")
	}
}

func TestHandshake(t *testing.T) {
	r := newRig(t)
	defer r.stop(t)

	if !r.sdr.Info.Valid() {
		t.Fatalf("%s\n", r.sdr.Info)
	}
	if r.sdr.Info.Tuner.String() != "R820T" || r.sdr.Info.GainCount != 29 {
		t.Fatalf("%s\n", r.sdr.Info)
	}

	buf := make([]byte, 8192)
	if _, err := io.ReadFull(r.sdr, buf); err != nil {
		t.Fatalf("%+v\n", err)
	}

	var cc rtlsdr.CounterCheck
	if lost := cc.Check(buf); lost != 0 {
		t.Fatalf("lost %d\n", lost)
	}
}

func TestCommands(t *testing.T) {
	r := newRig(t)

	for _, tc := range []struct {
		op   uint8
		send func() error
	}{
		{OpCenterFreq, func() error { return r.sdr.SetCenterFreq(100000000) }},
		{OpSampleRate, func() error { return r.sdr.SetSampleRate(1000000) }},
		{OpGainMode, func() error { return r.sdr.SetGainMode(false) }},
		{OpGain, func() error { return r.sdr.SetGain(250) }},
		{OpFreqCorrection, func() error {
			ppm := int32(-5)
			return r.sdr.SetFreqCorrection(uint32(ppm))
		}},
		{OpTestMode, func() error { return r.sdr.SetTestMode(true) }},
		{OpAGCMode, func() error { return r.sdr.SetAGCMode(true) }},
	} {
		if err := tc.send(); err != nil {
			t.Fatalf("%+v\n", err)
		}
		if err := r.wait(t, tc.op); err != nil {
			t.Fatalf("op %d: %+v\n", tc.op, err)
		}
	}

	if err := r.sdr.SetOffsetTuning(true); err != nil {
		t.Fatalf("%+v\n", err)
	}
	if err := r.wait(t, OpOffsetTuning); !xerrors.Is(err, ErrUnsupportedCommand) {
		t.Fatalf("%+v\n", err)
	}

	if err := r.sdr.SetGainByIndex(14); err != nil {
		t.Fatalf("%+v\n", err)
	}
	if err := r.wait(t, OpGainByIndex); err != nil {
		t.Fatalf("%+v\n", err)
	}

	r.stop(t)

	// The server is done with the device, so it can be inspected.
	if r.dev.CenterFreq() != 100000000 || r.dev.SampleRate() != 1000000 || r.dev.FreqCorrection() != -5 {
		t.Fatalf("%d %d %d\n", r.dev.CenterFreq(), r.dev.SampleRate(), r.dev.FreqCorrection())
	}
	if g := r.dev.TunerGain(); g != tuner.Manual(254) {
		t.Fatalf("gain %s\n", g)
	}
	if !r.dev.TestMode() || !r.dev.AGCMode() {
		t.Fatalf("test mode %v agc %v\n", r.dev.TestMode(), r.dev.AGCMode())
	}
	if reg := r.fake.DemodReg(0, 0x19); len(reg) != 1 || reg[0] != 0x23 {
		t.Fatalf("mode register % x\n", reg)
	}
}

func TestTXT(t *testing.T) {
	got := txt(rtltcp.DongleInfo{Tuner: 5, GainCount: 29})
	if len(got) != 2 || got[0] != "tuner=R820T" || got[1] != "gains=29" {
		t.Fatalf("%q\n", got)
	}
}
