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

package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/bemasher/rtlusb/rtlerr"
	"github.com/bemasher/rtlusb/rtlsdr"
	"github.com/bemasher/rtlusb/server"
)

type Receiver struct {
	*rtlsdr.Device

	log logrus.FieldLogger
	cc  *rtlsdr.CounterCheck
	seq uint64
}

func NewReceiver(log logrus.FieldLogger) (*Receiver, error) {
	g := Gain(*gain)
	cfg := rtlsdr.Config{
		Logger:     log,
		SampleRate: uint32(sampleRate),
		Gain:       &g,
	}

	var (
		dev *rtlsdr.Device
		err error
	)
	if *serial != "" {
		dev, err = rtlsdr.OpenBySerial(*serial, cfg)
	} else {
		dev, err = rtlsdr.Open(*index, cfg)
	}
	if err != nil {
		return nil, err
	}

	rcvr := &Receiver{Device: dev, log: log}
	if err := rcvr.configure(); err != nil {
		dev.Close()
		return nil, err
	}

	return rcvr, nil
}

// configure applies the device flags. Correction and bandwidth go first so
// the tune that follows uses them.
func (rcvr *Receiver) configure() error {
	mode, err := DirectSamplingMode(*directSampling)
	if err != nil {
		return err
	}

	steps := []struct {
		name string
		fn   func() error
	}{
		{"freq correction", func() error { return rcvr.SetFreqCorrection(*ppm) }},
		{"bandwidth", func() error { return rcvr.SetTunerBandwidth(uint32(bandwidth)) }},
		{"direct sampling", func() error { return rcvr.SetDirectSampling(mode) }},
		{"center freq", func() error { return rcvr.SetCenterFreq(uint64(centerFreq)) }},
		{"test mode", func() error { return rcvr.SetTestMode(*testMode) }},
		{"agc mode", func() error { return rcvr.SetAGCMode(*agcMode) }},
		{"bias tee", func() error { return rcvr.SetBiasTee(*biasTee) }},
	}

	for _, step := range steps {
		if err := step.fn(); err != nil {
			return xerrors.Errorf("%s: %w", step.name, err)
		}
	}

	if *testMode {
		rcvr.cc = &rtlsdr.CounterCheck{}
	}

	rcvr.log.WithFields(logrus.Fields{
		"centerfreq": rcvr.CenterFreq(),
		"tuned":      rcvr.TunedFreq(),
		"samplerate": rcvr.SampleRate(),
		"bandwidth":  rcvr.TunerBandwidth(),
		"gain":       rcvr.TunerGain(),
		"ppm":        rcvr.FreqCorrection(),
	}).Info("configured")

	return nil
}

// Handle summarizes one block and dumps its raw samples.
func (rcvr *Receiver) Handle(buf []byte) error {
	lost := 0
	if rcvr.cc != nil {
		lost = rcvr.cc.Check(buf)
		if lost > 0 {
			rcvr.log.WithField("lost", lost).Warn("counter discontinuity")
		}
	}

	if err := encoder.Encode(NewBlock(rcvr.seq, buf, lost)); err != nil {
		return xerrors.Errorf("encode block: %w", err)
	}
	rcvr.seq++

	if *sampleFilename != os.DevNull {
		if _, err := sampleFile.Write(buf); err != nil {
			return xerrors.Errorf("write samples: %w", err)
		}
	}

	return nil
}

func (rcvr *Receiver) Run(ctx context.Context) error {
	if err := rcvr.ResetBuffer(); err != nil {
		return err
	}

	start := time.Now()
	err := rcvr.Acquire(ctx, make([]byte, *blockSize), rcvr.Handle)

	fields := logrus.Fields{"blocks": rcvr.seq, "elapsed": time.Since(start)}
	if rcvr.cc != nil {
		fields["bytes"] = rcvr.cc.Bytes
		fields["lost"] = rcvr.cc.Lost
	}
	rcvr.log.WithFields(fields).Info("acquisition stopped")

	if xerrors.Is(err, context.Canceled) || xerrors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// Serve exposes the device over rtl_tcp until ctx is done.
func (rcvr *Receiver) Serve(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return xerrors.Errorf("listen: %w", err)
	}

	srv := server.New(rcvr.Device, rcvr.log)
	srv.BlockSize = *blockSize

	if *mdns {
		_, portStr, _ := net.SplitHostPort(l.Addr().String())
		port, _ := strconv.Atoi(portStr)

		host, _ := os.Hostname()
		shutdown, err := server.Advertise(fmt.Sprintf("rtlusb on %s", host), port, srv.Info())
		if err != nil {
			l.Close()
			return err
		}
		defer shutdown()
	}

	return srv.Serve(ctx, l)
}

// signalContext is cancelled on interrupt or once the time limit passes.
func signalContext(limit time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, os.Kill, os.Interrupt)

	tLimit := make(<-chan time.Time, 1)
	if limit != 0 {
		tLimit = time.After(limit)
	}

	go func() {
		defer signal.Stop(sigint)
		select {
		case sig := <-sigint:
			logrus.WithField("signal", sig).Info("interrupted")
		case <-tLimit:
			logrus.WithField("limit", limit).Info("time limit reached")
		case <-ctx.Done():
		}
		cancel()
	}()

	return ctx, cancel
}

var (
	buildTag   = "dev"     // v#.#.#
	buildDate  = "unknown" // date -u '+%Y-%m-%d'
	commitHash = "unknown" // git rev-parse HEAD
)

func main() {
	RegisterFlags()
	EnvOverride(flag.CommandLine, os.Getenv)
	flag.Parse()

	if *version {
		fmt.Println("Build Tag: ", buildTag)
		fmt.Println("Build Date:", buildDate)
		fmt.Println("Commit:    ", commitHash)
		os.Exit(0)
	}

	if err := LoadConfigFile(flag.CommandLine, *configFilename); err != nil {
		logrus.Fatalf("%+v", err)
	}

	logFile, err := SetupLogging(*logLevel, *logFilename)
	if err != nil {
		logrus.Fatalf("%+v", err)
	}
	defer logFile.Close()

	if *list {
		devices, err := rtlsdr.List()
		if err != nil {
			logrus.Fatalf("%+v", err)
		}
		if len(devices) == 0 {
			fmt.Println("no supported devices found")
		}
		for _, d := range devices {
			fmt.Println(d)
		}
		return
	}

	if err := HandleFlags(); err != nil {
		logrus.Fatalf("%+v", err)
	}
	defer sampleFile.Close()

	rcvr, err := NewReceiver(logrus.StandardLogger())
	if err != nil {
		logrus.Fatalf("%+v", err)
	}
	defer rcvr.Close()

	ctx, cancel := signalContext(*timeLimit)
	defer cancel()

	if *serve != "" {
		err = rcvr.Serve(ctx, *serve)
	} else {
		err = rcvr.Run(ctx)
	}

	if xerrors.Is(err, rtlerr.ErrSamplesLost) {
		logrus.WithError(err).Error("samples lost")
		return
	}
	if err != nil {
		logrus.Errorf("%+v", err)
	}
}
