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

// Package rtlsdr controls an RTL2832U based SDR dongle: initialization,
// tuning, gain, sample rate and the synchronous sample stream.
//
// A Device is owned by one goroutine. Concurrent calls on the same Device
// are undefined unless the caller serializes them.
package rtlsdr

import (
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/bemasher/rtlusb/bus"
	"github.com/bemasher/rtlusb/rtlerr"
	"github.com/bemasher/rtlusb/samplerate"
	"github.com/bemasher/rtlusb/tuner"
	"github.com/bemasher/rtlusb/tuner/r82xx"
	"github.com/bemasher/rtlusb/usb"
)

const (
	DefaultXtal       = 28800000
	DefaultSampleRate = 2048000
	DefaultBufLength  = 16 * 16384
)

// drivers maps tuner chips to their driver. Chips without an entry are
// detected but unsupported.
var drivers = map[tuner.Type]tuner.AttachFunc{
	tuner.R820T: r82xx.Attach,
	tuner.R828D: r82xx.Attach,
}

// State is a Device's lifecycle state.
type State int

const (
	StateClosed State = iota
	StateOpened
	StateInitialized
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpened:
		return "opened"
	case StateInitialized:
		return "initialized"
	case StateStreaming:
		return "streaming"
	}
	return "invalid"
}

// DirectSampling routes an ADC input straight to the sample stream,
// bypassing the tuner.
type DirectSampling int

const (
	DirectSamplingOff DirectSampling = iota
	DirectSamplingOn
	DirectSamplingOnSwap // I and Q swapped, selects the other input
)

func (m DirectSampling) String() string {
	switch m {
	case DirectSamplingOff:
		return "off"
	case DirectSamplingOn:
		return "on"
	case DirectSamplingOnSwap:
		return "on (swapped)"
	}
	return "invalid"
}

// Config holds the settings applied when a device is opened. Zero fields
// take their defaults.
type Config struct {
	Logger logrus.FieldLogger

	Xtal      uint32 // demodulator crystal in Hz
	TunerXtal uint32 // 0 uses the tuner's own or the demodulator crystal

	SampleRate uint32

	// Gain applied after init. nil leaves the tuner AGC on.
	Gain *tuner.Gain

	// FIR holds the 16 coefficients of the demodulator's decimation filter:
	// 8 signed 8 bit values then 8 signed 12 bit values. nil uses DefaultFIR.
	FIR []int

	BulkTimeout time.Duration

	// Sleep is used for tuner settling delays.
	Sleep func(time.Duration)
}

// DefaultConfig returns a Config with every default filled in.
func DefaultConfig() Config {
	return Config{
		Logger:      logrus.StandardLogger(),
		Xtal:        DefaultXtal,
		SampleRate:  DefaultSampleRate,
		FIR:         DefaultFIR,
		BulkTimeout: usb.DefaultBulkTimeout,
		Sleep:       time.Sleep,
	}
}

func (cfg Config) withDefaults() Config {
	def := DefaultConfig()
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}
	if cfg.Xtal == 0 {
		cfg.Xtal = def.Xtal
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.FIR == nil {
		cfg.FIR = def.FIR
	}
	if cfg.BulkTimeout == 0 {
		cfg.BulkTimeout = def.BulkTimeout
	}
	if cfg.Sleep == nil {
		cfg.Sleep = def.Sleep
	}
	return cfg
}

// Device is an initialized dongle.
type Device struct {
	t   usb.Transport
	bus *bus.Bus
	i2c *gate
	log logrus.FieldLogger
	cfg Config

	state State

	tuner     tuner.Tuner
	desc      *tuner.Descriptor
	tunerXtal uint32
	ifFreq    uint32

	freq   uint64 // requested center frequency
	tuned  uint64 // frequency the tuner reported
	ppm    int
	rate   samplerate.Setting
	bw     uint32 // 0 tracks the sample rate
	gain   tuner.Gain
	direct DirectSampling

	testMode bool
	agc      bool
	biasTee  bool

	// lost is set by a short read and cleared by ResetBuffer.
	lost bool
	// dirty is set by any configuration change after ResetBuffer.
	dirty bool
}

// New initializes the dongle behind t. On failure t is closed and no Device
// is returned.
func New(t usb.Transport, cfg Config) (*Device, error) {
	cfg = cfg.withDefaults()

	d := &Device{
		t:    t,
		bus:  bus.New(t),
		log:  cfg.Logger,
		cfg:  cfg,
		gain: tuner.Auto(),
	}
	d.i2c = &gate{bus: d.bus}

	if err := d.init(); err != nil {
		d.t.Close()
		d.state = StateClosed
		return nil, err
	}

	return d, nil
}

// Open initializes the index'th known dongle.
func Open(index int, cfg Config) (*Device, error) {
	dev, err := usb.OpenByIndex(index)
	if err != nil {
		return nil, xerrors.Errorf("open device %d: %w", index, err)
	}
	return New(dev, cfg)
}

// OpenBySerial initializes the known dongle with the given serial number.
func OpenBySerial(serial string, cfg Config) (*Device, error) {
	dev, err := usb.OpenBySerial(serial)
	if err != nil {
		return nil, xerrors.Errorf("open device %q: %w", serial, err)
	}
	return New(dev, cfg)
}

// List enumerates the known dongles attached to the host.
func List() ([]usb.DeviceInfo, error) {
	return usb.List()
}

func (d *Device) init() error {
	fir, err := packFIR(d.cfg.FIR)
	if err != nil {
		return err
	}

	if err := d.t.ClaimInterface(usb.Interface); err != nil {
		return xerrors.Errorf("claim interface: %w", err)
	}
	d.state = StateOpened

	if err := d.bus.WriteReg(bus.USBBlock, bus.USBSysCtl, 0x09, 1); err != nil {
		d.log.WithError(err).Warn("dummy write failed, resetting device")
		if err := d.t.Reset(); err != nil {
			return xerrors.Errorf("reset device: %w", err)
		}
	}

	if err := d.initBaseband(fir); err != nil {
		return err
	}

	if err := d.SetBiasTee(false); err != nil {
		return err
	}

	if err := d.i2c.ensure(); err != nil {
		return xerrors.Errorf("i2c repeater: %w", err)
	}

	desc, ok := tuner.Probe(d.i2c)
	if !ok {
		if err := d.i2c.err(); err != nil {
			return xerrors.Errorf("probe tuner: %w", err)
		}
		return rtlerr.ErrNoSupportedTuner
	}

	d.desc = desc
	d.log = d.log.WithField("tuner", desc.Type)

	attach, ok := drivers[desc.Type]
	if !ok {
		return xerrors.Errorf("found %s: %w", desc.Type, rtlerr.ErrNoSupportedTuner)
	}

	d.tunerXtal = d.cfg.TunerXtal
	if d.tunerXtal == 0 {
		d.tunerXtal = desc.Xtal
	}
	if d.tunerXtal == 0 {
		d.tunerXtal = d.cfg.Xtal
	}

	if desc.Type == tuner.R820T || desc.Type == tuner.R828D {
		if err := d.initR82xxDemod(); err != nil {
			return err
		}
	}

	tun, err := attach(tuner.Env{
		I2C:   d.i2c,
		Xtal:  d.tunerXtal,
		Log:   d.log,
		Sleep: d.cfg.Sleep,
	}, desc)
	if err != nil {
		return err
	}
	d.tuner = tun

	err = d.withTuner(func() error { return tun.Init() })
	if err != nil {
		return xerrors.Errorf("init tuner: %w", err)
	}
	d.ifFreq = tun.IFFrequency()

	d.state = StateInitialized

	if err := d.SetSampleRate(d.cfg.SampleRate); err != nil {
		return err
	}

	gain := tuner.Auto()
	if d.cfg.Gain != nil {
		gain = *d.cfg.Gain
	}
	if err := d.SetTunerGain(gain); err != nil {
		return err
	}

	d.log.WithFields(logrus.Fields{
		"xtal":  d.cfg.Xtal,
		"rate":  d.rate.Rate,
		"gains": len(d.desc.Gains),
	}).Info("device initialized")

	return nil
}

// initR82xxDemod switches the demodulator from zero-IF to the low IF the
// R82xx tuners produce.
func (d *Device) initR82xxDemod() error {
	if err := d.demodWrites([]demodWrite{
		{1, 0xb1, 0x1a, 1}, // zero-IF off
		{0, 0x08, 0x4d, 1}, // in-phase ADC only
	}); err != nil {
		return err
	}

	if err := d.setIFFreq(3570000); err != nil {
		return err
	}

	return d.bus.DemodWriteReg(1, 0x15, 0x01, 1) // spectrum inversion on
}

// withTuner runs fn with the I2C repeater opened on demand and closes it
// afterwards.
func (d *Device) withTuner(fn func() error) error {
	err := fn()
	if cerr := d.i2c.close(); err == nil {
		err = cerr
	}
	return err
}

func (d *Device) check() error {
	if d.state == StateClosed {
		return rtlerr.ErrDeviceClosed
	}
	return nil
}

// State returns the lifecycle state.
func (d *Device) State() State { return d.state }

// Close puts the tuner in standby, powers down the demodulator and releases
// the transport. The transport is released even if power down fails.
func (d *Device) Close() error {
	if err := d.check(); err != nil {
		return err
	}

	err := d.withTuner(d.tuner.Exit)
	if err != nil {
		err = xerrors.Errorf("tuner standby: %w", err)
	}

	if perr := d.bus.WriteReg(bus.SysBlock, bus.DemodCtl, 0x20, 1); perr != nil && err == nil {
		err = xerrors.Errorf("power down: %w", perr)
	}

	if cerr := d.t.Close(); cerr != nil && err == nil {
		err = xerrors.Errorf("close transport: %w", cerr)
	}

	d.state = StateClosed
	d.log.Info("device closed")

	return err
}

// gate is the tuner's view of the I2C bus. The demodulator's I2C repeater
// is opened on first access and stays open until close. A failed open is
// not retried: every access fails with the same error until close.
type gate struct {
	bus  *bus.Bus
	open bool

	// repeater failure, for callers that swallow I2C errors
	first error
}

func (g *gate) ensure() error {
	if g.first != nil {
		return g.first
	}
	if g.open {
		return nil
	}
	if err := g.bus.SetI2CRepeater(true); err != nil {
		g.first = err
		return err
	}
	g.open = true
	return nil
}

func (g *gate) err() error { return g.first }

func (g *gate) close() error {
	g.first = nil
	if !g.open {
		return nil
	}
	g.open = false
	return g.bus.SetI2CRepeater(false)
}

func (g *gate) I2CWrite(addr uint8, data []byte) error {
	if err := g.ensure(); err != nil {
		return err
	}
	return g.bus.I2CWrite(addr, data)
}

func (g *gate) I2CReadFrom(addr, reg uint8, data []byte) error {
	if err := g.ensure(); err != nil {
		return err
	}
	return g.bus.I2CReadFrom(addr, reg, data)
}

func (g *gate) I2CReadReg(addr, reg uint8) (uint8, error) {
	if err := g.ensure(); err != nil {
		return 0, err
	}
	return g.bus.I2CReadReg(addr, reg)
}
