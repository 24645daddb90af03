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
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/bemasher/rtlusb/rtlerr"
	"github.com/bemasher/rtlusb/samplerate"
	"github.com/bemasher/rtlusb/tuner"
)

// TunerType returns the detected tuner chip.
func (d *Device) TunerType() tuner.Type { return d.desc.Type }

// Xtal returns the demodulator and tuner crystal frequencies in Hz.
func (d *Device) Xtal() (rtl, tun uint32) { return d.cfg.Xtal, d.tunerXtal }

// CenterFreq returns the last requested center frequency, 0 if never set.
func (d *Device) CenterFreq() uint64 { return d.freq }

// TunedFreq returns the frequency the tuner's synthesizer actually produces
// for CenterFreq.
func (d *Device) TunedFreq() uint64 { return d.tuned }

// SetCenterFreq tunes to hz. An unreachable frequency is rejected before any
// register is written.
func (d *Device) SetCenterFreq(hz uint64) error {
	if err := d.check(); err != nil {
		return err
	}

	if d.direct != DirectSamplingOff {
		if hz > uint64(d.cfg.Xtal) {
			return xerrors.Errorf("direct sampling at %d Hz: %w", hz, rtlerr.ErrFrequencyOutOfRange)
		}
		if err := d.setIFFreq(uint32(hz)); err != nil {
			return err
		}
		d.freq, d.tuned = hz, hz
		d.dirty = true
		return nil
	}

	var tuned uint64
	err := d.withTuner(func() (err error) {
		tuned, err = d.tuner.SetFrequency(hz, d.ppm)
		return err
	})
	if err != nil {
		return xerrors.Errorf("tune %d Hz: %w", hz, err)
	}

	d.freq, d.tuned = hz, tuned
	d.dirty = true

	d.log.WithFields(logrus.Fields{
		"freq":  hz,
		"tuned": tuned,
	}).Debug("center frequency")

	return nil
}

// retune reapplies the current center frequency, if any.
func (d *Device) retune() error {
	if d.freq == 0 {
		return nil
	}
	return d.SetCenterFreq(d.freq)
}

// FreqCorrection returns the crystal correction in ppm.
func (d *Device) FreqCorrection() int { return d.ppm }

// SetFreqCorrection applies a crystal correction in ppm to the sample clock,
// the demodulator IF and the tuner. Setting the current value does nothing.
func (d *Device) SetFreqCorrection(ppm int) error {
	if err := d.check(); err != nil {
		return err
	}
	if ppm == d.ppm {
		return nil
	}
	if ppm <= -1000000 || ppm >= 1000000 {
		return xerrors.Errorf("correction %d ppm: %w", ppm, rtlerr.ErrFrequencyOutOfRange)
	}
	if d.direct == DirectSamplingOff && d.freq != 0 {
		if err := d.tuner.CheckFrequency(d.freq, ppm); err != nil {
			return xerrors.Errorf("correction %d ppm at %d Hz: %w", ppm, d.freq, err)
		}
	}

	if err := d.setSampleFreqCorrection(ppm); err != nil {
		return err
	}
	d.ppm = ppm
	d.dirty = true

	if d.direct == DirectSamplingOff {
		if err := d.setIFFreq(d.ifFreq); err != nil {
			return err
		}
	}

	return d.retune()
}

// TunerGains returns the gains the tuner supports in tenths of a dB,
// ascending.
func (d *Device) TunerGains() []int {
	return append([]int(nil), d.desc.Gains...)
}

// TunerGain returns the last requested gain.
func (d *Device) TunerGain() tuner.Gain { return d.gain }

// SetTunerGain selects AGC or the supported gain closest to g.Value.
func (d *Device) SetTunerGain(g tuner.Gain) error {
	if err := d.check(); err != nil {
		return err
	}

	if err := d.withTuner(func() error { return d.tuner.SetGain(g) }); err != nil {
		return xerrors.Errorf("set gain %s: %w", g, err)
	}

	d.gain = g
	d.dirty = true

	d.log.WithField("gain", g).Debug("tuner gain")

	return nil
}

// SampleRate returns the programmed sample rate in Hz.
func (d *Device) SampleRate() uint32 { return d.rate.Rate }

// SampleRateSetting returns the resampler registers behind SampleRate.
func (d *Device) SampleRateSetting() samplerate.Setting { return d.rate }

// SetSampleRate programs the resampler for rate. The tuner's IF filter
// tracks the rate unless a bandwidth was set explicitly.
func (d *Device) SetSampleRate(rate uint32) error {
	if err := d.check(); err != nil {
		return err
	}

	s, err := samplerate.Compute(rate, d.cfg.Xtal)
	if err != nil {
		return err
	}

	bw := d.bw
	if bw == 0 {
		bw = rate
	}
	if err := d.applyBandwidth(bw); err != nil {
		return err
	}

	if err := d.demodWrites([]demodWrite{
		{1, 0x9f, s.High(), 2},
		{1, 0xa1, s.Low(), 2},
	}); err != nil {
		return xerrors.Errorf("resampler: %w", err)
	}

	if err := d.setSampleFreqCorrection(d.ppm); err != nil {
		return err
	}

	if err := d.demodWrites(demodReset); err != nil {
		return xerrors.Errorf("demod reset: %w", err)
	}

	d.rate = s
	d.dirty = true

	d.log.WithFields(logrus.Fields{
		"requested": rate,
		"rate":      s.Rate,
		"ratio":     s.Ratio,
	}).Debug("sample rate")

	return nil
}

// TunerBandwidth returns the requested IF bandwidth, 0 when it tracks the
// sample rate.
func (d *Device) TunerBandwidth() uint32 { return d.bw }

// SetTunerBandwidth selects the tuner IF filter nearest hz. 0 makes the filter
// follow the sample rate.
func (d *Device) SetTunerBandwidth(hz uint32) error {
	if err := d.check(); err != nil {
		return err
	}

	bw := hz
	if bw == 0 {
		bw = d.rate.Rate
	}
	if err := d.applyBandwidth(bw); err != nil {
		return err
	}

	d.bw = hz
	d.dirty = true

	return nil
}

func (d *Device) applyBandwidth(hz uint32) error {
	var applied, ifFreq uint32
	err := d.withTuner(func() (err error) {
		applied, ifFreq, err = d.tuner.SetBandwidth(hz)
		return err
	})
	if err != nil {
		return xerrors.Errorf("bandwidth %d Hz: %w", hz, err)
	}

	d.log.WithFields(logrus.Fields{
		"requested": hz,
		"bandwidth": applied,
	}).Debug("tuner bandwidth")

	if ifFreq == d.ifFreq {
		return nil
	}
	d.ifFreq = ifFreq

	if d.direct == DirectSamplingOff {
		if err := d.setIFFreq(ifFreq); err != nil {
			return err
		}
	}

	return d.retune()
}

// TestMode reports whether the demodulator emits its counter pattern.
func (d *Device) TestMode() bool { return d.testMode }

// SetTestMode replaces samples with an 8 bit counter, see CounterCheck.
func (d *Device) SetTestMode(on bool) error {
	if err := d.check(); err != nil {
		return err
	}

	if err := d.writeMode(on, d.agc); err != nil {
		return xerrors.Errorf("test mode: %w", err)
	}

	d.testMode = on
	d.dirty = true

	return nil
}

// AGCMode reports whether the demodulator's digital AGC is on.
func (d *Device) AGCMode() bool { return d.agc }

// SetAGCMode switches the demodulator's digital AGC. Independent of the tuner
// gain mode and of test mode.
func (d *Device) SetAGCMode(on bool) error {
	if err := d.check(); err != nil {
		return err
	}

	if err := d.writeMode(d.testMode, on); err != nil {
		return xerrors.Errorf("agc mode: %w", err)
	}

	d.agc = on
	d.dirty = true

	return nil
}

// writeMode programs 0:0x19, which holds both the test pattern select and
// the digital AGC enable.
func (d *Device) writeMode(test, agc bool) error {
	val := uint16(0x05)
	if test {
		val = 0x03
	}
	if agc {
		val |= 0x20
	}
	return d.bus.DemodWriteReg(0, 0x19, val, 1)
}

// DirectSampling returns the direct sampling mode.
func (d *Device) DirectSampling() DirectSampling { return d.direct }

// SetDirectSampling routes an ADC input straight to the sample stream. The
// tuner stays initialized, so turning it off again restores the tuned path.
func (d *Device) SetDirectSampling(mode DirectSampling) error {
	if err := d.check(); err != nil {
		return err
	}

	var w []demodWrite
	switch mode {
	case DirectSamplingOn, DirectSamplingOnSwap:
		iq := uint16(0x80)
		if mode == DirectSamplingOnSwap {
			iq = 0x90
		}
		w = []demodWrite{
			{1, 0xb1, 0x1a, 1}, // zero-IF off
			{1, 0x15, 0x00, 1}, // spectrum inversion off
			{0, 0x08, 0x4d, 1}, // in-phase ADC only
			{0, 0x06, iq, 1},
		}
	case DirectSamplingOff:
		if err := d.setIFFreq(d.ifFreq); err != nil {
			return err
		}
		w = []demodWrite{
			{1, 0x15, 0x01, 1}, // spectrum inversion on
			{0, 0x06, 0x80, 1},
		}
	default:
		return xerrors.Errorf("direct sampling mode %d: %w", int(mode), rtlerr.ErrProtocol)
	}

	if err := d.demodWrites(w); err != nil {
		return xerrors.Errorf("direct sampling: %w", err)
	}

	d.direct = mode
	d.dirty = true
	d.log.WithField("mode", mode).Info("direct sampling")

	if d.freq > uint64(d.cfg.Xtal) && mode != DirectSamplingOff {
		// The current frequency is above the ADC's range; keep it for when
		// direct sampling is turned off.
		return nil
	}

	return d.retune()
}

// BiasTee reports whether the antenna bias tee is powered.
func (d *Device) BiasTee() bool { return d.biasTee }

// SetBiasTee switches antenna power on GPIO 0.
func (d *Device) SetBiasTee(on bool) error {
	if err := d.check(); err != nil {
		return err
	}

	if err := d.bus.SetGPIOOutput(0); err != nil {
		return xerrors.Errorf("bias tee: %w", err)
	}
	if err := d.bus.SetGPIOBit(0, on); err != nil {
		return xerrors.Errorf("bias tee: %w", err)
	}

	d.biasTee = on

	return nil
}
