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
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bemasher/rtltcp/si"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/bemasher/rtlusb/csv"
	"github.com/bemasher/rtlusb/rtlsdr"
	"github.com/bemasher/rtlusb/tuner"
)

var list = flag.Bool("list", false, "list attached devices and exit")
var index = flag.Int("index", 0, "index of the device to open")
var serial = flag.String("serial", "", "serial number of the device to open, exclusive with -index")

var centerFreq = si.ScientificNotation(1090e6)
var sampleRate = si.ScientificNotation(rtlsdr.DefaultSampleRate)
var bandwidth si.ScientificNotation

var gain = flag.Float64("gain", -1, "tuner gain in dB, negative for automatic")
var ppm = flag.Int("ppm", 0, "frequency correction in ppm")
var testMode = flag.Bool("testmode", false, "replace samples with the demodulator's counter and verify it")
var agcMode = flag.Bool("agcmode", false, "enable the demodulator's digital agc")
var directSampling = flag.Int("directsampling", 0, "direct sampling: 0 off, 1 I branch, 2 Q branch")
var biasTee = flag.Bool("biastee", false, "power the antenna through the bias tee")

var timeLimit = flag.Duration("duration", 0, "time to run for, 0 for infinite, ex. 1h5m10s")
var blockSize = flag.Int("blocksize", rtlsdr.DefaultBufLength, "bytes per bulk read, a multiple of 512")

var sampleFilename = flag.String("samplefile", os.DevNull, "raw sample dump file")
var sampleFile *os.File

var encoder Encoder
var format = flag.String("format", "plain", "block statistics output format: plain, csv, json or none")

var serve = flag.String("serve", "", "serve the device over rtl_tcp on this address instead of acquiring, ex. :1234")
var mdns = flag.Bool("mdns", false, "advertise the rtl_tcp server over mdns")

var logLevel = flag.String("loglevel", "info", "log level: debug, info, warn or error")
var logFilename = flag.String("logfile", "", "log to this file with rotation instead of stderr")
var configFilename = flag.String("config", "", "yaml file of flag values, overridden by flags and environment")

var version = flag.Bool("version", false, "display build date and commit hash")

func RegisterFlags() {
	flag.Var(&centerFreq, "centerfreq", "center frequency to receive on")
	flag.Lookup("centerfreq").DefValue = "1090M"
	flag.Var(&sampleRate, "samplerate", "sample rate")
	flag.Lookup("samplerate").DefValue = "2.048M"
	flag.Var(&bandwidth, "bandwidth", "tuner if bandwidth, 0 follows the sample rate")

	deviceFlags := map[string]bool{
		"list":           true,
		"index":          true,
		"serial":         true,
		"centerfreq":     true,
		"samplerate":     true,
		"bandwidth":      true,
		"gain":           true,
		"ppm":            true,
		"testmode":       true,
		"agcmode":        true,
		"directsampling": true,
		"biastee":        true,
	}

	printDefaults := func(validFlags map[string]bool, inclusion bool) {
		flag.CommandLine.VisitAll(func(f *flag.Flag) {
			if validFlags[f.Name] != inclusion {
				return
			}

			format := "  -%s=%s: %s\n"
			fmt.Fprintf(os.Stderr, format, f.Name, f.Value, f.Usage)
		})
	}

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
		printDefaults(deviceFlags, false)

		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, "device specific:")
		printDefaults(deviceFlags, true)
	}
}

// EnvOverride sets flags from RTLUSB_<NAME> environment variables.
func EnvOverride(fs *flag.FlagSet, lookup func(string) string) {
	fs.VisitAll(func(f *flag.Flag) {
		envName := "RTLUSB_" + strings.ToUpper(f.Name)
		flagValue := lookup(envName)
		if flagValue == "" {
			return
		}

		entry := logrus.WithFields(logrus.Fields{
			"env":   envName,
			"flag":  f.Name,
			"value": flagValue,
		})
		if err := fs.Set(f.Name, flagValue); err != nil {
			entry.WithError(err).Warn("environment override failed")
		} else {
			entry.Info("environment overrides flag")
		}
	})
}

func HandleFlags() error {
	if *serial != "" {
		explicit := false
		flag.Visit(func(f *flag.Flag) {
			explicit = explicit || f.Name == "index"
		})
		if explicit {
			return xerrors.New("-index and -serial are exclusive")
		}
	}

	if *blockSize <= 0 || *blockSize%512 != 0 {
		return xerrors.Errorf("block size %d is not a positive multiple of 512", *blockSize)
	}

	var err error
	sampleFile, err = os.Create(*sampleFilename)
	if err != nil {
		return xerrors.Errorf("create sample file: %w", err)
	}

	encoder, err = NewEncoder(*format, os.Stdout)
	return err
}

// NewEncoder returns the block encoder for format.
func NewEncoder(format string, w io.Writer) (Encoder, error) {
	switch strings.ToLower(format) {
	case "plain":
		return PlainEncoder{w}, nil
	case "csv":
		return csv.NewEncoder(w), nil
	case "json":
		return json.NewEncoder(w), nil
	case "none":
		return nopEncoder{}, nil
	}
	return nil, xerrors.Errorf("invalid format: %q", format)
}

// Gain converts the -gain flag to a tuner gain.
func Gain(db float64) tuner.Gain {
	if db < 0 {
		return tuner.Auto()
	}
	return tuner.Manual(int(db*10 + 0.5))
}

// DirectSamplingMode validates the -directsampling flag.
func DirectSamplingMode(mode int) (rtlsdr.DirectSampling, error) {
	switch m := rtlsdr.DirectSampling(mode); m {
	case rtlsdr.DirectSamplingOff, rtlsdr.DirectSamplingOn, rtlsdr.DirectSamplingOnSwap:
		return m, nil
	}
	return 0, xerrors.Errorf("invalid direct sampling mode: %d", mode)
}

// JSON and CSV both implement this interface so we can simplify block
// output formatting.
type Encoder interface {
	Encode(interface{}) error
}

type PlainEncoder struct {
	w io.Writer
}

func (pe PlainEncoder) Encode(v interface{}) (err error) {
	_, err = fmt.Fprintln(pe.w, v)
	return
}

type nopEncoder struct{}

func (nopEncoder) Encode(interface{}) error { return nil }
