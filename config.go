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
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v2"
)

// LoadConfig reads a yaml mapping of flag names to values and applies each
// to a flag of fs not already set on the command line or by the
// environment.
func LoadConfig(fs *flag.FlagSet, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return xerrors.Errorf("read config: %w", err)
	}

	values := map[string]interface{}{}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return xerrors.Errorf("parse config: %w", err)
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	for name, value := range values {
		if fs.Lookup(name) == nil {
			return xerrors.Errorf("config: unknown flag %q", name)
		}
		if set[name] {
			continue
		}
		if err := fs.Set(name, fmt.Sprint(value)); err != nil {
			return xerrors.Errorf("config: flag %q: %w", name, err)
		}
	}

	return nil
}

// LoadConfigFile applies the config file named by -config, if any.
func LoadConfigFile(fs *flag.FlagSet, filename string) error {
	if filename == "" {
		return nil
	}

	f, err := os.Open(filename)
	if err != nil {
		return xerrors.Errorf("open config: %w", err)
	}
	defer f.Close()

	return LoadConfig(fs, f)
}

// SetupLogging configures the standard logrus logger. With a filename, output
// goes to a rotated log file which the caller must close.
func SetupLogging(level, filename string) (io.Closer, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, xerrors.Errorf("log level: %w", err)
	}

	logrus.SetLevel(lvl)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02T15:04:05.000000",
	})

	if filename == "" {
		logrus.SetOutput(os.Stderr)
		return io.NopCloser(nil), nil
	}

	lj := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    10, // MB
		MaxBackups: 5,
		MaxAge:     30, // days
	}
	logrus.SetOutput(lj)

	return lj, nil
}
