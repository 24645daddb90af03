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

// Package server shares a device over the rtl_tcp protocol: a 12 byte
// dongle info header followed by raw samples, with 5 byte commands flowing
// the other way.
package server

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"

	"github.com/bemasher/rtltcp"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/bemasher/rtlusb/rtlerr"
	"github.com/bemasher/rtlusb/rtlsdr"
	"github.com/bemasher/rtlusb/tuner"
)

// ErrUnsupportedCommand is reported for commands the device cannot carry out.
var ErrUnsupportedCommand = xerrors.New("unsupported command")

// Command opcodes as sent by rtl_tcp clients.
const (
	OpCenterFreq     = 1
	OpSampleRate     = 2
	OpGainMode       = 3
	OpGain           = 4
	OpFreqCorrection = 5
	OpIFGain         = 6
	OpTestMode       = 7
	OpAGCMode        = 8
	OpDirectSampling = 9
	OpOffsetTuning   = 10
	OpRTLXtal        = 11
	OpTunerXtal      = 12
	OpGainByIndex    = 13
	OpBiasTee        = 14
)

// Command is one client request, big-endian on the wire.
type Command struct {
	Op    uint8
	Param uint32
}

// Device is the part of *rtlsdr.Device the server drives.
type Device interface {
	io.Reader
	ResetBuffer() error
	TunerType() tuner.Type
	TunerGains() []int
	SetCenterFreq(hz uint64) error
	SetSampleRate(rate uint32) error
	SetTunerGain(g tuner.Gain) error
	SetFreqCorrection(ppm int) error
	SetTestMode(on bool) error
	SetAGCMode(on bool) error
	SetDirectSampling(mode rtlsdr.DirectSampling) error
	SetBiasTee(on bool) error
}

// Server streams one device to one client at a time. Commands and the
// sample stream run in separate goroutines, serialized on mu.
type Server struct {
	dev Device
	log logrus.FieldLogger
	mu  sync.Mutex

	// BlockSize is the number of bytes per bulk read.
	BlockSize int

	// OnCommand, if set, is called after every command is applied.
	OnCommand func(cmd Command, err error)

	// last manual gain, reapplied when the client switches to manual mode
	gain int
}

func New(dev Device, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{
		dev:       dev,
		log:       log,
		BlockSize: rtlsdr.DefaultBufLength,
	}
}

// Info returns the header sent to every client.
func (s *Server) Info() rtltcp.DongleInfo {
	return rtltcp.DongleInfo{
		Magic:     [4]byte{'R', 'T', 'L', '0'},
		Tuner:     rtltcp.Tuner(s.dev.TunerType()),
		GainCount: uint32(len(s.dev.TunerGains())),
	}
}

// Serve accepts clients from l until ctx is done. Clients are handled one
// after another.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	go func() {
		<-ctx.Done()
		l.Close()
	}()

	s.log.WithField("addr", l.Addr()).Info("rtl_tcp listening")

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return xerrors.Errorf("accept: %w", err)
		}

		s.handle(ctx, conn)
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	log := s.log.WithField("client", conn.RemoteAddr())
	log.Info("client connected")

	ctx, cancel := context.WithCancel(ctx)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		<-ctx.Done()
		conn.Close()
	}()

	go func() {
		defer wg.Done()
		defer cancel()
		s.commands(conn, log)
	}()

	if err := s.stream(ctx, conn); err != nil && ctx.Err() == nil {
		log.WithError(err).Warn("stream ended")
	}

	cancel()
	wg.Wait()

	log.Info("client disconnected")
}

func (s *Server) stream(ctx context.Context, conn net.Conn) error {
	if err := binary.Write(conn, binary.BigEndian, s.Info()); err != nil {
		return xerrors.Errorf("write header: %w", err)
	}

	s.mu.Lock()
	err := s.dev.ResetBuffer()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	buf := make([]byte, s.BlockSize)
	for ctx.Err() == nil {
		s.mu.Lock()
		n, err := s.dev.Read(buf)
		if xerrors.Is(err, rtlerr.ErrSamplesLost) {
			s.log.WithError(err).Warn("samples lost, resetting buffer")
			err = s.dev.ResetBuffer()
			n = 0
		}
		s.mu.Unlock()

		if err != nil {
			return err
		}

		if _, err := conn.Write(buf[:n]); err != nil {
			return xerrors.Errorf("write samples: %w", err)
		}
	}

	return nil
}

func (s *Server) commands(conn net.Conn, log logrus.FieldLogger) {
	for {
		var cmd Command
		if err := binary.Read(conn, binary.BigEndian, &cmd); err != nil {
			if err != io.EOF {
				log.WithError(err).Debug("command read")
			}
			return
		}

		s.mu.Lock()
		err := s.apply(cmd)
		s.mu.Unlock()

		entry := log.WithFields(logrus.Fields{
			"op":    cmd.Op,
			"param": cmd.Param,
		})
		if err != nil {
			entry.WithError(err).Warn("command failed")
		} else {
			entry.Debug("command")
		}

		if s.OnCommand != nil {
			s.OnCommand(cmd, err)
		}
	}
}

func (s *Server) apply(cmd Command) error {
	p := cmd.Param

	switch cmd.Op {
	case OpCenterFreq:
		return s.dev.SetCenterFreq(uint64(p))
	case OpSampleRate:
		return s.dev.SetSampleRate(p)
	case OpGainMode:
		// 0 is automatic.
		if p == 0 {
			return s.dev.SetTunerGain(tuner.Auto())
		}
		return s.dev.SetTunerGain(tuner.Manual(s.gain))
	case OpGain:
		s.gain = int(int32(p))
		return s.dev.SetTunerGain(tuner.Manual(s.gain))
	case OpFreqCorrection:
		return s.dev.SetFreqCorrection(int(int32(p)))
	case OpTestMode:
		return s.dev.SetTestMode(p != 0)
	case OpAGCMode:
		return s.dev.SetAGCMode(p != 0)
	case OpDirectSampling:
		return s.dev.SetDirectSampling(rtlsdr.DirectSampling(p))
	case OpGainByIndex:
		gains := s.dev.TunerGains()
		if int(p) >= len(gains) {
			return xerrors.Errorf("gain index %d of %d: %w", p, len(gains), ErrUnsupportedCommand)
		}
		s.gain = gains[p]
		return s.dev.SetTunerGain(tuner.Manual(s.gain))
	case OpBiasTee:
		return s.dev.SetBiasTee(p != 0)
	}

	return xerrors.Errorf("op %d: %w", cmd.Op, ErrUnsupportedCommand)
}
