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
	"fmt"
	"math"
	"strconv"
	"time"
)

// Block summarizes one buffer of samples.
type Block struct {
	Time   time.Time `json:"time"`
	Seq    uint64    `json:"seq"`
	Length int       `json:"length"`

	// Power is the mean power of the block relative to full scale.
	Power float64 `json:"power_dbfs"`

	// Lost counts skipped counter values, only meaningful in test mode.
	Lost int `json:"lost"`
}

// NewBlock measures buf, interleaved unsigned 8 bit I/Q.
func NewBlock(seq uint64, buf []byte, lost int) Block {
	return Block{
		Time:   time.Now(),
		Seq:    seq,
		Length: len(buf),
		Power:  power(buf),
		Lost:   lost,
	}
}

// power returns the mean of I²+Q² in dBFS, -Inf for an empty buffer.
func power(buf []byte) float64 {
	const mid = 127.5

	n := len(buf) / 2
	if n == 0 {
		return math.Inf(-1)
	}

	var sum float64
	for idx := 0; idx < 2*n; idx += 2 {
		i, q := float64(buf[idx])-mid, float64(buf[idx+1])-mid
		sum += i*i + q*q
	}

	return 10 * math.Log10(sum/float64(n)/(2*mid*mid))
}

func (b Block) String() string {
	return fmt.Sprintf("{Time:%s Seq:%d Length:%d Power:%.2f dBFS Lost:%d}",
		b.Time.Format(time.RFC3339Nano), b.Seq, b.Length, b.Power, b.Lost,
	)
}

func (b Block) Header() []string {
	return []string{"time", "seq", "length", "power_dbfs", "lost"}
}

func (b Block) Record() []string {
	return []string{
		b.Time.Format(time.RFC3339Nano),
		strconv.FormatUint(b.Seq, 10),
		strconv.Itoa(b.Length),
		strconv.FormatFloat(b.Power, 'f', 2, 64),
		strconv.Itoa(b.Lost),
	}
}
