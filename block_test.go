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
	"crypto/rand"
	"math"
	"testing"
	"time"
)

func TestPower(t *testing.T) {
	if p := power(nil); !math.IsInf(p, -1) {
		t.Fatalf("empty: %f\n", p)
	}

	// Full scale on both branches.
	full := []byte{0xff, 0xff, 0x00, 0x00}
	if p := power(full); math.Abs(p) > 1e-9 {
		t.Fatalf("full scale: %f\n", p)
	}

	// Half amplitude is 6 dB down.
	half := []byte{191, 191, 64, 64}
	if p := power(half); math.Abs(p+6.02) > 0.1 {
		t.Fatalf("half scale: %f\n", p)
	}
}

func TestBlockRecord(t *testing.T) {
	b := NewBlock(7, []byte{0xff, 0xff, 0x00, 0x00}, 3)
	b.Time = time.Date(2016, 1, 2, 3, 4, 5, 0, time.UTC)

	rec := b.Record()
	if len(rec) != len(b.Header()) {
		t.Fatalf("record %d fields, header %d\n", len(rec), len(b.Header()))
	}

	want := []string{"2016-01-02T03:04:05Z", "7", "4", "0.00", "3"}
	for idx := range want {
		if rec[idx] != want[idx] {
			t.Fatalf("field %d: %q != %q\n", idx, rec[idx], want[idx])
		}
	}
}

func BenchmarkPower(b *testing.B) {
	input := make([]byte, 16384)
	rand.Read(input)

	b.SetBytes(int64(len(input)))
	b.ReportAllocs()
	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		power(input)
	}
}
