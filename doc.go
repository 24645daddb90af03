/*
RTLUSB drives RTL2832U based dongles with an R820T or R828D tuner directly
over USB. It either acquires samples locally, summarizing each block, or
serves the dongle to rtl_tcp clients.

Command-line Flags:

	-centerfreq=1090M

Sets the center frequency. SI suffixes are accepted. Defaults to 1090MHz.

	-samplerate=2.048M

Sets the sample rate. Valid rates are 225001 to 300000 and 900001 to 3.2M
samples per second. Defaults to 2.048M.

	-bandwidth=0

Sets the tuner's IF filter bandwidth. The narrowest filter at least this
wide is used, 0 follows the sample rate.

	-gain=-1

Sets the tuner gain in dB. The nearest supported gain is used, negative
values enable the tuner's AGC.

	-ppm=0

Sets the crystal frequency correction in parts per million.

	-directsampling=0

Bypasses the tuner and samples the antenna input directly. 1 uses the I
branch, 2 the Q branch. Frequencies up to the crystal frequency are valid.

	-testmode=false

Replaces samples with the demodulator's 8 bit counter. Each block's lost
field counts skipped counter values, a simple check of the USB link.

	-duration=0

Sets time to run for, 0 for infinite. Exiting prints the total runtime and
block count to the log.

	-format="plain"

Sets the block output format: plain, csv, json or none. Blocks have the
following structure:

	type Block struct {
		Time   time.Time
		Seq    uint64
		Length int
		Power  float64 // dBFS
		Lost   int
	}

	-samplefile="/dev/null"

Sets file to dump raw samples to. Samples are interleaved in-phase and
quadrature unsigned bytes, unmodified output from the dongle.

	-serve=":1234"

Serves the dongle over the rtl_tcp protocol instead of acquiring locally.
One client is served at a time. With -mdns the server is advertised as
_rtl_tcp._tcp.

	-list

Lists attached supported devices and exits.

	-config="rtlusb.yml"

Reads flag values from a yaml file, keyed by flag name. Values given on
the command line or by RTLUSB_<FLAG> environment variables take precedence.

	-loglevel="info" -logfile=""

Sets the log level, and optionally a log file rotated by size.
*/
package main
