package audio

import (
	"errors"
	"fmt"
	"time"
)

const (
	DefaultSampleRate = 16000
	DefaultFormat     = "linear16"

	// RealtimeSampleRate is the PCM16 rate exchanged with realtime speech
	// sessions.
	RealtimeSampleRate = 24000
)

var ErrUnsupportedEncoding = errors.New("unsupported encoding")

func GetDefaultEncodingInfo() EncodingInfo {
	return EncodingInfo{SampleRate: DefaultSampleRate, Format: encodingFormat(DefaultFormat)}
}

func GetRealtimeEncodingInfo() EncodingInfo {
	return EncodingInfo{SampleRate: RealtimeSampleRate, Format: EncodingLinear16}
}

// EncodingInfo describes mono audio frames exchanged between devices,
// recognizers and sessions.
type EncodingInfo struct {
	SampleRate int
	Format     encodingFormat
}

func (e EncodingInfo) IsZero() bool {
	return e.SampleRate == 0 || e.Format.Name() == ""
}

func (e EncodingInfo) Validate() error {
	if e.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %d", ErrUnsupportedEncoding, e.SampleRate)
	}
	if e.Format.ByteSize() < 0 {
		return fmt.Errorf("%w: format %q", ErrUnsupportedEncoding, e.Format)
	}
	return nil
}

func (e EncodingInfo) SilenceValue() byte {
	switch e.Format {
	case EncodingALaw:
		return 0x55
	case EncodingMulaw:
		return 0xFF
	case EncodingLinear16:
		return 0
	}

	return 0
}

// Duration reports how long size bytes of audio play for.
func (e EncodingInfo) Duration(size int) time.Duration {
	bytesPerSecond := e.SampleRate * e.Format.ByteSize()
	if bytesPerSecond <= 0 {
		return 0
	}
	return time.Duration(size) * time.Second / time.Duration(bytesPerSecond)
}

// BytesFor reports how many bytes hold d worth of audio.
func (e EncodingInfo) BytesFor(d time.Duration) int {
	if e.Format.ByteSize() <= 0 {
		return 0
	}
	return int(d.Milliseconds()) * e.SampleRate / 1000 * e.Format.ByteSize()
}

type encodingFormat string

func (e encodingFormat) Name() string {
	return string(e)
}

func (e encodingFormat) ByteSize() int {
	switch e {
	case EncodingMulaw, EncodingALaw:
		return 1
	case EncodingLinear16:
		return 2
	}
	return -1
}

const (
	EncodingMulaw    encodingFormat = "mulaw"
	EncodingALaw     encodingFormat = "alaw"
	EncodingLinear16 encodingFormat = "linear16"
)
