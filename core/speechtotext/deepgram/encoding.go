package deepgram

import (
	"fmt"
	"slices"

	"github.com/koscakluka/phonio/core/audio"
)

type encodingInfo struct {
	SampleRate int
	Format     encodingFormat
}

type encodingFormat string

func (e encodingFormat) Name() string { return string(e) }

const (
	encodingLinear16 encodingFormat = "linear16"
	encodingALaw     encodingFormat = "alaw"
	encodingMulaw    encodingFormat = "mulaw"
)

// supportedEncodings lists the sample rates deepgram accepts per format.
// Companded formats are telephony audio and only come at 8 kHz.
var supportedEncodings = map[string]struct {
	format encodingFormat
	rates  []int
}{
	audio.EncodingLinear16.Name(): {encodingLinear16, []int{8000, 16000, 24000, 32000, 48000}},
	audio.EncodingALaw.Name():     {encodingALaw, []int{8000}},
	audio.EncodingMulaw.Name():    {encodingMulaw, []int{8000}},
}

func convertEncoding(encoding audio.EncodingInfo) (*encodingInfo, error) {
	supported, ok := supportedEncodings[encoding.Format.Name()]
	if !ok {
		return nil, fmt.Errorf("%w: format %q", audio.ErrUnsupportedEncoding, encoding.Format.Name())
	}
	if !slices.Contains(supported.rates, encoding.SampleRate) {
		return nil, fmt.Errorf("%w: sample rate %d for %s", audio.ErrUnsupportedEncoding, encoding.SampleRate, supported.format)
	}

	return &encodingInfo{SampleRate: encoding.SampleRate, Format: supported.format}, nil
}
