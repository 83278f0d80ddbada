// Package portaudio plays and captures mono PCM16 audio through PortAudio.
package portaudio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/koscakluka/phonio/core/audio"
)

type Client struct {
	encoding   audio.EncodingInfo
	bufferSize int
	stream     *portaudio.Stream

	mu            sync.Mutex
	leftoverAudio []byte

	in  []int16
	out []int16
}

// NewClient opens a full duplex stream on the default devices. bufferSize
// is the number of frames exchanged per read and write.
func NewClient(encoding audio.EncodingInfo, bufferSize int) (*Client, error) {
	if encoding.IsZero() {
		encoding = audio.GetDefaultEncodingInfo()
	}
	if encoding.Format != audio.EncodingLinear16 {
		return nil, fmt.Errorf("%w: portaudio client only supports linear16", audio.ErrUnsupportedEncoding)
	}
	if bufferSize <= 0 {
		bufferSize = encoding.SampleRate / 50
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}

	in := make([]int16, bufferSize)
	out := make([]int16, bufferSize)
	stream, err := portaudio.OpenDefaultStream(1, 1, float64(encoding.SampleRate), bufferSize, in, out)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("failed to open portaudio stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("failed to start portaudio stream: %w", err)
	}

	return &Client{
		encoding:   encoding,
		bufferSize: bufferSize,
		stream:     stream,
		in:         in,
		out:        out,
	}, nil
}

// Stream reads microphone audio until ctx is done.
func (c *Client) Stream(ctx context.Context, onAudio func(audio []byte)) error {
	logger.Info("Starting microphone capture")
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			if err := c.stream.Read(); err != nil {
				logger.Warn("Failed to read from portaudio stream", "error", err)
				continue
			}

			audioBuffer := bytes.Buffer{}
			if err := binary.Write(&audioBuffer, binary.LittleEndian, c.in); err != nil {
				return fmt.Errorf("failed to encode captured audio: %w", err)
			}
			onAudio(audioBuffer.Bytes())
		}
	}
}

func (c *Client) Close() {
	_ = c.stream.Stop()
	_ = c.stream.Close()
	_ = portaudio.Terminate()
}

// SendAudio writes whole buffers to the device and keeps the remainder
// until more audio arrives.
func (c *Client) SendAudio(audio []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	chunks, rest := splitFrames(append(c.leftoverAudio, audio...), c.bufferSize*2)
	c.leftoverAudio = rest
	for _, chunk := range chunks {
		if err := c.write(chunk); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) ClearBuffer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leftoverAudio = nil
}

// Drain plays the remainder that does not fill a buffer, padded with
// silence. Writes block until the device took the audio.
func (c *Client) Drain(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.leftoverAudio) == 0 {
		return nil
	}
	chunk := make([]byte, c.bufferSize*2)
	copy(chunk, c.leftoverAudio)
	c.leftoverAudio = nil
	return c.write(chunk)
}

func (c *Client) write(chunk []byte) error {
	if err := binary.Read(bytes.NewReader(chunk), binary.LittleEndian, c.out); err != nil {
		return fmt.Errorf("failed to decode playback audio: %w", err)
	}
	if err := c.stream.Write(); err != nil {
		return fmt.Errorf("failed to write to portaudio stream: %w", err)
	}
	return nil
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return c.encoding
}

// splitFrames cuts audio into chunks of exactly size bytes and returns the
// bytes that do not fill a chunk.
func splitFrames(audio []byte, size int) (chunks [][]byte, rest []byte) {
	for len(audio) >= size {
		chunks = append(chunks, audio[:size])
		audio = audio[size:]
	}
	if len(audio) > 0 {
		rest = make([]byte, len(audio))
		copy(rest, audio)
	}
	return chunks, rest
}

var _ audio.Device = (*Client)(nil)
