// Package miniaudio plays and captures mono PCM16 audio on the default
// devices of the local machine.
package miniaudio

import (
	"context"
	"fmt"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/phonio/core/audio"
)

type Client struct {
	// audioContext is only saved to be able to uninitialize it, it is an
	// ownership thing
	audioContext *malgo.AllocatedContext
	encoding     audio.EncodingInfo
	playbackClient
	captureClient
}

// NewClient opens the default capture and playback devices. Both run at
// the sample rate of encoding, which must be linear16.
func NewClient(encoding audio.EncodingInfo) (*Client, error) {
	if encoding.IsZero() {
		encoding = audio.GetDefaultEncodingInfo()
	}
	if encoding.Format != audio.EncodingLinear16 {
		return nil, fmt.Errorf("%w: miniaudio client only supports linear16", audio.ErrUnsupportedEncoding)
	}

	audioCtx, err := malgo.InitContext(
		nil,
		malgo.ContextConfig{},
		func(message string) { logger.Debug("malgo: " + message) },
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}

	client := Client{
		audioContext: audioCtx,
		encoding:     encoding,
	}

	if err := client.playbackClient.Init(audioCtx, uint32(encoding.SampleRate)); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to initialize playback client: %w", err)
	}

	if err := client.playbackClient.Start(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to start playback device: %w", err)
	}

	if err := client.captureClient.Init(audioCtx, uint32(encoding.SampleRate)); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to initialize capture client: %w", err)
	}

	return &client, nil
}

// Stream captures microphone audio until ctx is done.
func (c *Client) Stream(ctx context.Context, onAudio func(audio []byte)) error {
	if err := c.captureClient.Start(onAudio); err != nil {
		return err
	}
	<-ctx.Done()
	return c.captureClient.Stop()
}

func (c *Client) Close() {
	_ = c.captureClient.Uninit()
	_ = c.playbackClient.Uninit()
	if c.audioContext != nil {
		_ = c.audioContext.Uninit()
		c.audioContext.Free()
		c.audioContext = nil
	}
}

func (c *Client) SendAudio(audio []byte) error {
	return c.playbackClient.SendAudio(audio)
}

func (c *Client) ClearBuffer() {
	c.playbackClient.ClearBuffer()
}

func (c *Client) Drain(ctx context.Context) error {
	return c.playbackClient.Drain(ctx)
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return c.encoding
}

var _ audio.Device = (*Client)(nil)
