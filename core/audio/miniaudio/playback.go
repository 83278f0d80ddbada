package miniaudio

import (
	"context"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
)

// playbackClient plays queued PCM on the default output device. Audio is
// pulled by the device callback, silence is played while the queue is empty.
type playbackClient struct {
	device *malgo.Device
	config malgo.DeviceConfig

	mu sync.Mutex

	queueMu sync.Mutex
	queue   []byte
	// drained is closed by the device callback once queue runs empty.
	drained chan struct{}
}

func (c *playbackClient) Init(audioContext *malgo.AllocatedContext, sampleRate uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.config = malgo.DefaultDeviceConfig(malgo.Playback)
	c.config.SampleRate = sampleRate
	c.config.Playback.Format = malgo.FormatS16
	c.config.Playback.Channels = 1
	c.config.Alsa.NoMMap = 1
	c.config.PeriodSizeInFrames = sampleRate / 10
	c.config.Periods = 4

	bytesPerFrame := malgo.SampleSizeInBytes(c.config.Playback.Format)
	device, err := malgo.InitDevice(audioContext.Context, c.config, malgo.DeviceCallbacks{
		Data: func(output, _ []byte, frameCount uint32) {
			c.fill(output[:int(frameCount)*bytesPerFrame])
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize playback device: %w", err)
	}
	c.device = device
	return nil
}

func (c *playbackClient) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return fmt.Errorf("playback device not initialized")
	}

	if err := c.device.Start(); err != nil {
		return fmt.Errorf("failed to start playback device: %w", err)
	}
	return nil
}

// SendAudio queues assistant audio behind whatever is still playing.
func (c *playbackClient) SendAudio(audio []byte) error {
	c.mu.Lock()
	started := c.device != nil && c.device.IsStarted()
	c.mu.Unlock()
	if !started {
		return fmt.Errorf("playback device not started")
	}

	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	c.queue = append(c.queue, audio...)
	return nil
}

// ClearBuffer drops queued audio, the user talked over the assistant.
func (c *playbackClient) ClearBuffer() {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	c.queue = nil
	c.signalDrained()
}

// Drain blocks until the queued audio was played or ctx is done.
func (c *playbackClient) Drain(ctx context.Context) error {
	c.queueMu.Lock()
	if len(c.queue) == 0 {
		c.queueMu.Unlock()
		return nil
	}
	if c.drained == nil {
		c.drained = make(chan struct{})
	}
	drained := c.drained
	c.queueMu.Unlock()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *playbackClient) Uninit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.device != nil {
		c.device.Uninit()
		c.device = nil
	}
	c.ClearBuffer()
	return nil
}

func (c *playbackClient) fill(output []byte) {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()

	n := copy(output, c.queue)
	clear(output[n:])
	c.queue = c.queue[n:]
	if len(c.queue) == 0 {
		c.queue = nil
		c.signalDrained()
	}
}

// signalDrained must be called with queueMu held.
func (c *playbackClient) signalDrained() {
	if c.drained != nil {
		close(c.drained)
		c.drained = nil
	}
}
