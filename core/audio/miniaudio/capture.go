package miniaudio

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
)

// captureFramesPerSecond sets the capture period to 20ms.
const captureFramesPerSecond = 50

// captureClient records the default input device and hands every period to
// the callback given to Start.
type captureClient struct {
	device *malgo.Device
	config malgo.DeviceConfig

	mu      sync.Mutex
	onAudio func(audio []byte)
}

func (c *captureClient) Init(audioContext *malgo.AllocatedContext, sampleRate uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.config = malgo.DefaultDeviceConfig(malgo.Capture)
	c.config.SampleRate = sampleRate
	c.config.Capture.Format = malgo.FormatS16
	c.config.Capture.Channels = 1
	c.config.Alsa.NoMMap = 1
	c.config.PerformanceProfile = malgo.LowLatency
	c.config.PeriodSizeInFrames = sampleRate / captureFramesPerSecond
	c.config.Periods = 3

	bytesPerFrame := malgo.SampleSizeInBytes(c.config.Capture.Format)
	device, err := malgo.InitDevice(audioContext.Context, c.config, malgo.DeviceCallbacks{
		Data: func(_, input []byte, frameCount uint32) {
			c.deliver(input, int(frameCount)*bytesPerFrame)
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize capture device: %w", err)
	}
	c.device = device
	return nil
}

// deliver copies the period out of the device buffer, malgo reuses it.
func (c *captureClient) deliver(input []byte, size int) {
	if size == 0 || len(input) < size {
		return
	}

	c.mu.Lock()
	onAudio := c.onAudio
	c.mu.Unlock()
	if onAudio == nil {
		return
	}

	frame := make([]byte, size)
	copy(frame, input[:size])
	onAudio(frame)
}

func (c *captureClient) Start(onAudio func(audio []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return fmt.Errorf("capture device not initialized")
	}
	if c.device.IsStarted() {
		return nil
	}

	c.onAudio = onAudio
	if err := c.device.Start(); err != nil {
		c.onAudio = nil
		return fmt.Errorf("failed to start capture device: %w", err)
	}
	return nil
}

func (c *captureClient) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil || !c.device.IsStarted() {
		return nil
	}

	c.onAudio = nil
	if err := c.device.Stop(); err != nil {
		return fmt.Errorf("failed to stop capture device: %w", err)
	}
	return nil
}

func (c *captureClient) Uninit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.device != nil {
		c.device.Uninit()
		c.device = nil
	}
	c.onAudio = nil
	return nil
}
