package audiocap

import (
	"sync"

	"github.com/gen2brain/malgo"
	"go.uber.org/zap"

	"github.com/anytalk-oss/anytalk-core/anyerr"
	"github.com/anytalk-oss/anytalk-core/internal/metrics"
)

const (
	sampleRateHz = 16000
	channels     = 1
)

// Capture owns the system PCM capture device and a background thread that
// reads exactly ChunkBytes per iteration and forwards each chunk to the
// currently-registered Target (spec §4.5). Start and Stop are idempotent.
type Capture struct {
	log *zap.Logger

	mu       sync.Mutex
	malgoCtx *malgo.AllocatedContext
	device   *malgo.Device
	target   *Target
	running  bool
	stopCh   chan struct{}
	wg       sync.WaitGroup

	bufMu sync.Mutex
	cond  *sync.Cond
	buf   []byte
	// closed guards against the reader goroutine blocking forever in
	// Cond.Wait after Stop has already torn the device down.
	closed bool
}

// New returns a Capture with no device open yet; Start opens it.
func New(log *zap.Logger) *Capture {
	c := &Capture{log: log}
	c.cond = sync.NewCond(&c.bufMu)
	return c
}

// Start opens the capture device and begins forwarding chunks to target.
// If the device is unavailable, it returns an error and leaves Capture in
// a state where a later Start call may succeed (spec §4.5).
func (c *Capture) Start(target *Target) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}

	if c.malgoCtx == nil {
		malgoCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
		if err != nil {
			return anyerr.Wrap(anyerr.KindDial, "init audio context", err)
		}
		c.malgoCtx = malgoCtx
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = channels
	deviceConfig.SampleRate = sampleRateHz
	deviceConfig.PeriodSizeInMilliseconds = 40 // one ChunkBytes period

	c.bufMu.Lock()
	c.buf = c.buf[:0]
	c.closed = false
	c.bufMu.Unlock()

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, samples []byte, _ uint32) {
			c.bufMu.Lock()
			c.buf = append(c.buf, samples...)
			c.bufMu.Unlock()
			c.cond.Signal()
		},
	}

	device, err := malgo.InitDevice(c.malgoCtx.Context, deviceConfig, callbacks)
	if err != nil {
		return anyerr.Wrap(anyerr.KindDial, "init capture device", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return anyerr.Wrap(anyerr.KindDial, "start capture device", err)
	}

	c.device = device
	c.target = target
	c.running = true
	c.stopCh = make(chan struct{})

	c.wg.Add(1)
	go c.readLoop(c.stopCh)

	return nil
}

func (c *Capture) readLoop(stopCh chan struct{}) {
	defer c.wg.Done()
	var chunk Chunk
	for {
		select {
		case <-stopCh:
			return
		default:
		}
		if !c.readExact(chunk[:], stopCh) {
			return
		}
		c.mu.Lock()
		target := c.target
		c.mu.Unlock()
		if target != nil {
			if delivered, hadSink := target.Send(chunk); hadSink && !delivered {
				c.log.Debug("audio ring full, dropped chunk")
				metrics.RingChunksDropped.Inc()
			}
		}
	}
}

// readExact blocks until len(p) bytes have been accumulated from the
// device callback, or stopCh closes. Returns false on shutdown.
func (c *Capture) readExact(p []byte, stopCh chan struct{}) bool {
	filled := 0
	for filled < len(p) {
		c.bufMu.Lock()
		for len(c.buf) == 0 && !c.closed {
			c.cond.Wait()
		}
		if c.closed && len(c.buf) == 0 {
			c.bufMu.Unlock()
			return false
		}
		n := copy(p[filled:], c.buf)
		c.buf = c.buf[n:]
		filled += n
		c.bufMu.Unlock()
	}
	return true
}

// Stop closes the device and joins the capture thread. Idempotent.
func (c *Capture) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	device := c.device
	stopCh := c.stopCh
	c.device = nil
	c.target = nil
	c.mu.Unlock()

	close(stopCh)

	c.bufMu.Lock()
	c.closed = true
	c.bufMu.Unlock()
	c.cond.Broadcast()

	c.wg.Wait()

	device.Stop()
	device.Uninit()
}

// Close releases the underlying audio context. Call once, after the last Stop.
func (c *Capture) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.malgoCtx != nil {
		c.malgoCtx.Uninit()
		c.malgoCtx = nil
	}
}
