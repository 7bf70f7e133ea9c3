package device

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
)

// ChaosConfig controls fault injection rates on a [ChaosDevice].
// Each rate is a float64 from 0.0 (never) to 1.0 (always).
//
// The zero value disables all fault injection.
type ChaosConfig struct {
	// ReadFailRate controls how often ReadAt fails entirely, returning an
	// error without touching buf.
	ReadFailRate float64

	// WriteFailRate controls how often WriteAt fails entirely, as if the
	// write never reached the device.
	WriteFailRate float64

	// TornWriteRate controls how often WriteAt "tears": it writes the full
	// buffer to the underlying device (so the corruption is visible on the
	// next read, not silently dropped) but then reports an error, modeling
	// a write whose completion status was lost to a crash.
	TornWriteRate float64

	// TrimFailRate controls how often Trim fails entirely.
	TrimFailRate float64
}

// ChaosStats counts faults a [ChaosDevice] has injected.
type ChaosStats struct {
	ReadFails  int64
	WriteFails int64
	TornWrites int64
	TrimFails  int64
}

var errInjectedFault = errors.New("device: injected fault")

// ChaosDevice wraps a [Device] and injects faults according to a
// [ChaosConfig], for exercising the engine's durability and
// corruption-recovery paths without a real faulty disk.
type ChaosDevice struct {
	inner Device
	cfg   ChaosConfig

	rngMu sync.Mutex
	rng   *rand.Rand

	readFails  atomic.Int64
	writeFails atomic.Int64
	tornWrites atomic.Int64
	trimFails  atomic.Int64
}

// NewChaosDevice wraps inner with fault injection driven by cfg and seed.
// A fixed seed makes failure sequences reproducible across test runs.
func NewChaosDevice(inner Device, cfg ChaosConfig, seed int64) *ChaosDevice {
	return &ChaosDevice{
		inner: inner,
		rng:   rand.New(rand.NewPCG(uint64(seed), uint64(seed))),
		cfg:   cfg,
	}
}

// Capacity delegates to the wrapped device.
func (c *ChaosDevice) Capacity() uint64 {
	return c.inner.Capacity()
}

// IsBlockDevice delegates to the wrapped device.
func (c *ChaosDevice) IsBlockDevice() bool {
	return c.inner.IsBlockDevice()
}

// ReadAt reads through the wrapped device, optionally injecting a total
// read failure.
func (c *ChaosDevice) ReadAt(off uint64, buf []byte) error {
	if c.should(c.cfg.ReadFailRate) {
		c.readFails.Add(1)

		return fmt.Errorf("device: read at %d: %w", off, errInjectedFault)
	}

	return c.inner.ReadAt(off, buf)
}

// WriteAt writes through the wrapped device, optionally injecting a total
// write failure or a torn write (data lands, but the caller is told it
// didn't).
func (c *ChaosDevice) WriteAt(off uint64, buf []byte) error {
	if c.should(c.cfg.WriteFailRate) {
		c.writeFails.Add(1)

		return fmt.Errorf("device: write at %d: %w", off, errInjectedFault)
	}

	if c.should(c.cfg.TornWriteRate) {
		c.tornWrites.Add(1)

		err := c.inner.WriteAt(off, buf)
		if err != nil {
			return err
		}

		return fmt.Errorf("device: torn write at %d: %w", off, errInjectedFault)
	}

	return c.inner.WriteAt(off, buf)
}

// Trim trims through the wrapped device, optionally injecting a total
// failure.
func (c *ChaosDevice) Trim(off, length uint64) error {
	if c.should(c.cfg.TrimFailRate) {
		c.trimFails.Add(1)

		return fmt.Errorf("device: trim at %d: %w", off, errInjectedFault)
	}

	return c.inner.Trim(off, length)
}

// Close delegates to the wrapped device; Close itself is never faulted
// since the engine must always be able to release its resources.
func (c *ChaosDevice) Close() error {
	return c.inner.Close()
}

// Stats returns a snapshot of injected-fault counts.
func (c *ChaosDevice) Stats() ChaosStats {
	return ChaosStats{
		ReadFails:  c.readFails.Load(),
		WriteFails: c.writeFails.Load(),
		TornWrites: c.tornWrites.Load(),
		TrimFails:  c.trimFails.Load(),
	}
}

func (c *ChaosDevice) should(rate float64) bool {
	if rate <= 0 {
		return false
	}

	c.rngMu.Lock()
	f := c.rng.Float64()
	c.rngMu.Unlock()

	return f < rate
}

// Compile-time interface check.
var _ Device = (*ChaosDevice)(nil)
