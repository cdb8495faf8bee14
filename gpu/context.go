// Package gpu runs the gradient blur on a WebGPU device.
package gpu

import (
	"fmt"
	"log"
	"sync"

	"github.com/openfluke/reverie/detector"
	"github.com/openfluke/webgpu/wgpu"
)

// Context holds the process-wide WebGPU device.
type Context struct {
	Instance *wgpu.Instance
	Adapter  *wgpu.Adapter
	Device   *wgpu.Device
	Queue    *wgpu.Queue

	Limits      detector.Limits
	Recommended detector.Recommendations

	mu sync.Mutex // serializes queue submissions
}

var (
	shared  Context
	once    sync.Once
	initErr error
)

// GetContext returns the shared GPU context, opening it on first use.
func GetContext() (*Context, error) {
	once.Do(func() { initErr = shared.open() })
	if initErr != nil {
		return nil, initErr
	}
	return &shared, nil
}

func (c *Context) open() error {
	c.Instance = wgpu.CreateInstance(nil)
	if c.Instance == nil {
		return fmt.Errorf("failed to create WebGPU instance")
	}

	// discrete first, then whatever the platform offers
	for _, a := range c.Instance.EnumerateAdapters(nil) {
		if a.GetInfo().AdapterType == wgpu.AdapterTypeDiscreteGPU {
			c.Adapter = a
			break
		}
	}

	var err error
	for _, opts := range []*wgpu.RequestAdapterOptions{
		{PowerPreference: wgpu.PowerPreferenceHighPerformance},
		{PowerPreference: wgpu.PowerPreferenceLowPower},
		nil,
	} {
		if c.Adapter != nil {
			break
		}
		if c.Adapter, err = c.Instance.RequestAdapter(opts); err != nil {
			log.Printf("adapter request failed: %v, falling back", err)
		}
	}
	if c.Adapter == nil {
		return fmt.Errorf("no WebGPU adapter: %v", err)
	}

	info := c.Adapter.GetInfo()
	log.Printf("🎮 using GPU adapter %s (%s, %s)", info.Name, info.VendorName, info.BackendType.String())

	if c.Device, err = c.Adapter.RequestDevice(nil); err != nil {
		return fmt.Errorf("request device: %w", err)
	}
	c.Queue = c.Device.GetQueue()
	if c.Queue == nil {
		return fmt.Errorf("WebGPU queue not initialized")
	}

	c.Limits, c.Recommended = detector.FromLimits(c.Adapter.GetLimits())
	return nil
}
