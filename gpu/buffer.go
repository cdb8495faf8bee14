package gpu

import (
	"fmt"
	"time"

	"github.com/openfluke/webgpu/wgpu"
)

// readTimeout bounds how long ReadBuffer polls for a mapped staging buffer.
var readTimeout = 2 * time.Second

// NewStorage allocates an uninitialized storage buffer of n floats.
func (c *Context) NewStorage(label string, n int, usage wgpu.BufferUsage) (*wgpu.Buffer, error) {
	buf, err := c.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: label,
		Size:  uint64(n * 4),
		Usage: wgpu.BufferUsageStorage | usage,
	})
	if err != nil {
		return nil, fmt.Errorf("create buffer %s: %w", label, err)
	}
	return buf, nil
}

// ReadBuffer copies n floats out of buffer through a mapped staging buffer.
func (c *Context) ReadBuffer(buffer *wgpu.Buffer, n int) ([]float32, error) {
	sizeBytes := uint64(n * 4)
	staging, err := c.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "read_staging",
		Size:  sizeBytes,
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("create staging buffer: %w", err)
	}
	defer staging.Destroy()

	enc, err := c.Device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, fmt.Errorf("create command encoder: %w", err)
	}
	enc.CopyBufferToBuffer(buffer, 0, staging, 0, sizeBytes)
	cmd, err := enc.Finish(nil)
	enc.Release()
	if err != nil {
		return nil, fmt.Errorf("finish copy: %w", err)
	}
	c.Queue.Submit(cmd)
	cmd.Release()

	done := make(chan struct{})
	var mapErr error
	err = staging.MapAsync(wgpu.MapModeRead, 0, sizeBytes, func(status wgpu.BufferMapAsyncStatus) {
		if status != wgpu.BufferMapAsyncStatusSuccess {
			mapErr = fmt.Errorf("map failed: %v", status)
		}
		close(done)
	})
	if err != nil {
		return nil, fmt.Errorf("MapAsync: %w", err)
	}

	// Poll(false) returns immediately so the timeout stays enforceable
	timeout := time.After(readTimeout)
Loop:
	for {
		c.Device.Poll(false, nil)
		select {
		case <-done:
			break Loop
		case <-timeout:
			return nil, fmt.Errorf("ReadBuffer timed out after %v", readTimeout)
		default:
			time.Sleep(time.Millisecond)
		}
	}
	if mapErr != nil {
		return nil, mapErr
	}

	data := staging.GetMappedRange(0, uint(sizeBytes))
	if data == nil {
		return nil, fmt.Errorf("failed to get mapped range")
	}
	out := make([]float32, n)
	copy(out, wgpu.FromBytes[float32](data))
	staging.Unmap()
	return out, nil
}
