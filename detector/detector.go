// Package detector probes the WebGPU adapter and derives the dispatch sizes
// used by the gpu package.
package detector

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/openfluke/webgpu/wgpu"
)

// BudgetEnv overrides the soft buffer budget, in MiB.
const BudgetEnv = "REVERIE_GPU_BUDGET_MB"

const defaultBudget = uint64(256 * 1024 * 1024)

// Report is a portable summary of the adapter and what a blur dispatch may use.
type Report struct {
	WhenISO     string            `json:"when_iso"`
	Runtime     string            `json:"runtime"`
	Backend     string            `json:"backend"`
	AdapterType string            `json:"adapter_type"`
	VendorID    string            `json:"vendor_id_hex"`
	DeviceID    string            `json:"device_id_hex"`
	Name        string            `json:"name"`
	Driver      string            `json:"driver"`
	Recommended Recommendations   `json:"recommended"`
	Limits      Limits            `json:"limits"`
	Features    []string          `json:"features"`
	Env         map[string]string `json:"env,omitempty"`
}

type Limits struct {
	MaxComputeInvocationsPerWorkgroup uint32 `json:"max_compute_invocations_per_workgroup"`
	MaxComputeWorkgroupSizeX          uint32 `json:"max_compute_workgroup_size_x"`
	MaxComputeWorkgroupsPerDimension  uint32 `json:"max_compute_workgroups_per_dimension"`
	MaxStorageBufferBindingSize       uint64 `json:"max_storage_buffer_binding_size"`
	MaxBufferSize                     uint64 `json:"max_buffer_size"`
}

type Recommendations struct {
	// 1D workgroup width for per-pixel kernels.
	WorkgroupX uint32 `json:"workgroup_x"`
	// Largest image (planes*height*width floats) a single 1D dispatch covers.
	MaxElements uint64 `json:"max_elements"`
	// Soft budget in bytes for the source, scratch and output buffers.
	BudgetBytes uint64 `json:"budget_bytes"`
}

// FromLimits fills the limits and recommendations of a report.
func FromLimits(l wgpu.SupportedLimits) (Limits, Recommendations) {
	lim := Limits{
		MaxComputeInvocationsPerWorkgroup: l.Limits.MaxComputeInvocationsPerWorkgroup,
		MaxComputeWorkgroupSizeX:          l.Limits.MaxComputeWorkgroupSizeX,
		MaxComputeWorkgroupsPerDimension:  l.Limits.MaxComputeWorkgroupsPerDimension,
		MaxStorageBufferBindingSize:       l.Limits.MaxStorageBufferBindingSize,
		MaxBufferSize:                     l.Limits.MaxBufferSize,
	}
	wg := WorkgroupSize(lim)
	maxElems := uint64(wg) * uint64(lim.MaxComputeWorkgroupsPerDimension)
	if byBinding := lim.MaxStorageBufferBindingSize / 4; byBinding < maxElems {
		maxElems = byBinding
	}
	return lim, Recommendations{WorkgroupX: wg, MaxElements: maxElems, BudgetBytes: budget()}
}

// WorkgroupSize picks the widest power-of-two 1D workgroup the device allows.
func WorkgroupSize(l Limits) uint32 {
	for _, c := range []uint32{256, 128, 64, 32, 16, 8, 4, 2} {
		if c <= l.MaxComputeWorkgroupSizeX && c <= l.MaxComputeInvocationsPerWorkgroup {
			return c
		}
	}
	return 1
}

// DetectJSON runs a probe and returns the indented JSON report.
func DetectJSON() (string, error) {
	rep, err := Detect()
	if err != nil {
		return "", err
	}
	b, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Detect probes the high-performance adapter and synthesizes a report.
func Detect() (*Report, error) {
	inst := wgpu.CreateInstance(nil)
	if inst == nil {
		return nil, fmt.Errorf("wgpu.CreateInstance returned nil")
	}
	defer inst.Release()

	adapter, err := inst.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		return nil, fmt.Errorf("request adapter: %w", err)
	}
	if adapter == nil {
		return nil, fmt.Errorf("no adapter")
	}
	defer adapter.Release()

	info := adapter.GetInfo()

	var feats []string
	for _, f := range adapter.EnumerateFeatures() {
		feats = append(feats, f.String())
	}

	// a device request catches adapters that enumerate but cannot open
	device, err := adapter.RequestDevice(nil)
	if err != nil {
		return nil, fmt.Errorf("request device: %w", err)
	}
	device.Release()

	lim, rec := FromLimits(adapter.GetLimits())
	return &Report{
		WhenISO:     time.Now().UTC().Format(time.RFC3339),
		Runtime:     detectRuntime(),
		Backend:     info.BackendType.String(),
		AdapterType: info.AdapterType.String(),
		VendorID:    fmt.Sprintf("0x%04x", info.VendorId),
		DeviceID:    fmt.Sprintf("0x%04x", info.DeviceId),
		Name:        strings.TrimSpace(info.Name),
		Driver:      strings.TrimSpace(info.DriverDescription),
		Limits:      lim,
		Features:    feats,
		Recommended: rec,
		Env:         pickEnv([]string{BudgetEnv}),
	}, nil
}

func budget() uint64 {
	if mbStr := os.Getenv(BudgetEnv); mbStr != "" {
		if mb, err := strconv.Atoi(mbStr); err == nil && mb > 0 {
			return uint64(mb) * 1024 * 1024
		}
	}
	return defaultBudget
}

func detectRuntime() string {
	if runtime.GOOS == "js" {
		return "wasm"
	}
	return "native"
}

func pickEnv(keys []string) map[string]string {
	out := map[string]string{}
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
