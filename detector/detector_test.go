package detector

import (
	"testing"

	"github.com/openfluke/webgpu/wgpu"
)

func TestWorkgroupSize(t *testing.T) {
	tests := []struct {
		maxX, maxInv uint32
		want         uint32
	}{
		{1024, 1024, 256},
		{256, 128, 128},
		{64, 256, 64},
		{3, 3, 2},
		{0, 0, 1},
	}
	for _, tt := range tests {
		got := WorkgroupSize(Limits{MaxComputeWorkgroupSizeX: tt.maxX, MaxComputeInvocationsPerWorkgroup: tt.maxInv})
		if got != tt.want {
			t.Errorf("WorkgroupSize(%d, %d) = %d, want %d", tt.maxX, tt.maxInv, got, tt.want)
		}
	}
}

func TestFromLimits(t *testing.T) {
	var sl wgpu.SupportedLimits
	sl.Limits.MaxComputeWorkgroupSizeX = 256
	sl.Limits.MaxComputeInvocationsPerWorkgroup = 256
	sl.Limits.MaxComputeWorkgroupsPerDimension = 65535
	sl.Limits.MaxStorageBufferBindingSize = 128 << 20

	lim, rec := FromLimits(sl)
	if lim.MaxComputeWorkgroupsPerDimension != 65535 {
		t.Errorf("limits not copied: %+v", lim)
	}
	if rec.WorkgroupX != 256 {
		t.Errorf("workgroup = %d", rec.WorkgroupX)
	}
	if want := uint64(256 * 65535); rec.MaxElements != want {
		t.Errorf("max elements = %d, want %d", rec.MaxElements, want)
	}

	sl.Limits.MaxStorageBufferBindingSize = 4096
	if _, rec := FromLimits(sl); rec.MaxElements != 1024 {
		t.Errorf("binding size should cap elements, got %d", rec.MaxElements)
	}
}

func TestBudgetEnv(t *testing.T) {
	t.Setenv(BudgetEnv, "64")
	if got := budget(); got != 64<<20 {
		t.Errorf("budget = %d", got)
	}
	t.Setenv(BudgetEnv, "nope")
	if got := budget(); got != defaultBudget {
		t.Errorf("invalid override should fall back, got %d", got)
	}
}
