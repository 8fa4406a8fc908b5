package shade

import (
	"strings"
	"testing"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
)

// mockGPUDevice implements gpucontext.Device for testing.
type mockGPUDevice struct{}

func (m *mockGPUDevice) Poll(wait bool) {}
func (m *mockGPUDevice) Destroy()       {}

// mockProvider implements DeviceHandle plus the HalDevice escape hatch
// that gogpu device providers expose.
type mockProvider struct {
	hal any
}

func (p *mockProvider) Device() gpucontext.Device   { return &mockGPUDevice{} }
func (p *mockProvider) Queue() gpucontext.Queue     { return nil }
func (p *mockProvider) Adapter() gpucontext.Adapter { return nil }
func (p *mockProvider) AdapterInfo() gpucontext.AdapterInfo {
	return gpucontext.AdapterInfo{Type: gpucontext.AdapterTypeUnknown}
}
func (p *mockProvider) SurfaceFormat() gputypes.TextureFormat {
	return gputypes.TextureFormatBGRA8Unorm
}
func (p *mockProvider) HalDevice() any { return p.hal }

// bareProvider implements DeviceHandle without exposing HAL types.
type bareProvider struct{}

func (p *bareProvider) Device() gpucontext.Device   { return &mockGPUDevice{} }
func (p *bareProvider) Queue() gpucontext.Queue     { return nil }
func (p *bareProvider) Adapter() gpucontext.Adapter { return nil }
func (p *bareProvider) AdapterInfo() gpucontext.AdapterInfo {
	return gpucontext.AdapterInfo{Type: gpucontext.AdapterTypeUnknown}
}
func (p *bareProvider) SurfaceFormat() gputypes.TextureFormat {
	return gputypes.TextureFormatBGRA8Unorm
}

func TestHALDeviceFrom(t *testing.T) {
	halDevice := &mockDevice{}
	device, err := HALDeviceFrom(&mockProvider{hal: halDevice})
	if err != nil {
		t.Fatalf("HALDeviceFrom: %v", err)
	}
	if device != Device(halDevice) {
		t.Error("extracted device is not the provider's HAL device")
	}
}

func TestHALDeviceFrom_NoHALAccess(t *testing.T) {
	_, err := HALDeviceFrom(&bareProvider{})
	if err == nil || !strings.Contains(err.Error(), "does not expose HAL types") {
		t.Errorf("error = %v, want missing HAL access diagnostic", err)
	}
}

func TestHALDeviceFrom_WrongHALType(t *testing.T) {
	_, err := HALDeviceFrom(&mockProvider{hal: "not a device"})
	if err == nil || !strings.Contains(err.Error(), "not a hal.Device") {
		t.Errorf("error = %v, want HAL type diagnostic", err)
	}
	if _, err := HALDeviceFrom(&mockProvider{hal: nil}); err == nil {
		t.Error("nil HAL device extracted without error")
	}
}

func TestHALDeviceFrom_DrivesCache(t *testing.T) {
	device, err := HALDeviceFrom(&mockProvider{hal: &mockDevice{}})
	if err != nil {
		t.Fatalf("HALDeviceFrom: %v", err)
	}
	cache, err := NewCache(device, mapResolver(baseSources()))
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	if _, err := cache.GetOrCompile("kernel", nil); err != nil {
		t.Errorf("GetOrCompile through extracted device: %v", err)
	}
}
