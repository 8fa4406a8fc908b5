package shade

import (
	"fmt"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/wgpu/hal"
)

// DeviceHandle provides GPU device access from the host application.
//
// The host (e.g., a gogpu.App) implements DeviceHandle and passes it in,
// so shader modules and pipelines are created on the shared device. Key
// principle: shade RECEIVES the device from the host, it does NOT create
// one.
//
// DeviceHandle is an alias for gpucontext.DeviceProvider, providing a
// shade-specific name for the interface while maintaining full
// compatibility with the gpucontext ecosystem.
type DeviceHandle = gpucontext.DeviceProvider

// Device is the slice of hal.Device that shader and pipeline lifecycle
// needs. hal.Device satisfies it directly; tests substitute fakes without
// implementing the full device surface.
type Device interface {
	CreateShaderModule(desc *hal.ShaderModuleDescriptor) (hal.ShaderModule, error)
	DestroyShaderModule(module hal.ShaderModule)
	CreateRenderPipeline(desc *hal.RenderPipelineDescriptor) (hal.RenderPipeline, error)
	DestroyRenderPipeline(pipeline hal.RenderPipeline)
	CreateComputePipeline(desc *hal.ComputePipelineDescriptor) (hal.ComputePipeline, error)
	DestroyComputePipeline(pipeline hal.ComputePipeline)
}

// Every hal.Device is usable as a Device.
var _ Device = (hal.Device)(nil)

// HALDeviceFrom extracts the HAL device from a host-provided handle. The
// handle's concrete type must expose HalDevice() any returning a
// hal.Device, the way gogpu device providers do.
func HALDeviceFrom(handle DeviceHandle) (Device, error) {
	type halProvider interface {
		HalDevice() any
	}
	hp, ok := handle.(halProvider)
	if !ok {
		return nil, fmt.Errorf("shade: device handle does not expose HAL types")
	}
	device, ok := hp.HalDevice().(Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("shade: device handle HalDevice is not a hal.Device")
	}
	return device, nil
}
