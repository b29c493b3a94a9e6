package core

import (
	"github.com/cockroachdb/errors"
)

var (
	// Device memory could not be allocated for a buffer or image.
	ErrOutOfDeviceMemory = errors.New("out of device memory")
	// A descriptor pool has no capacity left for the requested layout.
	ErrPoolExhausted = errors.New("descriptor pool exhausted")
	// A staged descriptor write targets a binding the layout does not declare.
	ErrInvalidBinding         = errors.New("invalid descriptor binding")
	ErrPipelineCompileFailure = errors.New("pipeline compile failure")
	ErrLayoutIncompatible     = errors.New("descriptor set layout incompatible")
	// An image was used in a layout the operation does not expect.
	ErrLayoutTransition   = errors.New("illegal image layout transition")
	ErrDeviceLost         = errors.New("device lost")
	ErrSwapchainOutOfDate = errors.New("swapchain out of date")
	ErrInvalidConfig      = errors.New("invalid configuration")
	ErrUnknown            = errors.New("unknown")
)
