package metadata

// Handle is an opaque reference to an object owned by a device backend.
type Handle uint64

const NullHandle Handle = 0

func (h Handle) IsNull() bool {
	return h == NullHandle
}

type Extent2D struct {
	Width  uint32
	Height uint32
}

func (e Extent2D) Pixels() int {
	return int(e.Width) * int(e.Height)
}

// ClearValue is used for both colour and depth/stencil attachments.
type ClearValue struct {
	Colour  [4]float32
	Depth   float32
	Stencil uint32
}
