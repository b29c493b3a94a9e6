// Package headless implements renderer.Device in software. Submitted command streams run on
// a worker goroutine, so CPU recording and "GPU" execution overlap the way they do on a
// real device. Full-screen passes carrying a FragmentProgram are executed on the CPU;
// every other draw is validated and counted.
package headless

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/lumen/engine/containers"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

type Config struct {
	FramesInFlight  uint32
	Extent          metadata.Extent2D
	SwapchainImages uint32
	SwapchainFormat metadata.Format
	// Bytes of device memory available to buffers and images. 0 means unlimited.
	MemoryBudget uint64
}

type Stats struct {
	Submissions     uint64
	RenderPasses    uint64
	Draws           uint64
	FullscreenDraws uint64
	Presents        uint64
}

type buffer struct {
	desc   metadata.BufferDescription
	data   []byte
	mapped bool
}

type pool struct {
	desc      metadata.DescriptorPoolDescription
	remaining map[metadata.DescriptorType]uint32
	sets      map[metadata.Handle]struct{}
}

type set struct {
	pool   metadata.Handle
	layout metadata.Handle
	writes map[uint32]metadata.DescriptorWrite
}

type submission struct {
	cmds  []command
	fence *fence
}

type Device struct {
	cfg Config

	// mu guards every resource table; the worker holds it while executing a submission.
	mu           sync.Mutex
	nextHandle   metadata.Handle
	allocated    uint64
	buffers      map[metadata.Handle]*buffer
	images       map[metadata.Handle]*image
	samplers     map[metadata.Handle]metadata.SamplerDescription
	layouts      map[metadata.Handle][]metadata.DescriptorBinding
	pools        map[metadata.Handle]*pool
	sets         map[metadata.Handle]*set
	passes       map[metadata.Handle]metadata.RenderPassDescription
	framebuffers map[metadata.Handle]metadata.FramebufferDescription
	pipelines    map[metadata.Handle]metadata.PipelineDescription
	fences       map[metadata.Handle]*fence
	stats        Stats
	swapchain    []metadata.Handle
	nextImage    uint32
	lastError    error

	commands []*CommandBuffer

	// queue state, guarded by qmu
	qmu       sync.Mutex
	qcond     *sync.Cond
	queue     *containers.RingQueue[*submission]
	executing bool
	paused    bool
	closed    bool
	done      chan struct{}
}

var _ renderer.Device = (*Device)(nil)

func New(cfg Config) (*Device, error) {
	if cfg.FramesInFlight == 0 {
		cfg.FramesInFlight = 2
	}
	if cfg.SwapchainImages == 0 {
		cfg.SwapchainImages = cfg.FramesInFlight + 1
	}
	if cfg.SwapchainFormat == metadata.FormatUndefined {
		cfg.SwapchainFormat = metadata.FormatR8G8B8A8Unorm
	}
	if cfg.Extent.Width == 0 || cfg.Extent.Height == 0 {
		err := errors.Wrapf(core.ErrInvalidConfig, "headless extent %dx%d", cfg.Extent.Width, cfg.Extent.Height)
		core.LogError(err.Error())
		return nil, err
	}
	if !supportedFormat(cfg.SwapchainFormat) || cfg.SwapchainFormat.IsDepth() {
		err := errors.Wrapf(core.ErrInvalidConfig, "headless swapchain format %s", cfg.SwapchainFormat)
		core.LogError(err.Error())
		return nil, err
	}

	d := &Device{
		cfg:          cfg,
		buffers:      make(map[metadata.Handle]*buffer),
		images:       make(map[metadata.Handle]*image),
		samplers:     make(map[metadata.Handle]metadata.SamplerDescription),
		layouts:      make(map[metadata.Handle][]metadata.DescriptorBinding),
		pools:        make(map[metadata.Handle]*pool),
		sets:         make(map[metadata.Handle]*set),
		passes:       make(map[metadata.Handle]metadata.RenderPassDescription),
		framebuffers: make(map[metadata.Handle]metadata.FramebufferDescription),
		pipelines:    make(map[metadata.Handle]metadata.PipelineDescription),
		fences:       make(map[metadata.Handle]*fence),
		queue:        containers.NewRingQueue[*submission](int(cfg.FramesInFlight) + 2),
		done:         make(chan struct{}),
	}
	d.qcond = sync.NewCond(&d.qmu)

	for i := uint32(0); i < cfg.SwapchainImages; i++ {
		d.swapchain = append(d.swapchain, d.addImage(newImage(metadata.ImageDescription{
			Extent: cfg.Extent,
			Format: cfg.SwapchainFormat,
			Usage:  metadata.ImageUsageColorAttachment | metadata.ImageUsageTransferSrc,
			Layers: 1,
		})))
	}
	for i := uint32(0); i < cfg.FramesInFlight; i++ {
		d.commands = append(d.commands, newCommandBuffer(d))
	}

	go d.worker()
	core.LogInfo("headless device created: %dx%d, %d frames in flight", cfg.Extent.Width, cfg.Extent.Height, cfg.FramesInFlight)
	return d, nil
}

func (d *Device) allocHandle() metadata.Handle {
	d.nextHandle++
	return d.nextHandle
}

func (d *Device) addImage(img *image) metadata.Handle {
	h := d.allocHandle()
	d.images[h] = img
	return h
}

func (d *Device) reserve(size uint64) error {
	if d.cfg.MemoryBudget != 0 && d.allocated+size > d.cfg.MemoryBudget {
		return errors.Wrapf(core.ErrOutOfDeviceMemory, "%d bytes requested, %d of %d in use", size, d.allocated, d.cfg.MemoryBudget)
	}
	d.allocated += size
	return nil
}

func (d *Device) FramesInFlight() uint32 {
	return d.cfg.FramesInFlight
}

func (d *Device) CreateBuffer(desc metadata.BufferDescription) (metadata.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.reserve(desc.Size); err != nil {
		return metadata.NullHandle, err
	}
	h := d.allocHandle()
	d.buffers[h] = &buffer{desc: desc, data: make([]byte, desc.Size)}
	return h, nil
}

func (d *Device) DestroyBuffer(h metadata.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if b, ok := d.buffers[h]; ok {
		d.allocated -= b.desc.Size
		delete(d.buffers, h)
	}
}

func (d *Device) MapBuffer(h metadata.Handle, offset, size uint64) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[h]
	if !ok {
		return nil, errors.Newf("unknown buffer %d", h)
	}
	if b.desc.Memory&metadata.MemoryPropertyHostVisible == 0 {
		return nil, errors.Newf("buffer %d is not host visible", h)
	}
	if offset+size > b.desc.Size {
		return nil, errors.Newf("map range %d+%d exceeds buffer size %d", offset, size, b.desc.Size)
	}
	b.mapped = true
	return b.data[offset : offset+size], nil
}

func (d *Device) UnmapBuffer(h metadata.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if b, ok := d.buffers[h]; ok {
		b.mapped = false
	}
}

func (d *Device) CreateImage(desc metadata.ImageDescription) (metadata.Handle, error) {
	if !supportedFormat(desc.Format) {
		return metadata.NullHandle, errors.Newf("format %s is not supported by the headless device", desc.Format)
	}
	if desc.Layers == 0 {
		desc.Layers = 1
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	size := uint64(desc.Extent.Pixels()) * uint64(desc.Format.BytesPerPixel()) * uint64(desc.Layers)
	if err := d.reserve(size); err != nil {
		return metadata.NullHandle, err
	}
	return d.addImage(newImage(desc)), nil
}

func (d *Device) DestroyImage(h metadata.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if img, ok := d.images[h]; ok {
		d.allocated -= uint64(img.desc.Extent.Pixels()) * uint64(img.desc.Format.BytesPerPixel()) * uint64(img.desc.Layers)
		delete(d.images, h)
	}
}

func (d *Device) WriteImage(h metadata.Handle, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	img, ok := d.images[h]
	if !ok {
		return errors.Newf("unknown image %d", h)
	}
	expected := len(img.texels) / 4 * int(img.desc.Format.BytesPerPixel())
	if len(data) != expected {
		return errors.Newf("image %d expects %d bytes, got %d", h, expected, len(data))
	}
	img.decode(data)
	return nil
}

func (d *Device) ReadImage(h metadata.Handle) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	img, ok := d.images[h]
	if !ok {
		return nil, errors.Newf("unknown image %d", h)
	}
	return img.encode(), nil
}

func (d *Device) CreateSampler(desc metadata.SamplerDescription) (metadata.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := d.allocHandle()
	d.samplers[h] = desc
	return h, nil
}

func (d *Device) DestroySampler(h metadata.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.samplers, h)
}

func (d *Device) CreateDescriptorSetLayout(bindings []metadata.DescriptorBinding) (metadata.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := d.allocHandle()
	d.layouts[h] = append([]metadata.DescriptorBinding(nil), bindings...)
	return h, nil
}

func (d *Device) DestroyDescriptorSetLayout(h metadata.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.layouts, h)
}

func (d *Device) CreateDescriptorPool(desc metadata.DescriptorPoolDescription) (metadata.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	remaining := make(map[metadata.DescriptorType]uint32, len(desc.Sizes))
	for t, n := range desc.Sizes {
		remaining[t] = n
	}
	h := d.allocHandle()
	d.pools[h] = &pool{desc: desc, remaining: remaining, sets: make(map[metadata.Handle]struct{})}
	return h, nil
}

func (d *Device) DestroyDescriptorPool(h metadata.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.pools[h]; ok {
		for s := range p.sets {
			delete(d.sets, s)
		}
		delete(d.pools, h)
	}
}

func (d *Device) AllocateDescriptorSet(poolHandle, layoutHandle metadata.Handle) (metadata.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pools[poolHandle]
	if !ok {
		return metadata.NullHandle, errors.Newf("unknown descriptor pool %d", poolHandle)
	}
	bindings, ok := d.layouts[layoutHandle]
	if !ok {
		return metadata.NullHandle, errors.Newf("unknown descriptor set layout %d", layoutHandle)
	}
	if uint32(len(p.sets)) >= p.desc.MaxSets {
		return metadata.NullHandle, errors.Wrap(core.ErrPoolExhausted, "no sets left")
	}
	need := make(map[metadata.DescriptorType]uint32)
	for _, b := range bindings {
		need[b.Type] += b.Count
	}
	for t, n := range need {
		if p.remaining[t] < n {
			return metadata.NullHandle, errors.Wrapf(core.ErrPoolExhausted, "no %s descriptors left", t)
		}
	}
	for t, n := range need {
		p.remaining[t] -= n
	}
	h := d.allocHandle()
	p.sets[h] = struct{}{}
	d.sets[h] = &set{pool: poolHandle, layout: layoutHandle, writes: make(map[uint32]metadata.DescriptorWrite)}
	return h, nil
}

func (d *Device) FreeDescriptorSet(poolHandle, setHandle metadata.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pools[poolHandle]
	if !ok {
		return errors.Newf("unknown descriptor pool %d", poolHandle)
	}
	if !p.desc.FreeIndividualSets {
		return errors.Newf("descriptor pool %d does not allow freeing sets", poolHandle)
	}
	s, ok := d.sets[setHandle]
	if !ok || s.pool != poolHandle {
		return errors.Newf("descriptor set %d does not belong to pool %d", setHandle, poolHandle)
	}
	for _, b := range d.layouts[s.layout] {
		p.remaining[b.Type] += b.Count
	}
	delete(p.sets, setHandle)
	delete(d.sets, setHandle)
	return nil
}

func (d *Device) ResetDescriptorPool(poolHandle metadata.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pools[poolHandle]
	if !ok {
		return errors.Newf("unknown descriptor pool %d", poolHandle)
	}
	for s := range p.sets {
		delete(d.sets, s)
	}
	p.sets = make(map[metadata.Handle]struct{})
	for t, n := range p.desc.Sizes {
		p.remaining[t] = n
	}
	return nil
}

func (d *Device) UpdateDescriptorSet(setHandle metadata.Handle, writes []metadata.DescriptorWrite) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sets[setHandle]
	if !ok {
		return errors.Newf("unknown descriptor set %d", setHandle)
	}
	// the update is all or nothing, like vkUpdateDescriptorSets with a bad handle
	for _, w := range writes {
		if err := d.checkWrite(w); err != nil {
			return err
		}
	}
	for _, w := range writes {
		s.writes[w.Binding] = w
	}
	return nil
}

func (d *Device) checkWrite(w metadata.DescriptorWrite) error {
	if !w.Type.IsImage() {
		if _, ok := d.buffers[w.Buffer.Buffer]; !ok {
			return errors.Newf("binding %d references unknown buffer %d", w.Binding, w.Buffer.Buffer)
		}
		return nil
	}
	if !w.Image.Image.IsNull() {
		if _, ok := d.images[w.Image.Image]; !ok {
			return errors.Newf("binding %d references unknown image %d", w.Binding, w.Image.Image)
		}
	}
	if !w.Image.Sampler.IsNull() {
		if _, ok := d.samplers[w.Image.Sampler]; !ok {
			return errors.Newf("binding %d references unknown sampler %d", w.Binding, w.Image.Sampler)
		}
	}
	return nil
}

func (d *Device) CreateRenderPass(desc metadata.RenderPassDescription) (metadata.Handle, error) {
	for i, a := range desc.Attachments {
		if !supportedFormat(a.Format) {
			return metadata.NullHandle, errors.Newf("attachment %d format %s is not supported by the headless device", i, a.Format)
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	h := d.allocHandle()
	d.passes[h] = desc
	return h, nil
}

func (d *Device) DestroyRenderPass(h metadata.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.passes, h)
}

func (d *Device) CreateFramebuffer(desc metadata.FramebufferDescription) (metadata.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.passes[desc.RenderPass]; !ok {
		return metadata.NullHandle, errors.Newf("unknown render pass %d", desc.RenderPass)
	}
	for _, a := range desc.Attachments {
		if _, ok := d.images[a]; !ok {
			return metadata.NullHandle, errors.Newf("unknown attachment image %d", a)
		}
	}
	h := d.allocHandle()
	d.framebuffers[h] = desc
	return h, nil
}

func (d *Device) DestroyFramebuffer(h metadata.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.framebuffers, h)
}

func (d *Device) CreatePipeline(desc metadata.PipelineDescription) (metadata.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.passes[desc.RenderPass]; !ok {
		return metadata.NullHandle, errors.Newf("unknown render pass %d", desc.RenderPass)
	}
	for _, l := range desc.SetLayouts {
		if _, ok := d.layouts[l]; !ok {
			return metadata.NullHandle, errors.Newf("unknown descriptor set layout %d", l)
		}
	}
	h := d.allocHandle()
	d.pipelines[h] = desc
	return h, nil
}

func (d *Device) DestroyPipeline(h metadata.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.pipelines, h)
}

func (d *Device) CreateFence(signaled bool) (metadata.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := d.allocHandle()
	d.fences[h] = newFence(signaled)
	return h, nil
}

func (d *Device) fence(h metadata.Handle) (*fence, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.fences[h]
	if !ok {
		return nil, errors.Newf("unknown fence %d", h)
	}
	return f, nil
}

func (d *Device) WaitFence(ctx context.Context, h metadata.Handle) error {
	f, err := d.fence(h)
	if err != nil {
		return err
	}
	return f.wait(ctx)
}

func (d *Device) ResetFence(h metadata.Handle) error {
	f, err := d.fence(h)
	if err != nil {
		return err
	}
	f.reset()
	return nil
}

// FenceSignaled reports the state of a fence without waiting.
func (d *Device) FenceSignaled(h metadata.Handle) bool {
	f, err := d.fence(h)
	return err == nil && f.isSignaled()
}

func (d *Device) DestroyFence(h metadata.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.fences, h)
}

func (d *Device) CommandContext(slot uint32) renderer.CommandContext {
	return d.commands[slot]
}

func (d *Device) Submit(slot uint32, cmd renderer.CommandContext, fenceHandle metadata.Handle) error {
	cb, ok := cmd.(*CommandBuffer)
	if !ok || cb.device != d {
		return errors.Newf("command context was not created by this device")
	}
	if cb.recording {
		return errors.Newf("command buffer of slot %d is still recording", slot)
	}
	f, err := d.fence(fenceHandle)
	if err != nil {
		return err
	}
	return d.enqueue(&submission{cmds: append([]command(nil), cb.cmds...), fence: f})
}

func (d *Device) ImmediateSubmit(ctx context.Context, record func(cmd renderer.CommandContext) error) error {
	cb := newCommandBuffer(d)
	if err := cb.Begin(); err != nil {
		return err
	}
	if err := record(cb); err != nil {
		return err
	}
	if err := cb.End(); err != nil {
		return err
	}
	f := newFence(false)
	if err := d.enqueue(&submission{cmds: cb.cmds, fence: f}); err != nil {
		return err
	}
	return f.wait(ctx)
}

func (d *Device) enqueue(s *submission) error {
	d.qmu.Lock()
	defer d.qmu.Unlock()
	for d.queue.IsFull() && !d.closed {
		d.qcond.Wait()
	}
	if d.closed {
		return errors.Wrap(core.ErrDeviceLost, "device destroyed")
	}
	if err := d.queue.Enqueue(s); err != nil {
		return err
	}
	d.qcond.Broadcast()
	return nil
}

func (d *Device) worker() {
	defer close(d.done)
	for {
		d.qmu.Lock()
		for (d.queue.IsEmpty() || d.paused) && !d.closed {
			d.qcond.Wait()
		}
		if d.closed {
			// nothing runs any more, release anyone waiting on a queued fence
			for !d.queue.IsEmpty() {
				s, _ := d.queue.Dequeue()
				s.fence.signal()
			}
			d.qmu.Unlock()
			return
		}
		s, _ := d.queue.Dequeue()
		d.executing = true
		d.qcond.Broadcast()
		d.qmu.Unlock()

		d.execute(s.cmds)
		s.fence.signal()

		d.qmu.Lock()
		d.executing = false
		d.qcond.Broadcast()
		d.qmu.Unlock()
	}
}

// Pause holds back execution of queued submissions until Resume. Fences of held
// submissions stay unsignaled.
func (d *Device) Pause() {
	d.qmu.Lock()
	defer d.qmu.Unlock()
	d.paused = true
}

func (d *Device) Resume() {
	d.qmu.Lock()
	defer d.qmu.Unlock()
	d.paused = false
	d.qcond.Broadcast()
}

// Pending returns the number of submissions queued or executing.
func (d *Device) Pending() int {
	d.qmu.Lock()
	defer d.qmu.Unlock()
	n := d.queue.Len()
	if d.executing {
		n++
	}
	return n
}

func (d *Device) AcquireImage(ctx context.Context, slot uint32) (uint32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	index := d.nextImage
	d.nextImage = (d.nextImage + 1) % uint32(len(d.swapchain))
	return index, nil
}

func (d *Device) Present(slot, imageIndex uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if imageIndex >= uint32(len(d.swapchain)) {
		return errors.Newf("present of unknown swapchain image %d", imageIndex)
	}
	d.stats.Presents++
	return nil
}

func (d *Device) SwapchainImages() []metadata.Handle {
	return d.swapchain
}

func (d *Device) SwapchainFormat() metadata.Format {
	return d.cfg.SwapchainFormat
}

func (d *Device) SwapchainExtent() metadata.Extent2D {
	return d.cfg.Extent
}

// WaitIdle blocks until the queue is drained. It must not be called while paused.
func (d *Device) WaitIdle() error {
	d.qmu.Lock()
	defer d.qmu.Unlock()
	for (!d.queue.IsEmpty() || d.executing) && !d.closed {
		if d.paused {
			return errors.New("WaitIdle on a paused device")
		}
		d.qcond.Wait()
	}
	return d.takeError()
}

func (d *Device) takeError() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	err := d.lastError
	d.lastError = nil
	return err
}

func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// AllocatedMemory returns the bytes currently held by buffers and images.
func (d *Device) AllocatedMemory() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.allocated
}

func (d *Device) Destroy() {
	d.qmu.Lock()
	if d.closed {
		d.qmu.Unlock()
		return
	}
	d.closed = true
	d.qcond.Broadcast()
	d.qmu.Unlock()
	<-d.done
	core.LogInfo("headless device destroyed")
}
