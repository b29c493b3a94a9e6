package headless

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

type opcode uint8

const (
	opBeginRenderPass opcode = iota
	opNextSubpass
	opEndRenderPass
	opTransition
	opBindPipeline
	opBindDescriptorSets
	opBindVertexBuffer
	opBindIndexBuffer
	opPushConstants
	opSetViewport
	opSetScissor
	opDraw
	opDrawIndexed
)

type command struct {
	op          opcode
	handle      metadata.Handle
	handle2     metadata.Handle
	handles     []metadata.Handle
	extent      metadata.Extent2D
	clears      []metadata.ClearValue
	offset      uint64
	first       uint32
	count       uint32
	instances   uint32
	data        []byte
	from, to    metadata.ImageLayout
	vertexShift int32
}

// CommandBuffer records commands for the worker to execute.
type CommandBuffer struct {
	device    *Device
	recording bool
	inPass    bool
	cmds      []command
	err       error
}

var _ renderer.CommandContext = (*CommandBuffer)(nil)

func newCommandBuffer(d *Device) *CommandBuffer {
	return &CommandBuffer{device: d}
}

func (c *CommandBuffer) Begin() error {
	if c.recording {
		return errors.New("command buffer already recording")
	}
	c.recording = true
	c.cmds = c.cmds[:0]
	c.err = nil
	return nil
}

func (c *CommandBuffer) End() error {
	if !c.recording {
		return errors.New("command buffer is not recording")
	}
	c.recording = false
	if c.inPass {
		c.inPass = false
		return errors.New("command buffer ended inside a render pass")
	}
	return c.err
}

func (c *CommandBuffer) Reset() error {
	c.recording = false
	c.inPass = false
	c.cmds = nil
	c.err = nil
	return nil
}

// Commands returns the number of commands recorded since Begin.
func (c *CommandBuffer) Commands() int {
	return len(c.cmds)
}

func (c *CommandBuffer) record(cmd command) {
	if !c.recording {
		if c.err == nil {
			c.err = errors.New("command recorded outside Begin/End")
		}
		return
	}
	c.cmds = append(c.cmds, cmd)
}

func (c *CommandBuffer) fail(format string, args ...interface{}) {
	if c.err == nil {
		c.err = errors.Newf(format, args...)
	}
}

func (c *CommandBuffer) BeginRenderPass(pass, framebuffer metadata.Handle, extent metadata.Extent2D, clears []metadata.ClearValue) {
	if c.inPass {
		c.fail("render pass begun inside another render pass")
		return
	}
	c.inPass = true
	c.record(command{op: opBeginRenderPass, handle: pass, handle2: framebuffer, extent: extent, clears: append([]metadata.ClearValue(nil), clears...)})
}

func (c *CommandBuffer) NextSubpass() {
	c.record(command{op: opNextSubpass})
}

func (c *CommandBuffer) EndRenderPass() {
	if !c.inPass {
		c.fail("render pass ended outside a render pass")
		return
	}
	c.inPass = false
	c.record(command{op: opEndRenderPass})
}

func (c *CommandBuffer) TransitionImage(image metadata.Handle, from, to metadata.ImageLayout) {
	if c.inPass {
		c.fail("image transition inside a render pass")
		return
	}
	c.record(command{op: opTransition, handle: image, from: from, to: to})
}

func (c *CommandBuffer) BindPipeline(pipeline metadata.Handle) {
	c.record(command{op: opBindPipeline, handle: pipeline})
}

func (c *CommandBuffer) BindDescriptorSets(pipeline metadata.Handle, firstSet uint32, sets []metadata.Handle) {
	c.record(command{op: opBindDescriptorSets, handle: pipeline, first: firstSet, handles: append([]metadata.Handle(nil), sets...)})
}

func (c *CommandBuffer) BindVertexBuffer(buffer metadata.Handle, offset uint64) {
	c.record(command{op: opBindVertexBuffer, handle: buffer, offset: offset})
}

func (c *CommandBuffer) BindIndexBuffer(buffer metadata.Handle, offset uint64) {
	c.record(command{op: opBindIndexBuffer, handle: buffer, offset: offset})
}

func (c *CommandBuffer) PushConstants(pipeline metadata.Handle, stages metadata.ShaderStage, offset uint32, data []byte) {
	if offset+uint32(len(data)) > metadata.MaxPushConstantSize {
		c.fail("push constants %d+%d exceed %d bytes", offset, len(data), metadata.MaxPushConstantSize)
		return
	}
	c.record(command{op: opPushConstants, handle: pipeline, first: offset, data: append([]byte(nil), data...)})
}

func (c *CommandBuffer) SetViewport(x, y, width, height float32) {
	c.record(command{op: opSetViewport})
}

func (c *CommandBuffer) SetScissor(x, y int32, width, height uint32) {
	c.record(command{op: opSetScissor})
}

func (c *CommandBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	if !c.inPass {
		c.fail("draw outside a render pass")
		return
	}
	c.record(command{op: opDraw, count: vertexCount, instances: instanceCount, first: firstVertex})
}

func (c *CommandBuffer) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	if !c.inPass {
		c.fail("indexed draw outside a render pass")
		return
	}
	c.record(command{op: opDrawIndexed, count: indexCount, instances: instanceCount, first: firstIndex, vertexShift: vertexOffset})
}

// executionState is the bound state while the worker replays a command stream.
type executionState struct {
	pass         metadata.RenderPassDescription
	framebuffer  metadata.FramebufferDescription
	inPass       bool
	pipeline     metadata.Handle
	sets         map[uint32]metadata.Handle
	vertexBuffer metadata.Handle
	indexBuffer  metadata.Handle
	push         [metadata.MaxPushConstantSize]byte
}

// fragmentContext exposes the bound state to a FragmentProgram.
type fragmentContext struct {
	d     *Device
	state *executionState
}

func (fc *fragmentContext) Texture(setIndex, binding uint32) metadata.TextureSampler {
	h, ok := fc.state.sets[setIndex]
	if !ok {
		return nil
	}
	s, ok := fc.d.sets[h]
	if !ok {
		return nil
	}
	w, ok := s.writes[binding]
	if !ok {
		return nil
	}
	img, ok := fc.d.images[w.Image.Image]
	if !ok {
		return nil
	}
	return &boundTexture{img: img, sampler: fc.d.samplers[w.Image.Sampler]}
}

func (fc *fragmentContext) PushConstants() []byte {
	return fc.state.push[:]
}

func (d *Device) execute(cmds []command) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.Submissions++

	st := &executionState{sets: make(map[uint32]metadata.Handle)}
	for _, cmd := range cmds {
		if err := d.executeOne(st, cmd); err != nil {
			if d.lastError == nil {
				d.lastError = errors.Wrap(err, "headless execution")
			}
			return
		}
	}
}

func (d *Device) executeOne(st *executionState, cmd command) error {
	switch cmd.op {
	case opBeginRenderPass:
		pass, ok := d.passes[cmd.handle]
		if !ok {
			return errors.Newf("unknown render pass %d", cmd.handle)
		}
		fb, ok := d.framebuffers[cmd.handle2]
		if !ok {
			return errors.Newf("unknown framebuffer %d", cmd.handle2)
		}
		st.pass = pass
		st.framebuffer = fb
		st.inPass = true
		d.stats.RenderPasses++
		for i, att := range pass.Attachments {
			if att.LoadOp != metadata.LoadOpClear {
				continue
			}
			img, ok := d.images[fb.Attachments[i]]
			if !ok {
				return errors.Newf("framebuffer attachment %d is gone", i)
			}
			var clear metadata.ClearValue
			if i < len(cmd.clears) {
				clear = cmd.clears[i]
			}
			if att.Format.IsDepth() {
				img.fill([4]float32{clear.Depth, 0, 0, 0})
			} else {
				img.fill(clear.Colour)
			}
		}
	case opEndRenderPass:
		st.inPass = false
	case opBindPipeline:
		if _, ok := d.pipelines[cmd.handle]; !ok {
			return errors.Newf("unknown pipeline %d", cmd.handle)
		}
		st.pipeline = cmd.handle
	case opBindDescriptorSets:
		for i, h := range cmd.handles {
			if _, ok := d.sets[h]; !ok {
				return errors.Newf("descriptor set %d was freed before execution", h)
			}
			st.sets[cmd.first+uint32(i)] = h
		}
	case opBindVertexBuffer:
		if _, ok := d.buffers[cmd.handle]; !ok {
			return errors.Newf("unknown vertex buffer %d", cmd.handle)
		}
		st.vertexBuffer = cmd.handle
	case opBindIndexBuffer:
		if _, ok := d.buffers[cmd.handle]; !ok {
			return errors.Newf("unknown index buffer %d", cmd.handle)
		}
		st.indexBuffer = cmd.handle
	case opPushConstants:
		copy(st.push[cmd.first:], cmd.data)
	case opDraw:
		d.stats.Draws++
		if st.pipeline.IsNull() {
			return errors.New("draw without a bound pipeline")
		}
		pipeline := d.pipelines[st.pipeline]
		if pipeline.Fragment != nil && len(pipeline.VertexBindings) == 0 && cmd.count == 3 {
			return d.runFullscreen(st, pipeline.Fragment)
		}
	case opDrawIndexed:
		d.stats.Draws++
		if st.pipeline.IsNull() {
			return errors.New("indexed draw without a bound pipeline")
		}
		if st.indexBuffer.IsNull() || st.vertexBuffer.IsNull() {
			return errors.New("indexed draw without vertex and index buffers")
		}
		ib := d.buffers[st.indexBuffer]
		if uint64(cmd.first+cmd.count)*4 > ib.desc.Size {
			return errors.Newf("indexed draw reads past the index buffer")
		}
	}
	return nil
}

// runFullscreen evaluates program once per pixel of the first colour attachment.
func (d *Device) runFullscreen(st *executionState, program metadata.FragmentProgram) error {
	if !st.inPass {
		return errors.New("full-screen draw outside a render pass")
	}
	var target *image
	for i, att := range st.pass.Attachments {
		if !att.Format.IsDepth() {
			target = d.images[st.framebuffer.Attachments[i]]
			break
		}
	}
	if target == nil {
		return errors.New("full-screen draw without a colour attachment")
	}
	d.stats.FullscreenDraws++

	fc := &fragmentContext{d: d, state: st}
	w := int(target.desc.Extent.Width)
	h := int(target.desc.Extent.Height)
	for y := 0; y < h; y++ {
		v := (float32(y) + 0.5) / float32(h)
		for x := 0; x < w; x++ {
			u := (float32(x) + 0.5) / float32(w)
			target.store(y*w+x, program(fc, u, v))
		}
	}
	return nil
}
