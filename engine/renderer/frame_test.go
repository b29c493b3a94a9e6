package renderer_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

func camera() metadata.CameraState {
	var c metadata.CameraState
	c.View[0], c.View[5], c.View[10], c.View[15] = 1, 1, 1, 1
	c.Projection = c.View
	return c
}

func TestFrameSlotsCycle(t *testing.T) {
	for _, n := range []uint32{1, 2, 3} {
		d := newDevice(t, n)
		fm, err := renderer.NewFrameMultiplexer(d)
		require.NoError(t, err)

		var slots []uint32
		for i := 0; i < 7; i++ {
			frame, err := fm.BeginFrame(context.Background(), 0.016, camera(), nil)
			require.NoError(t, err)
			assert.Equal(t, uint64(i), frame.FrameIndex)
			assert.Equal(t, renderer.SlotRecording, fm.SlotState(frame.SlotIndex))
			frame.FlushGlobals()
			slots = append(slots, frame.SlotIndex)
			require.NoError(t, fm.EndFrame())
		}
		for i, s := range slots {
			assert.Equal(t, uint32(i)%n, s)
		}
		require.NoError(t, fm.WaitIdle(context.Background()))
		fm.Destroy()
	}
}

func TestBeginFrameWaitsForSlotFence(t *testing.T) {
	d := newDevice(t, 2)
	fm, err := renderer.NewFrameMultiplexer(d)
	require.NoError(t, err)
	defer fm.Destroy()

	// hold the device so nothing submitted completes
	d.Pause()
	for i := 0; i < 2; i++ {
		_, err := fm.BeginFrame(context.Background(), 0, camera(), nil)
		require.NoError(t, err)
		require.NoError(t, fm.EndFrame())
	}
	assert.Equal(t, renderer.SlotSubmitted, fm.SlotState(0))

	type result struct {
		frame   *renderer.FrameInfo
		pending int
		err     error
	}
	returned := make(chan result, 1)
	go func() {
		frame, err := fm.BeginFrame(context.Background(), 0, camera(), nil)
		returned <- result{frame: frame, pending: d.Pending(), err: err}
	}()

	select {
	case <-returned:
		t.Fatal("BeginFrame returned while slot 0 was still in flight")
	case <-time.After(100 * time.Millisecond):
	}

	d.Resume()
	select {
	case r := <-returned:
		require.NoError(t, r.err)
		assert.Equal(t, uint32(0), r.frame.SlotIndex)
		// slot 0's work completed before BeginFrame handed the slot back
		assert.LessOrEqual(t, r.pending, 1)
	case <-time.After(5 * time.Second):
		t.Fatal("BeginFrame did not return after the device resumed")
	}
	require.NoError(t, fm.EndFrame())
	require.NoError(t, fm.WaitIdle(context.Background()))
}

func TestBeginFrameHonoursContext(t *testing.T) {
	d := newDevice(t, 1)
	fm, err := renderer.NewFrameMultiplexer(d)
	require.NoError(t, err)

	d.Pause()
	_, err = fm.BeginFrame(context.Background(), 0, camera(), nil)
	require.NoError(t, err)
	require.NoError(t, fm.EndFrame())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = fm.BeginFrame(ctx, 0, camera(), nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	d.Resume()
	require.NoError(t, fm.WaitIdle(context.Background()))
	fm.Destroy()
}

func TestEndFrameWithoutBegin(t *testing.T) {
	d := newDevice(t, 2)
	fm, err := renderer.NewFrameMultiplexer(d)
	require.NoError(t, err)
	defer fm.Destroy()
	assert.Error(t, fm.EndFrame())
}

func TestGlobalsFlushIntoSlotBuffer(t *testing.T) {
	d := newDevice(t, 2)
	fm, err := renderer.NewFrameMultiplexer(d)
	require.NoError(t, err)
	defer fm.Destroy()

	frame, err := fm.BeginFrame(context.Background(), 0, camera(), nil)
	require.NoError(t, err)
	frame.UBO.Params[0] = 42
	frame.FlushGlobals()

	w, ok := frame.GlobalSet.Written(0)
	require.True(t, ok)
	assert.Equal(t, metadata.GlobalUBOSize, w.Buffer.Range)
	data, err := d.MapBuffer(w.Buffer.Buffer, 0, metadata.GlobalUBOSize)
	require.NoError(t, err)
	assert.Equal(t, frame.UBO.Bytes(), data)
	require.NoError(t, fm.EndFrame())
}
