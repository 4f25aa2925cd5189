// Package turbovk is the resource-lifetime and frame-synchronization core of
// a Vulkan rendering backend. It decides when GPU objects are safe to destroy
// (two-frame deferred reclamation through DropLists) and paces CPU submission
// against two in-flight frame slots.
package turbovk

import (
	"log"
	"sync"

	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
)

// Queue is the graphics/compute queue the Device submits to.
type Queue struct {
	raw    vk.Queue
	family uint32
}

// Raw returns the Vulkan queue handle.
func (q Queue) Raw() vk.Queue { return q.raw }

// Family returns the queue family index the queue belongs to.
func (q Queue) Family() uint32 { return q.family }

// frameSlot pairs one deviceFrame with an explicit ownership tag. The tag
// replaces a refcount-uniqueness check: BeginFrame requires the tag to be
// idle and trips a contract violation otherwise.
type frameSlot struct {
	mu    sync.Mutex
	owned bool
	frame *deviceFrame
}

// DeviceOptions tunes Device construction. The zero value selects defaults.
type DeviceOptions struct {
	Memory                AllocatorConfig
	DescriptorSetsPerPool uint32
}

func (o *DeviceOptions) withDefaults() DeviceOptions {
	opts := DeviceOptions{Memory: DefaultAllocatorConfig()}
	if o != nil {
		if o.Memory.BlockSize != 0 {
			opts.Memory.BlockSize = o.Memory.BlockSize
		}
		if o.Memory.DedicatedThreshold != 0 {
			opts.Memory.DedicatedThreshold = o.Memory.DedicatedThreshold
		}
		opts.DescriptorSetsPerPool = o.DescriptorSetsPerPool
	}
	return opts
}

// Device owns the two in-flight frame slots, the process-wide current drop
// list, both resource allocators and the immutable sampler cache. Each shared
// resource sits behind its own lock, so retiring a resource never contends
// with an unrelated allocation.
//
// Exactly one frame may be open at a time. The frame loop is single-producer:
// one goroutine drives BeginFrame/End, while Retire* and the allocation
// methods may be called from any goroutine at any point in the application's
// lifetime.
type Device struct {
	drv   Driver
	queue Queue

	// slots[0] is next to acquire, slots[1] finished two frames ago.
	// Frame.End swaps the frames between them, never copies.
	slots [2]*frameSlot

	currentMu sync.Mutex
	current   *DropList

	memoryMu      sync.Mutex
	memory        MemoryAllocator
	descriptorsMu sync.Mutex
	descriptors   DescriptorAllocator

	samplers map[SamplerDesc]vk.Sampler
}

// NewDevice builds a Device over an already-created logical device wrapped in
// drv, submitting to queue of the given family. Construction is atomic: on
// any failure everything created so far is destroyed and no Device is
// returned.
func NewDevice(drv Driver, queue vk.Queue, queueFamily uint32, opts *DeviceOptions) (*Device, error) {
	o := opts.withDefaults()
	d := &Device{
		drv:         drv,
		queue:       Queue{raw: queue, family: queueFamily},
		current:     &DropList{},
		memory:      NewBlockAllocator(o.Memory),
		descriptors: NewPoolDescriptorAllocator(o.DescriptorSetsPerPool),
	}
	for i := range d.slots {
		frame, err := newDeviceFrame(drv, queueFamily)
		if err != nil {
			for j := 0; j < i; j++ {
				d.slots[j].frame.free(drv)
			}
			return nil, err
		}
		d.slots[i] = &frameSlot{frame: frame}
	}
	samplers, err := buildSamplerCache(drv)
	if err != nil {
		for _, s := range d.slots {
			s.frame.free(drv)
		}
		return nil, err
	}
	d.samplers = samplers
	log.Printf("vulkan: device ready, queue family %d, %d cached samplers", queueFamily, len(samplers))
	return d, nil
}

// Queue returns the device's graphics/compute queue.
func (d *Device) Queue() Queue { return d.queue }

// RetireImage schedules an image for destruction once the GPU can no longer
// be using it. Legal at any time, frame open or not.
func (d *Device) RetireImage(image vk.Image) {
	d.currentMu.Lock()
	d.current.RetireImage(image)
	d.currentMu.Unlock()
}

// RetireBuffer schedules a buffer for deferred destruction.
func (d *Device) RetireBuffer(buffer vk.Buffer) {
	d.currentMu.Lock()
	d.current.RetireBuffer(buffer)
	d.currentMu.Unlock()
}

// RetireMemory schedules a memory block for deferred return to the allocator.
func (d *Device) RetireMemory(block MemoryBlock) {
	d.currentMu.Lock()
	d.current.RetireMemory(block)
	d.currentMu.Unlock()
}

// RetireDescriptorSets schedules descriptor sets for deferred return.
func (d *Device) RetireDescriptorSets(sets ...DescriptorSet) {
	d.currentMu.Lock()
	for _, s := range sets {
		d.current.RetireDescriptorSet(s)
	}
	d.currentMu.Unlock()
}

// AllocateMemory allocates device memory through the pooled allocator.
// Failures carry the request, see MemoryAllocationError.
func (d *Device) AllocateMemory(req MemoryRequest) (MemoryBlock, error) {
	d.memoryMu.Lock()
	defer d.memoryMu.Unlock()
	return d.memory.Alloc(d.drv, req)
}

// AllocateDescriptorSets allocates count sets of layout. bindless requests
// update-after-bind semantics for the returned sets.
func (d *Device) AllocateDescriptorSets(layout vk.DescriptorSetLayout, counts DescriptorCounts, count uint32, bindless bool) ([]DescriptorSet, error) {
	d.descriptorsMu.Lock()
	defer d.descriptorsMu.Unlock()
	return d.descriptors.Allocate(d.drv, layout, counts, count, bindless)
}

// GetSampler looks up an immutable sampler in the precomputed cache. The
// second result is false only for combinations outside the cross-product the
// cache was built from.
func (d *Device) GetSampler(desc SamplerDesc) (vk.Sampler, bool) {
	sampler, ok := d.samplers[desc]
	return sampler, ok
}

// Frame is an open frame: slot resources bundled with the submission queue.
// It must be closed with End before the next BeginFrame.
type Frame struct {
	device *Device
	frame  *deviceFrame
	queue  Queue
}

// BeginFrame opens the next frame. It blocks until both command-buffer fences
// of the acquired slot have signaled; those fences are two frames old, so
// this wait is the backpressure that keeps the CPU at most two frames ahead
// of the GPU. It then destroys everything retired two frames ago and adopts
// the resources retired since the previous BeginFrame into the slot.
//
// Calling BeginFrame while a frame is still open is a caller bug and panics.
func (d *Device) BeginFrame() (*Frame, error) {
	s := d.slots[0]
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owned {
		orPanic(errors.New("vulkan: BeginFrame called while the previous frame is still open"))
	}
	f := s.frame
	if err := d.drv.WaitForFences(f.fences()...); err != nil {
		return nil, err
	}
	d.memoryMu.Lock()
	d.descriptorsMu.Lock()
	err := f.reset(d.drv, d.memory, d.descriptors)
	d.descriptorsMu.Unlock()
	d.memoryMu.Unlock()
	if err != nil {
		return nil, err
	}
	// Adopt the process-wide list: everything retired since the previous
	// BeginFrame now belongs to this frame and is destroyed two BeginFrames
	// from now. Pointer swap, O(1).
	d.currentMu.Lock()
	f.drops, d.current = d.current, f.drops
	d.currentMu.Unlock()
	s.owned = true
	return &Frame{device: d, frame: f, queue: d.queue}, nil
}

// MainCommandBuffer returns the frame's primary rendering command buffer.
func (f *Frame) MainCommandBuffer() *CommandBuffer { return f.frame.mainCB }

// PresentCommandBuffer returns the frame's presentation command buffer.
func (f *Frame) PresentCommandBuffer() *CommandBuffer { return f.frame.presentCB }

// AcquiredSemaphore returns the semaphore the presentation layer signals when
// the frame's backbuffer is ready.
func (f *Frame) AcquiredSemaphore() vk.Semaphore { return f.frame.acquiredSem }

// RenderCompleteSemaphore returns the semaphore rendering signals for the
// presentation layer to wait on.
func (f *Frame) RenderCompleteSemaphore() vk.Semaphore { return f.frame.renderDoneSem }

// Queue returns the queue this frame submits to.
func (f *Frame) Queue() Queue { return f.queue }

// Submit submits one command buffer with stage-scoped wait and signal
// semaphore dependencies, fenced by the command buffer's own fence. Queue
// failures are unrecoverable for the frame; Submit never retries.
func (f *Frame) Submit(cb *CommandBuffer,
	signal vk.Semaphore, signalStage vk.PipelineStageFlags,
	wait vk.Semaphore, waitStage vk.PipelineStageFlags) error {

	return f.device.drv.Submit(f.queue.raw, cb.raw, cb.fence, signal, signalStage, wait, waitStage)
}

// End closes the frame and rotates the slots: the frame just ended becomes
// "previous" and the previous frame, already GPU-idle from the fence wait two
// steps back, becomes the next BeginFrame target. The rotation is a swap of
// the two slots' frames, never a copy.
//
// Ending a frame twice is a caller bug and panics. The slot lock order is
// fixed (0 then 1) and BeginFrame only ever takes slot 0, so End cannot
// deadlock against a concurrent BeginFrame.
func (f *Frame) End() {
	d := f.device
	s := d.slots[0]
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.owned {
		orPanic(errors.New("vulkan: frame ended twice"))
	}
	s.owned = false
	prev := d.slots[1]
	prev.mu.Lock()
	s.frame, prev.frame = prev.frame, s.frame
	prev.mu.Unlock()
}

// Destroy tears the device down: waits for the GPU to go fully idle, drains
// the process-wide drop list, resets and frees both frame slots, releases the
// allocators' pooled backing memory and finally destroys the logical device.
// The allocators are cleaned up last so every DropList cleanup can still
// return blocks and sets to them.
//
// The idle wait is the only recoverable step; once destruction has begun,
// driver failures have no safe fallback and panic.
//
// Destroy must not run concurrently with BeginFrame or an open frame; the
// frame loop has to be stopped first.
func (d *Device) Destroy() error {
	if err := d.drv.DeviceWaitIdle(); err != nil {
		return err
	}
	d.memoryMu.Lock()
	defer d.memoryMu.Unlock()
	d.descriptorsMu.Lock()
	defer d.descriptorsMu.Unlock()

	d.currentMu.Lock()
	d.current.cleanup(d.drv, d.memory, d.descriptors)
	d.currentMu.Unlock()

	for _, s := range d.slots {
		s.mu.Lock()
		orPanic(s.frame.reset(d.drv, d.memory, d.descriptors))
		s.frame.free(d.drv)
		s.mu.Unlock()
	}
	destroySamplerCache(d.drv, d.samplers)
	d.samplers = nil
	d.memory.Cleanup(d.drv)
	d.descriptors.Cleanup(d.drv)
	d.drv.DestroyDevice()
	log.Printf("vulkan: device destroyed")
	return nil
}
