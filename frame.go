package turbovk

import (
	vk "github.com/vulkan-go/vulkan"
)

// CommandBuffer pairs a pre-allocated primary command buffer with the fence
// covering its most recent submission. The fence starts signaled so the first
// BeginFrame on a fresh slot does not block.
type CommandBuffer struct {
	raw   vk.CommandBuffer
	fence vk.Fence
}

func newCommandBuffer(drv Driver, pool vk.CommandPool) (*CommandBuffer, error) {
	raw, err := drv.AllocateCommandBuffer(pool)
	if err != nil {
		return nil, err
	}
	fence, err := drv.CreateFence(true)
	if err != nil {
		return nil, err
	}
	return &CommandBuffer{raw: raw, fence: fence}, nil
}

// Raw returns the Vulkan command buffer handle for recording.
func (c *CommandBuffer) Raw() vk.CommandBuffer {
	return c.raw
}

// Fence returns the fence tied to this command buffer's submissions.
func (c *CommandBuffer) Fence() vk.Fence {
	return c.fence
}

func (c *CommandBuffer) free(drv Driver) {
	if c.fence != vk.NullFence {
		drv.DestroyFence(c.fence)
		c.fence = vk.NullFence
	}
}

// deviceFrame holds the command-recording and synchronization resources owned
// by one in-flight frame slot, plus the drop list of resources retired during
// the frame that last used the slot. Both instances are created at Device
// construction and reused for the process lifetime.
type deviceFrame struct {
	pool          vk.CommandPool
	acquiredSem   vk.Semaphore
	renderDoneSem vk.Semaphore
	mainCB        *CommandBuffer
	presentCB     *CommandBuffer
	drops         *DropList
}

// newDeviceFrame creates the slot resources: one command pool, two command
// buffers with initially-signaled fences and the acquire/render-complete
// semaphore pair. Partially created state is rolled back on failure.
func newDeviceFrame(drv Driver, queueFamily uint32) (*deviceFrame, error) {
	f := &deviceFrame{drops: &DropList{}}
	pool, err := drv.CreateCommandPool(queueFamily)
	if err != nil {
		return nil, err
	}
	f.pool = pool
	if f.acquiredSem, err = drv.CreateSemaphore(); err != nil {
		f.free(drv)
		return nil, err
	}
	if f.renderDoneSem, err = drv.CreateSemaphore(); err != nil {
		f.free(drv)
		return nil, err
	}
	if f.mainCB, err = newCommandBuffer(drv, pool); err != nil {
		f.free(drv)
		return nil, err
	}
	if f.presentCB, err = newCommandBuffer(drv, pool); err != nil {
		f.free(drv)
		return nil, err
	}
	return f, nil
}

// fences lists the fences that must be signaled before the slot is reusable.
func (f *deviceFrame) fences() []vk.Fence {
	return []vk.Fence{f.mainCB.fence, f.presentCB.fence}
}

// reset recycles the command pool and destroys everything this slot retired
// two frames ago. The caller must already have waited on both fences.
func (f *deviceFrame) reset(drv Driver, mem MemoryAllocator, desc DescriptorAllocator) error {
	if err := drv.ResetCommandPool(f.pool); err != nil {
		return err
	}
	f.drops.cleanup(drv, mem, desc)
	return nil
}

// free destroys the slot's pool, fences and semaphores. Only called at Device
// teardown, after a full reset, or to roll back a failed newDeviceFrame.
func (f *deviceFrame) free(drv Driver) {
	if f.mainCB != nil {
		f.mainCB.free(drv)
		f.mainCB = nil
	}
	if f.presentCB != nil {
		f.presentCB.free(drv)
		f.presentCB = nil
	}
	if f.acquiredSem != vk.NullSemaphore {
		drv.DestroySemaphore(f.acquiredSem)
		f.acquiredSem = vk.NullSemaphore
	}
	if f.renderDoneSem != vk.NullSemaphore {
		drv.DestroySemaphore(f.renderDoneSem)
		f.renderDoneSem = vk.NullSemaphore
	}
	if f.pool != vk.NullCommandPool {
		drv.DestroyCommandPool(f.pool)
		f.pool = vk.NullCommandPool
	}
}
