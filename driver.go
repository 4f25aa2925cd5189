package turbovk

import (
	vk "github.com/vulkan-go/vulkan"
)

// Driver is the slice of the Vulkan device API consumed by the backend:
// object creation and destruction, fence waits, queue submission and the
// device idle wait. The Device core calls the driver only through this
// interface, so tests can substitute a recording double and alternative
// loader setups stay possible.
//
// All calls are synchronous. Destroy calls cannot fail by API contract and
// return nothing.
type Driver interface {
	// CreateCommandPool creates a command pool for the given queue family.
	CreateCommandPool(queueFamily uint32) (vk.CommandPool, error)
	// AllocateCommandBuffer allocates one primary command buffer from pool.
	AllocateCommandBuffer(pool vk.CommandPool) (vk.CommandBuffer, error)
	// ResetCommandPool recycles every command buffer allocated from pool.
	ResetCommandPool(pool vk.CommandPool) error
	DestroyCommandPool(pool vk.CommandPool)

	// CreateFence creates a fence, optionally in the signaled state.
	CreateFence(signaled bool) (vk.Fence, error)
	DestroyFence(fence vk.Fence)
	// WaitForFences blocks until every listed fence is signaled. No timeout:
	// callers use this as the CPU-side backpressure point.
	WaitForFences(fences ...vk.Fence) error

	CreateSemaphore() (vk.Semaphore, error)
	DestroySemaphore(sem vk.Semaphore)

	CreateSampler(info *vk.SamplerCreateInfo) (vk.Sampler, error)
	DestroySampler(sampler vk.Sampler)

	DestroyImage(image vk.Image)
	DestroyBuffer(buffer vk.Buffer)

	AllocateDeviceMemory(size vk.DeviceSize, typeIndex uint32) (vk.DeviceMemory, error)
	FreeDeviceMemory(memory vk.DeviceMemory)

	CreateDescriptorPool(maxSets uint32, sizes []vk.DescriptorPoolSize, updateAfterBind bool) (vk.DescriptorPool, error)
	AllocateDescriptorSets(pool vk.DescriptorPool, layout vk.DescriptorSetLayout, count uint32) ([]vk.DescriptorSet, error)
	FreeDescriptorSets(pool vk.DescriptorPool, sets []vk.DescriptorSet) error
	DestroyDescriptorPool(pool vk.DescriptorPool)

	// Submit submits one command buffer to queue with a stage-scoped wait and
	// signal semaphore, fenced by fence. Pass vk.NullSemaphore to skip either
	// semaphore dependency.
	Submit(queue vk.Queue, cb vk.CommandBuffer, fence vk.Fence,
		signal vk.Semaphore, signalStage vk.PipelineStageFlags,
		wait vk.Semaphore, waitStage vk.PipelineStageFlags) error

	// DeviceWaitIdle blocks until the device has finished all submitted work.
	DeviceWaitIdle() error
	// DestroyDevice destroys the logical device. Nothing on the driver may be
	// called afterwards.
	DestroyDevice()
}

// vulkanDriver is the production Driver over a vulkan-go logical device.
type vulkanDriver struct {
	device vk.Device
}

// NewVulkanDriver wraps an existing logical device handle.
func NewVulkanDriver(device vk.Device) Driver {
	return &vulkanDriver{device: device}
}

func (d *vulkanDriver) CreateCommandPool(queueFamily uint32) (vk.CommandPool, error) {
	var pool vk.CommandPool
	ret := vk.CreateCommandPool(d.device, &vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: queueFamily,
	}, nil, &pool)
	return pool, newError("vkCreateCommandPool", ret)
}

func (d *vulkanDriver) AllocateCommandBuffer(pool vk.CommandPool) (vk.CommandBuffer, error) {
	buffers := make([]vk.CommandBuffer, 1)
	ret := vk.AllocateCommandBuffers(d.device, &vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}, buffers)
	return buffers[0], newError("vkAllocateCommandBuffers", ret)
}

func (d *vulkanDriver) ResetCommandPool(pool vk.CommandPool) error {
	return newError("vkResetCommandPool", vk.ResetCommandPool(d.device, pool, 0))
}

func (d *vulkanDriver) DestroyCommandPool(pool vk.CommandPool) {
	vk.DestroyCommandPool(d.device, pool, nil)
}

func (d *vulkanDriver) CreateFence(signaled bool) (vk.Fence, error) {
	info := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	if signaled {
		info.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	var fence vk.Fence
	ret := vk.CreateFence(d.device, &info, nil, &fence)
	return fence, newError("vkCreateFence", ret)
}

func (d *vulkanDriver) DestroyFence(fence vk.Fence) {
	vk.DestroyFence(d.device, fence, nil)
}

func (d *vulkanDriver) WaitForFences(fences ...vk.Fence) error {
	ret := vk.WaitForFences(d.device, uint32(len(fences)), fences, vk.True, vk.MaxUint64)
	return newError("vkWaitForFences", ret)
}

func (d *vulkanDriver) CreateSemaphore() (vk.Semaphore, error) {
	var sem vk.Semaphore
	ret := vk.CreateSemaphore(d.device, &vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}, nil, &sem)
	return sem, newError("vkCreateSemaphore", ret)
}

func (d *vulkanDriver) DestroySemaphore(sem vk.Semaphore) {
	vk.DestroySemaphore(d.device, sem, nil)
}

func (d *vulkanDriver) CreateSampler(info *vk.SamplerCreateInfo) (vk.Sampler, error) {
	var sampler vk.Sampler
	ret := vk.CreateSampler(d.device, info, nil, &sampler)
	return sampler, newError("vkCreateSampler", ret)
}

func (d *vulkanDriver) DestroySampler(sampler vk.Sampler) {
	vk.DestroySampler(d.device, sampler, nil)
}

func (d *vulkanDriver) DestroyImage(image vk.Image) {
	vk.DestroyImage(d.device, image, nil)
}

func (d *vulkanDriver) DestroyBuffer(buffer vk.Buffer) {
	vk.DestroyBuffer(d.device, buffer, nil)
}

func (d *vulkanDriver) AllocateDeviceMemory(size vk.DeviceSize, typeIndex uint32) (vk.DeviceMemory, error) {
	var memory vk.DeviceMemory
	ret := vk.AllocateMemory(d.device, &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  size,
		MemoryTypeIndex: typeIndex,
	}, nil, &memory)
	return memory, newError("vkAllocateMemory", ret)
}

func (d *vulkanDriver) FreeDeviceMemory(memory vk.DeviceMemory) {
	vk.FreeMemory(d.device, memory, nil)
}

func (d *vulkanDriver) CreateDescriptorPool(maxSets uint32, sizes []vk.DescriptorPoolSize, updateAfterBind bool) (vk.DescriptorPool, error) {
	flags := vk.DescriptorPoolCreateFlags(vk.DescriptorPoolCreateFreeDescriptorSetBit)
	if updateAfterBind {
		flags |= vk.DescriptorPoolCreateFlags(vk.DescriptorPoolCreateUpdateAfterBindBit)
	}
	var pool vk.DescriptorPool
	ret := vk.CreateDescriptorPool(d.device, &vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		Flags:         flags,
		MaxSets:       maxSets,
		PoolSizeCount: uint32(len(sizes)),
		PPoolSizes:    sizes,
	}, nil, &pool)
	return pool, newError("vkCreateDescriptorPool", ret)
}

func (d *vulkanDriver) AllocateDescriptorSets(pool vk.DescriptorPool, layout vk.DescriptorSetLayout, count uint32) ([]vk.DescriptorSet, error) {
	layouts := make([]vk.DescriptorSetLayout, count)
	for i := range layouts {
		layouts[i] = layout
	}
	sets := make([]vk.DescriptorSet, count)
	ret := vk.AllocateDescriptorSets(d.device, &vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     pool,
		DescriptorSetCount: count,
		PSetLayouts:        layouts,
	}, &sets[0])
	if err := newError("vkAllocateDescriptorSets", ret); err != nil {
		return nil, err
	}
	return sets, nil
}

func (d *vulkanDriver) FreeDescriptorSets(pool vk.DescriptorPool, sets []vk.DescriptorSet) error {
	if len(sets) == 0 {
		return nil
	}
	ret := vk.FreeDescriptorSets(d.device, pool, uint32(len(sets)), &sets[0])
	return newError("vkFreeDescriptorSets", ret)
}

func (d *vulkanDriver) DestroyDescriptorPool(pool vk.DescriptorPool) {
	vk.DestroyDescriptorPool(d.device, pool, nil)
}

func (d *vulkanDriver) Submit(queue vk.Queue, cb vk.CommandBuffer, fence vk.Fence,
	signal vk.Semaphore, signalStage vk.PipelineStageFlags,
	wait vk.Semaphore, waitStage vk.PipelineStageFlags) error {

	info := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{cb},
	}
	if wait != vk.NullSemaphore {
		info.WaitSemaphoreCount = 1
		info.PWaitSemaphores = []vk.Semaphore{wait}
		info.PWaitDstStageMask = []vk.PipelineStageFlags{waitStage}
	}
	if signal != vk.NullSemaphore {
		info.SignalSemaphoreCount = 1
		info.PSignalSemaphores = []vk.Semaphore{signal}
	}
	// Core 1.1 vkQueueSubmit has no per-semaphore signal stage mask; signal
	// semaphores fire at the end of the batch. signalStage is accepted for
	// drivers that can scope the signal (synchronization2).
	ret := vk.QueueSubmit(queue, 1, []vk.SubmitInfo{info}, fence)
	return newError("vkQueueSubmit", ret)
}

func (d *vulkanDriver) DeviceWaitIdle() error {
	return newError("vkDeviceWaitIdle", vk.DeviceWaitIdle(d.device))
}

func (d *vulkanDriver) DestroyDevice() {
	vk.DestroyDevice(d.device, nil)
}
