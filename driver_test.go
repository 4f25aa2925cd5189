package turbovk

import (
	"sync"
	"unsafe"

	vk "github.com/vulkan-go/vulkan"
)

// Handles in vulkan-go are cgo pointer types on 64-bit platforms, so the fake
// driver mints unique non-null handles. The backing storage is a package-level
// arena rather than per-handle Go allocations: the handle types are notinheap,
// and reflect.DeepEqual panics on notinheap pointers that point into the Go
// heap.
var (
	handleMu    sync.Mutex
	handleArena [1 << 20]byte
	handleNext  int
)

func mintHandle() unsafe.Pointer {
	handleMu.Lock()
	defer handleMu.Unlock()
	handleNext++
	return unsafe.Pointer(&handleArena[handleNext])
}

// fakeFence models a fence the test controls. A nil ready channel means the
// fence is signaled.
type fakeFence struct {
	mu    sync.Mutex
	ready chan struct{}
}

func (f *fakeFence) signaled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready == nil
}

func (f *fakeFence) signal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ready != nil {
		close(f.ready)
		f.ready = nil
	}
}

func (f *fakeFence) unsignal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ready == nil {
		f.ready = make(chan struct{})
	}
}

func (f *fakeFence) wait() {
	f.mu.Lock()
	ready := f.ready
	f.mu.Unlock()
	if ready != nil {
		<-ready
	}
}

type fakeSubmit struct {
	queue  vk.Queue
	cb     vk.CommandBuffer
	fence  vk.Fence
	signal vk.Semaphore
	wait   vk.Semaphore
}

// fakeDriver is a recording Driver double: it mints unique handles, counts
// creations and destructions per object kind and injects failures on demand.
type fakeDriver struct {
	mu sync.Mutex

	created   map[string]int
	destroyed map[string]int

	// failCreate makes the next creation call of the given kind fail.
	failCreate map[string]bool
	failSubmit bool
	failWait   bool
	failIdle   bool

	fences map[vk.Fence]*fakeFence

	destroyedImages   []vk.Image
	destroyedBuffers  []vk.Buffer
	freedMemory       []vk.DeviceMemory
	freedSets         []vk.DescriptorSet
	bindlessPools     map[vk.DescriptorPool]bool
	commandPoolResets int
	submits           []fakeSubmit
	idleWaits         int
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		created:       make(map[string]int),
		destroyed:     make(map[string]int),
		failCreate:    make(map[string]bool),
		fences:        make(map[vk.Fence]*fakeFence),
		bindlessPools: make(map[vk.DescriptorPool]bool),
	}
}

func (d *fakeDriver) count(m map[string]int, kind string) {
	d.mu.Lock()
	m[kind]++
	d.mu.Unlock()
}

func (d *fakeDriver) createdCount(kind string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.created[kind]
}

func (d *fakeDriver) destroyedCount(kind string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.destroyed[kind]
}

func (d *fakeDriver) checkFail(kind string, op string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failCreate[kind] {
		return newError(op, vk.ErrorOutOfDeviceMemory)
	}
	return nil
}

func (d *fakeDriver) CreateCommandPool(queueFamily uint32) (vk.CommandPool, error) {
	if err := d.checkFail("commandPool", "vkCreateCommandPool"); err != nil {
		return vk.NullCommandPool, err
	}
	d.count(d.created, "commandPool")
	return vk.CommandPool(mintHandle()), nil
}

func (d *fakeDriver) AllocateCommandBuffer(pool vk.CommandPool) (vk.CommandBuffer, error) {
	if err := d.checkFail("commandBuffer", "vkAllocateCommandBuffers"); err != nil {
		return nil, err
	}
	d.count(d.created, "commandBuffer")
	return vk.CommandBuffer(mintHandle()), nil
}

func (d *fakeDriver) ResetCommandPool(pool vk.CommandPool) error {
	d.mu.Lock()
	d.commandPoolResets++
	d.mu.Unlock()
	return nil
}

func (d *fakeDriver) DestroyCommandPool(pool vk.CommandPool) {
	d.count(d.destroyed, "commandPool")
}

func (d *fakeDriver) CreateFence(signaled bool) (vk.Fence, error) {
	if err := d.checkFail("fence", "vkCreateFence"); err != nil {
		return vk.NullFence, err
	}
	fence := vk.Fence(mintHandle())
	f := &fakeFence{}
	if !signaled {
		f.ready = make(chan struct{})
	}
	d.mu.Lock()
	d.created["fence"]++
	d.fences[fence] = f
	d.mu.Unlock()
	return fence, nil
}

func (d *fakeDriver) DestroyFence(fence vk.Fence) {
	d.count(d.destroyed, "fence")
}

func (d *fakeDriver) WaitForFences(fences ...vk.Fence) error {
	d.mu.Lock()
	if d.failWait {
		d.mu.Unlock()
		return newError("vkWaitForFences", vk.ErrorDeviceLost)
	}
	waiters := make([]*fakeFence, 0, len(fences))
	for _, fence := range fences {
		if f, ok := d.fences[fence]; ok {
			waiters = append(waiters, f)
		}
	}
	d.mu.Unlock()
	for _, f := range waiters {
		f.wait()
	}
	return nil
}

func (d *fakeDriver) fence(fence vk.Fence) *fakeFence {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fences[fence]
}

func (d *fakeDriver) CreateSemaphore() (vk.Semaphore, error) {
	if err := d.checkFail("semaphore", "vkCreateSemaphore"); err != nil {
		return vk.NullSemaphore, err
	}
	d.count(d.created, "semaphore")
	return vk.Semaphore(mintHandle()), nil
}

func (d *fakeDriver) DestroySemaphore(sem vk.Semaphore) {
	d.count(d.destroyed, "semaphore")
}

func (d *fakeDriver) CreateSampler(info *vk.SamplerCreateInfo) (vk.Sampler, error) {
	if err := d.checkFail("sampler", "vkCreateSampler"); err != nil {
		return vk.NullSampler, err
	}
	d.count(d.created, "sampler")
	return vk.Sampler(mintHandle()), nil
}

func (d *fakeDriver) DestroySampler(sampler vk.Sampler) {
	d.count(d.destroyed, "sampler")
}

func (d *fakeDriver) DestroyImage(image vk.Image) {
	d.mu.Lock()
	d.destroyed["image"]++
	d.destroyedImages = append(d.destroyedImages, image)
	d.mu.Unlock()
}

func (d *fakeDriver) DestroyBuffer(buffer vk.Buffer) {
	d.mu.Lock()
	d.destroyed["buffer"]++
	d.destroyedBuffers = append(d.destroyedBuffers, buffer)
	d.mu.Unlock()
}

func (d *fakeDriver) AllocateDeviceMemory(size vk.DeviceSize, typeIndex uint32) (vk.DeviceMemory, error) {
	if err := d.checkFail("memory", "vkAllocateMemory"); err != nil {
		return vk.NullDeviceMemory, err
	}
	d.count(d.created, "memory")
	return vk.DeviceMemory(mintHandle()), nil
}

func (d *fakeDriver) FreeDeviceMemory(memory vk.DeviceMemory) {
	d.mu.Lock()
	d.destroyed["memory"]++
	d.freedMemory = append(d.freedMemory, memory)
	d.mu.Unlock()
}

func (d *fakeDriver) CreateDescriptorPool(maxSets uint32, sizes []vk.DescriptorPoolSize, updateAfterBind bool) (vk.DescriptorPool, error) {
	if err := d.checkFail("descriptorPool", "vkCreateDescriptorPool"); err != nil {
		return vk.NullDescriptorPool, err
	}
	pool := vk.DescriptorPool(mintHandle())
	d.mu.Lock()
	d.created["descriptorPool"]++
	d.bindlessPools[pool] = updateAfterBind
	d.mu.Unlock()
	return pool, nil
}

func (d *fakeDriver) AllocateDescriptorSets(pool vk.DescriptorPool, layout vk.DescriptorSetLayout, count uint32) ([]vk.DescriptorSet, error) {
	if err := d.checkFail("descriptorSet", "vkAllocateDescriptorSets"); err != nil {
		return nil, err
	}
	sets := make([]vk.DescriptorSet, count)
	for i := range sets {
		sets[i] = vk.DescriptorSet(mintHandle())
	}
	d.mu.Lock()
	d.created["descriptorSet"] += int(count)
	d.mu.Unlock()
	return sets, nil
}

func (d *fakeDriver) FreeDescriptorSets(pool vk.DescriptorPool, sets []vk.DescriptorSet) error {
	d.mu.Lock()
	d.destroyed["descriptorSet"] += len(sets)
	d.freedSets = append(d.freedSets, sets...)
	d.mu.Unlock()
	return nil
}

func (d *fakeDriver) DestroyDescriptorPool(pool vk.DescriptorPool) {
	d.count(d.destroyed, "descriptorPool")
}

func (d *fakeDriver) Submit(queue vk.Queue, cb vk.CommandBuffer, fence vk.Fence,
	signal vk.Semaphore, signalStage vk.PipelineStageFlags,
	wait vk.Semaphore, waitStage vk.PipelineStageFlags) error {

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failSubmit {
		return newError("vkQueueSubmit", vk.ErrorDeviceLost)
	}
	d.submits = append(d.submits, fakeSubmit{queue: queue, cb: cb, fence: fence, signal: signal, wait: wait})
	return nil
}

func (d *fakeDriver) DeviceWaitIdle() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failIdle {
		return newError("vkDeviceWaitIdle", vk.ErrorDeviceLost)
	}
	d.idleWaits++
	return nil
}

func (d *fakeDriver) DestroyDevice() {
	d.count(d.destroyed, "device")
}

// countingMemoryAllocator is a MemoryAllocator double recording traffic.
type countingMemoryAllocator struct {
	allocs   int
	deallocs []MemoryBlock
	cleanups int
	fail     bool
}

func (a *countingMemoryAllocator) Alloc(drv Driver, req MemoryRequest) (MemoryBlock, error) {
	if a.fail {
		return MemoryBlock{}, &MemoryAllocationError{Request: req, Cause: newError("vkAllocateMemory", vk.ErrorOutOfDeviceMemory)}
	}
	a.allocs++
	return MemoryBlock{Memory: vk.DeviceMemory(mintHandle()), Size: req.Size}, nil
}

func (a *countingMemoryAllocator) Dealloc(drv Driver, block MemoryBlock) {
	a.deallocs = append(a.deallocs, block)
}

func (a *countingMemoryAllocator) Cleanup(drv Driver) { a.cleanups++ }

// countingDescriptorAllocator is a DescriptorAllocator double.
type countingDescriptorAllocator struct {
	allocs   int
	frees    [][]DescriptorSet
	cleanups int
}

func (a *countingDescriptorAllocator) Allocate(drv Driver, layout vk.DescriptorSetLayout, counts DescriptorCounts, count uint32, bindless bool) ([]DescriptorSet, error) {
	a.allocs++
	sets := make([]DescriptorSet, count)
	for i := range sets {
		sets[i] = DescriptorSet{raw: vk.DescriptorSet(mintHandle())}
	}
	return sets, nil
}

func (a *countingDescriptorAllocator) Free(drv Driver, sets []DescriptorSet) {
	a.frees = append(a.frees, append([]DescriptorSet(nil), sets...))
}

func (a *countingDescriptorAllocator) Cleanup(drv Driver) { a.cleanups++ }
