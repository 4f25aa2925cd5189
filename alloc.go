package turbovk

import (
	"sort"

	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
)

// MemoryRequest describes one device-memory allocation.
type MemoryRequest struct {
	Size      vk.DeviceSize
	Alignment vk.DeviceSize
	// TypeBits is the acceptable-memory-type mask from the resource's
	// vk.MemoryRequirements.
	TypeBits uint32
	// Dedicated forces a standalone vkAllocateMemory call instead of a
	// suballocation, for resources the driver prefers to keep alone.
	Dedicated bool
}

// MemoryBlock is a span of device memory owned by the requester until it is
// retired back through a DropList or returned to the allocator directly.
type MemoryBlock struct {
	Memory    vk.DeviceMemory
	Offset    vk.DeviceSize
	Size      vk.DeviceSize
	TypeIndex uint32
	dedicated bool
}

// MemoryAllocator is the opaque device-memory service consumed by the core.
// Any implementation of allocate/free/cleanup with these signatures is
// substitutable; implementations are not required to be goroutine safe, the
// Device serializes access.
type MemoryAllocator interface {
	// Alloc returns a block satisfying req or a *MemoryAllocationError
	// carrying req when the device is out of the requested memory type.
	Alloc(drv Driver, req MemoryRequest) (MemoryBlock, error)
	// Dealloc returns a block obtained from Alloc.
	Dealloc(drv Driver, block MemoryBlock)
	// Cleanup releases all pooled backing memory. Every block must have been
	// returned first.
	Cleanup(drv Driver)
}

// DescriptorCounts is the per-set descriptor total of a layout.
type DescriptorCounts struct {
	Samplers              uint32
	CombinedImageSamplers uint32
	SampledImages         uint32
	StorageImages         uint32
	UniformBuffers        uint32
	StorageBuffers        uint32
}

// DescriptorSet is an allocated binding table together with the pool it came
// from, so it can find its way back on free.
type DescriptorSet struct {
	raw  vk.DescriptorSet
	pool vk.DescriptorPool
}

// Raw returns the Vulkan descriptor set handle.
func (s DescriptorSet) Raw() vk.DescriptorSet {
	return s.raw
}

// DescriptorAllocator is the opaque descriptor-set service consumed by the
// core. The Device serializes access.
type DescriptorAllocator interface {
	// Allocate returns count sets of the given layout, or a
	// *DescriptorAllocationError carrying the request parameters on
	// exhaustion. bindless requests update-after-bind semantics.
	Allocate(drv Driver, layout vk.DescriptorSetLayout, counts DescriptorCounts, count uint32, bindless bool) ([]DescriptorSet, error)
	// Free returns sets obtained from Allocate.
	Free(drv Driver, sets []DescriptorSet)
	// Cleanup destroys all pooled descriptor pools at shutdown.
	Cleanup(drv Driver)
}

// AllocatorConfig tunes the block-pooling memory allocator.
type AllocatorConfig struct {
	// DedicatedThreshold is the size at or above which requests bypass the
	// pool and get their own vkAllocateMemory call.
	DedicatedThreshold vk.DeviceSize
	// BlockSize is the size of each pooled memory chunk.
	BlockSize vk.DeviceSize
}

// DefaultAllocatorConfig mirrors the thresholds the backend has always used.
func DefaultAllocatorConfig() AllocatorConfig {
	return AllocatorConfig{
		DedicatedThreshold: 32 * 1024 * 1024,
		BlockSize:          64 * 1024 * 1024,
	}
}

type memorySpan struct {
	offset vk.DeviceSize
	size   vk.DeviceSize
}

type memoryChunk struct {
	memory    vk.DeviceMemory
	size      vk.DeviceSize
	typeIndex uint32
	free      []memorySpan // sorted by offset, adjacent spans merged
}

// take carves an aligned span out of the chunk, first fit.
func (c *memoryChunk) take(size, align vk.DeviceSize) (vk.DeviceSize, bool) {
	for i, s := range c.free {
		start := (s.offset + align - 1) / align * align
		end := start + size
		if end > s.offset+s.size {
			continue
		}
		var rest []memorySpan
		if start > s.offset {
			rest = append(rest, memorySpan{s.offset, start - s.offset})
		}
		if end < s.offset+s.size {
			rest = append(rest, memorySpan{end, s.offset + s.size - end})
		}
		c.free = append(c.free[:i], append(rest, c.free[i+1:]...)...)
		return start, true
	}
	return 0, false
}

// give returns a span to the chunk, merging with its neighbors.
func (c *memoryChunk) give(offset, size vk.DeviceSize) {
	i := sort.Search(len(c.free), func(i int) bool { return c.free[i].offset > offset })
	c.free = append(c.free, memorySpan{})
	copy(c.free[i+1:], c.free[i:])
	c.free[i] = memorySpan{offset, size}
	if i+1 < len(c.free) && c.free[i].offset+c.free[i].size == c.free[i+1].offset {
		c.free[i].size += c.free[i+1].size
		c.free = append(c.free[:i+1], c.free[i+2:]...)
	}
	if i > 0 && c.free[i-1].offset+c.free[i-1].size == c.free[i].offset {
		c.free[i-1].size += c.free[i].size
		c.free = append(c.free[:i], c.free[i+1:]...)
	}
}

// blockAllocator pools device memory in fixed-size chunks per memory type and
// first-fit suballocates from them. Large or explicitly dedicated requests go
// straight to the driver.
type blockAllocator struct {
	cfg    AllocatorConfig
	chunks []*memoryChunk
}

// NewBlockAllocator creates the default pooled memory allocator.
func NewBlockAllocator(cfg AllocatorConfig) MemoryAllocator {
	return &blockAllocator{cfg: cfg}
}

// firstTypeIndex picks the lowest acceptable memory type from a
// vk.MemoryRequirements type mask.
func firstTypeIndex(typeBits uint32) uint32 {
	for i := uint32(0); i < 32; i++ {
		if typeBits&(1<<i) != 0 {
			return i
		}
	}
	return 0
}

func (a *blockAllocator) Alloc(drv Driver, req MemoryRequest) (MemoryBlock, error) {
	typeIndex := firstTypeIndex(req.TypeBits)
	// Anything that cannot fit a pooled chunk goes dedicated, whatever the
	// configured threshold says.
	if req.Dedicated || req.Size >= a.cfg.DedicatedThreshold || req.Size > a.cfg.BlockSize {
		memory, err := drv.AllocateDeviceMemory(req.Size, typeIndex)
		if err != nil {
			return MemoryBlock{}, &MemoryAllocationError{Request: req, Cause: err}
		}
		return MemoryBlock{Memory: memory, Size: req.Size, TypeIndex: typeIndex, dedicated: true}, nil
	}
	align := req.Alignment
	if align == 0 {
		align = 1
	}
	for _, c := range a.chunks {
		if c.typeIndex != typeIndex {
			continue
		}
		if offset, ok := c.take(req.Size, align); ok {
			return MemoryBlock{Memory: c.memory, Offset: offset, Size: req.Size, TypeIndex: typeIndex}, nil
		}
	}
	memory, err := drv.AllocateDeviceMemory(a.cfg.BlockSize, typeIndex)
	if err != nil {
		return MemoryBlock{}, &MemoryAllocationError{Request: req, Cause: err}
	}
	c := &memoryChunk{
		memory:    memory,
		size:      a.cfg.BlockSize,
		typeIndex: typeIndex,
		free:      []memorySpan{{0, a.cfg.BlockSize}},
	}
	a.chunks = append(a.chunks, c)
	offset, _ := c.take(req.Size, align)
	return MemoryBlock{Memory: c.memory, Offset: offset, Size: req.Size, TypeIndex: typeIndex}, nil
}

func (a *blockAllocator) Dealloc(drv Driver, block MemoryBlock) {
	if block.dedicated {
		drv.FreeDeviceMemory(block.Memory)
		return
	}
	for _, c := range a.chunks {
		if c.memory == block.Memory {
			c.give(block.Offset, block.Size)
			return
		}
	}
}

func (a *blockAllocator) Cleanup(drv Driver) {
	for _, c := range a.chunks {
		drv.FreeDeviceMemory(c.memory)
	}
	a.chunks = nil
}

type descriptorPool struct {
	raw       vk.DescriptorPool
	remaining uint32
}

// poolAllocator hands out descriptor sets from a growing chain of descriptor
// pools, with a separate chain for update-after-bind (bindless) sets since
// those need differently flagged pools.
type poolAllocator struct {
	setsPerPool uint32
	pools       []*descriptorPool
	bindless    []*descriptorPool
}

// NewPoolDescriptorAllocator creates the default chunked descriptor
// allocator. setsPerPool bounds how many sets each underlying pool holds.
func NewPoolDescriptorAllocator(setsPerPool uint32) DescriptorAllocator {
	if setsPerPool == 0 {
		setsPerPool = 64
	}
	return &poolAllocator{setsPerPool: setsPerPool}
}

func (c DescriptorCounts) poolSizes(sets uint32) []vk.DescriptorPoolSize {
	var sizes []vk.DescriptorPoolSize
	add := func(t vk.DescriptorType, n uint32) {
		if n > 0 {
			sizes = append(sizes, vk.DescriptorPoolSize{Type: t, DescriptorCount: n * sets})
		}
	}
	add(vk.DescriptorTypeSampler, c.Samplers)
	add(vk.DescriptorTypeCombinedImageSampler, c.CombinedImageSamplers)
	add(vk.DescriptorTypeSampledImage, c.SampledImages)
	add(vk.DescriptorTypeStorageImage, c.StorageImages)
	add(vk.DescriptorTypeUniformBuffer, c.UniformBuffers)
	add(vk.DescriptorTypeStorageBuffer, c.StorageBuffers)
	return sizes
}

// poolExhausted reports whether a set allocation failed only because the pool
// it targeted has no room left, as opposed to a real driver failure.
func poolExhausted(err error) bool {
	var derr *Error
	if !errors.As(err, &derr) {
		return false
	}
	return derr.Result == vk.ErrorOutOfPoolMemory || derr.Result == vk.ErrorFragmentedPool
}

func (a *poolAllocator) Allocate(drv Driver, layout vk.DescriptorSetLayout, counts DescriptorCounts, count uint32, bindless bool) ([]DescriptorSet, error) {
	chain := &a.pools
	if bindless {
		chain = &a.bindless
	}
	for _, p := range *chain {
		if p.remaining < count {
			continue
		}
		sets, err := drv.AllocateDescriptorSets(p.raw, layout, count)
		if err != nil {
			if poolExhausted(err) {
				continue
			}
			return nil, &DescriptorAllocationError{Counts: counts, Count: count, Bindless: bindless, Cause: err}
		}
		p.remaining -= count
		return wrapSets(sets, p.raw), nil
	}

	maxSets := a.setsPerPool
	if count > maxSets {
		maxSets = count
	}
	pool, err := drv.CreateDescriptorPool(maxSets, counts.poolSizes(maxSets), bindless)
	if err != nil {
		return nil, &DescriptorAllocationError{Counts: counts, Count: count, Bindless: bindless, Cause: err}
	}
	p := &descriptorPool{raw: pool, remaining: maxSets}
	*chain = append(*chain, p)
	sets, err := drv.AllocateDescriptorSets(pool, layout, count)
	if err != nil {
		return nil, &DescriptorAllocationError{Counts: counts, Count: count, Bindless: bindless, Cause: err}
	}
	p.remaining -= count
	return wrapSets(sets, pool), nil
}

func wrapSets(raw []vk.DescriptorSet, pool vk.DescriptorPool) []DescriptorSet {
	sets := make([]DescriptorSet, len(raw))
	for i, s := range raw {
		sets[i] = DescriptorSet{raw: s, pool: pool}
	}
	return sets
}

func (a *poolAllocator) Free(drv Driver, sets []DescriptorSet) {
	// Sets from one Allocate call share a pool, but a DropList can mix
	// batches; group by pool before handing them back.
	byPool := make(map[vk.DescriptorPool][]vk.DescriptorSet)
	for _, s := range sets {
		byPool[s.pool] = append(byPool[s.pool], s.raw)
	}
	for pool, raw := range byPool {
		// Free failures on valid pools indicate driver loss; nothing to
		// recover at this layer.
		_ = drv.FreeDescriptorSets(pool, raw)
		if p := a.lookup(pool); p != nil {
			p.remaining += uint32(len(raw))
		}
	}
}

func (a *poolAllocator) lookup(pool vk.DescriptorPool) *descriptorPool {
	for _, p := range a.pools {
		if p.raw == pool {
			return p
		}
	}
	for _, p := range a.bindless {
		if p.raw == pool {
			return p
		}
	}
	return nil
}

func (a *poolAllocator) Cleanup(drv Driver) {
	for _, p := range a.pools {
		drv.DestroyDescriptorPool(p.raw)
	}
	for _, p := range a.bindless {
		drv.DestroyDescriptorPool(p.raw)
	}
	a.pools, a.bindless = nil, nil
}
