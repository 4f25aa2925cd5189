package turbovk

import (
	vk "github.com/vulkan-go/vulkan"
)

// DropList is an unordered bag of GPU objects that have been retired by the
// application but may still be referenced by in-flight GPU work. Entries are
// appended at any time and destroyed all at once by cleanup, when the Device
// knows the covering fences have signaled.
//
// A DropList is not safe for concurrent use by itself; the Device guards each
// instance with its own lock.
type DropList struct {
	images      []vk.Image
	buffers     []vk.Buffer
	memory      []MemoryBlock
	descriptors []DescriptorSet
}

// RetireImage schedules an image for deferred destruction.
func (l *DropList) RetireImage(image vk.Image) {
	l.images = append(l.images, image)
}

// RetireBuffer schedules a buffer for deferred destruction.
func (l *DropList) RetireBuffer(buffer vk.Buffer) {
	l.buffers = append(l.buffers, buffer)
}

// RetireMemory schedules a memory block for return to its allocator.
func (l *DropList) RetireMemory(block MemoryBlock) {
	l.memory = append(l.memory, block)
}

// RetireDescriptorSet schedules a descriptor set for return to its allocator.
func (l *DropList) RetireDescriptorSet(set DescriptorSet) {
	l.descriptors = append(l.descriptors, set)
}

// cleanup destroys every entry held by the list and leaves it empty. Images
// and buffers go through direct destroy calls; memory blocks and descriptor
// sets are handed back to their allocators. Calling cleanup on an empty list
// is a no-op.
func (l *DropList) cleanup(drv Driver, mem MemoryAllocator, desc DescriptorAllocator) {
	for _, image := range l.images {
		drv.DestroyImage(image)
	}
	l.images = l.images[:0]

	for _, buffer := range l.buffers {
		drv.DestroyBuffer(buffer)
	}
	l.buffers = l.buffers[:0]

	for _, block := range l.memory {
		mem.Dealloc(drv, block)
	}
	l.memory = l.memory[:0]

	if len(l.descriptors) > 0 {
		desc.Free(drv, l.descriptors)
		l.descriptors = l.descriptors[:0]
	}
}

// empty reports whether the list currently holds nothing.
func (l *DropList) empty() bool {
	return len(l.images) == 0 && len(l.buffers) == 0 &&
		len(l.memory) == 0 && len(l.descriptors) == 0
}
