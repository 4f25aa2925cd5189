package turbovk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	vk "github.com/vulkan-go/vulkan"
)

func TestNewDeviceFrameCreatesSlotResources(t *testing.T) {
	drv := newFakeDriver()

	f, err := newDeviceFrame(drv, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, drv.createdCount("commandPool"))
	assert.Equal(t, 2, drv.createdCount("semaphore"))
	assert.Equal(t, 2, drv.createdCount("commandBuffer"))
	assert.Equal(t, 2, drv.createdCount("fence"))
	assert.NotSame(t, f.mainCB.Raw(), f.presentCB.Raw())
	assert.NotSame(t, f.acquiredSem, f.renderDoneSem)
	assert.True(t, f.drops.empty())

	// Fences start signaled so the first wait on a fresh slot cannot block.
	for _, fence := range f.fences() {
		assert.True(t, drv.fence(fence).signaled())
	}
}

func TestNewDeviceFrameRollsBackOnFailure(t *testing.T) {
	for _, kind := range []string{"commandPool", "semaphore", "commandBuffer", "fence"} {
		t.Run(kind, func(t *testing.T) {
			drv := newFakeDriver()
			drv.failCreate[kind] = true

			f, err := newDeviceFrame(drv, 0)
			require.Error(t, err)
			require.Nil(t, f)

			assert.Equal(t, drv.createdCount("commandPool"), drv.destroyedCount("commandPool"))
			assert.Equal(t, drv.createdCount("semaphore"), drv.destroyedCount("semaphore"))
			assert.Equal(t, drv.createdCount("fence"), drv.destroyedCount("fence"))
		})
	}
}

func TestDeviceFrameResetRecyclesPoolAndDrainsDrops(t *testing.T) {
	drv := newFakeDriver()
	mem := &countingMemoryAllocator{}
	desc := &countingDescriptorAllocator{}

	f, err := newDeviceFrame(drv, 0)
	require.NoError(t, err)

	img := vk.Image(mintHandle())
	f.drops.RetireImage(img)

	require.NoError(t, f.reset(drv, mem, desc))
	assert.Equal(t, 1, drv.commandPoolResets)
	assert.Equal(t, []vk.Image{img}, drv.destroyedImages)
	assert.True(t, f.drops.empty())
}

func TestDeviceFrameFreeDestroysEverythingOnce(t *testing.T) {
	drv := newFakeDriver()

	f, err := newDeviceFrame(drv, 0)
	require.NoError(t, err)

	f.free(drv)
	assert.Equal(t, 1, drv.destroyedCount("commandPool"))
	assert.Equal(t, 2, drv.destroyedCount("semaphore"))
	assert.Equal(t, 2, drv.destroyedCount("fence"))

	// free is idempotent.
	f.free(drv)
	assert.Equal(t, 1, drv.destroyedCount("commandPool"))
	assert.Equal(t, 2, drv.destroyedCount("semaphore"))
	assert.Equal(t, 2, drv.destroyedCount("fence"))
}
