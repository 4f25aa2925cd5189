package turbovk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	vk "github.com/vulkan-go/vulkan"
)

func TestDefaultVersions(t *testing.T) {
	assert.Equal(t, vk.Version(vk.MakeVersion(1, 0, 0)), defaultAppVersion)
	assert.Equal(t, vk.Version(vk.MakeVersion(1, 1, 0)), defaultAPIVersion)

	// Vulkan packs versions as major<<22 | minor<<12 | patch.
	assert.Equal(t, uint32(1), uint32(defaultAPIVersion)>>22)
	assert.Equal(t, uint32(1), uint32(defaultAPIVersion)>>12&0x3ff)
	assert.Equal(t, uint32(0), uint32(defaultAppVersion)>>12&0x3ff)
}

func TestCheckExisting(t *testing.T) {
	actual := []string{"VK_KHR_surface", "VK_KHR_swapchain"}

	existing, missing := checkExisting(actual, safeStrings([]string{"VK_KHR_surface", "VK_EXT_debug_report"}))
	assert.Equal(t, []string{"VK_KHR_surface\x00"}, existing)
	assert.Equal(t, 1, missing)

	existing, missing = checkExisting(actual, nil)
	assert.Empty(t, existing)
	assert.Zero(t, missing)
}

func TestSafeString(t *testing.T) {
	assert.Equal(t, "\x00", safeString(""))
	assert.Equal(t, "abc\x00", safeString("abc"))
	assert.Equal(t, "abc\x00", safeString("abc\x00"))
}
