package turbovk

import (
	vk "github.com/vulkan-go/vulkan"
)

// SamplerDesc keys the Device's immutable sampler cache. The cache holds the
// full cross-product of the values below, built once at construction.
type SamplerDesc struct {
	Filter      vk.Filter
	MipmapMode  vk.SamplerMipmapMode
	AddressMode vk.SamplerAddressMode
}

// lodClampNone is VK_LOD_CLAMP_NONE: no upper bound on the selected mip.
const lodClampNone = 1000.0

func vkBool(b bool) vk.Bool32 {
	if b {
		return vk.True
	}
	return vk.False
}

// buildSamplerCache eagerly creates a sampler for every supported
// (filter, mipmap mode, address mode) combination. On failure the samplers
// created so far are destroyed and the error is returned.
func buildSamplerCache(drv Driver) (map[SamplerDesc]vk.Sampler, error) {
	filters := []vk.Filter{vk.FilterNearest, vk.FilterLinear}
	mipmapModes := []vk.SamplerMipmapMode{vk.SamplerMipmapModeNearest, vk.SamplerMipmapModeLinear}
	addressModes := []vk.SamplerAddressMode{vk.SamplerAddressModeRepeat, vk.SamplerAddressModeClampToEdge}

	samplers := make(map[SamplerDesc]vk.Sampler, len(filters)*len(mipmapModes)*len(addressModes))
	for _, filter := range filters {
		for _, mipmapMode := range mipmapModes {
			for _, addressMode := range addressModes {
				anisotropy := filter == vk.FilterLinear
				sampler, err := drv.CreateSampler(&vk.SamplerCreateInfo{
					SType:            vk.StructureTypeSamplerCreateInfo,
					MagFilter:        filter,
					MinFilter:        filter,
					MipmapMode:       mipmapMode,
					AddressModeU:     addressMode,
					AddressModeV:     addressMode,
					AddressModeW:     addressMode,
					MaxLod:           lodClampNone,
					AnisotropyEnable: vkBool(anisotropy),
					MaxAnisotropy:    16.0,
				})
				if err != nil {
					destroySamplerCache(drv, samplers)
					return nil, err
				}
				samplers[SamplerDesc{filter, mipmapMode, addressMode}] = sampler
			}
		}
	}
	return samplers, nil
}

func destroySamplerCache(drv Driver, samplers map[SamplerDesc]vk.Sampler) {
	for _, sampler := range samplers {
		drv.DestroySampler(sampler)
	}
}
