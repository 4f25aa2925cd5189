package turbovk

import (
	"log"
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
)

// InstanceOptions configures Vulkan instance creation.
type InstanceOptions struct {
	AppName    string
	AppVersion vk.Version
	APIVersion vk.Version
	// Extensions the application requires, e.g. the surface extensions
	// reported by glfw. Missing extensions are logged and skipped.
	Extensions []string
	// ValidationLayers to enable when available.
	ValidationLayers []string
	// Debug registers a debug report callback that forwards driver messages
	// to the log.
	Debug bool
}

var (
	defaultAppVersion = vk.Version(vk.MakeVersion(1, 0, 0))
	defaultAPIVersion = vk.Version(vk.MakeVersion(1, 1, 0))
)

// Instance wraps the Vulkan instance and the optional debug callback. It is
// an immutable handle shared by reference once created.
type Instance struct {
	raw           vk.Instance
	debugCallback vk.DebugReportCallback
}

// NewInstance creates a Vulkan instance. Failure is fatal to construction;
// no partial Instance is returned.
func NewInstance(opts InstanceOptions) (*Instance, error) {
	if opts.AppName == "" {
		opts.AppName = "turbovk"
	}
	if opts.AppVersion == 0 {
		opts.AppVersion = defaultAppVersion
	}
	if opts.APIVersion == 0 {
		opts.APIVersion = defaultAPIVersion
	}

	required := safeStrings(opts.Extensions)
	actual, err := InstanceExtensions()
	if err != nil {
		return nil, err
	}
	extensions, missing := checkExisting(actual, required)
	if missing > 0 {
		log.Printf("vulkan warning: missing %d required instance extensions during init", missing)
	}
	log.Printf("vulkan: enabling %d instance extensions", len(extensions))

	var layers []string
	if len(opts.ValidationLayers) > 0 {
		actualLayers, err := ValidationLayers()
		if err != nil {
			return nil, err
		}
		layers, missing = checkExisting(actualLayers, safeStrings(opts.ValidationLayers))
		if missing > 0 {
			log.Printf("vulkan warning: missing %d required validation layers during init", missing)
		}
	}

	var instance vk.Instance
	ret := vk.CreateInstance(&vk.InstanceCreateInfo{
		SType: vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: &vk.ApplicationInfo{
			SType:              vk.StructureTypeApplicationInfo,
			ApiVersion:         uint32(opts.APIVersion),
			ApplicationVersion: uint32(opts.AppVersion),
			PApplicationName:   safeString(opts.AppName),
			PEngineName:        "turbovk\x00",
		},
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: extensions,
		EnabledLayerCount:       uint32(len(layers)),
		PpEnabledLayerNames:     layers,
	}, nil, &instance)
	if err := newError("vkCreateInstance", ret); err != nil {
		return nil, err
	}
	vk.InitInstance(instance)

	i := &Instance{raw: instance}
	if opts.Debug {
		ret := vk.CreateDebugReportCallback(instance, &vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit),
			PfnCallback: dbgCallbackFunc,
		}, nil, &i.debugCallback)
		if err := newError("vkCreateDebugReportCallback", ret); err != nil {
			vk.DestroyInstance(instance, nil)
			return nil, err
		}
		log.Println("vulkan: DebugReportCallback enabled")
	}
	return i, nil
}

// Raw returns the Vulkan instance handle.
func (i *Instance) Raw() vk.Instance { return i.raw }

// PhysicalDevices enumerates the GPUs visible to the instance together with
// their properties and queue families.
func (i *Instance) PhysicalDevices() ([]*PhysicalDevice, error) {
	var count uint32
	if err := newError("vkEnumeratePhysicalDevices", vk.EnumeratePhysicalDevices(i.raw, &count, nil)); err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, errors.WithStack(ErrNoGPU)
	}
	gpus := make([]vk.PhysicalDevice, count)
	if err := newError("vkEnumeratePhysicalDevices", vk.EnumeratePhysicalDevices(i.raw, &count, gpus)); err != nil {
		return nil, err
	}
	devices := make([]*PhysicalDevice, count)
	for n, gpu := range gpus {
		devices[n] = newPhysicalDevice(gpu)
	}
	return devices, nil
}

// Destroy releases the debug callback and the instance. Every device created
// from the instance must already be destroyed.
func (i *Instance) Destroy() {
	if i.debugCallback != vk.NullDebugReportCallback {
		vk.DestroyDebugReportCallback(i.raw, i.debugCallback, nil)
		i.debugCallback = vk.NullDebugReportCallback
	}
	if i.raw != nil {
		vk.DestroyInstance(i.raw, nil)
		i.raw = nil
	}
}

// PhysicalDevice is an enumerated GPU with its capabilities captured.
type PhysicalDevice struct {
	raw              vk.PhysicalDevice
	properties       vk.PhysicalDeviceProperties
	memoryProperties vk.PhysicalDeviceMemoryProperties
	queueFamilies    []vk.QueueFamilyProperties
}

func newPhysicalDevice(gpu vk.PhysicalDevice) *PhysicalDevice {
	p := &PhysicalDevice{raw: gpu}
	vk.GetPhysicalDeviceProperties(gpu, &p.properties)
	p.properties.Deref()
	vk.GetPhysicalDeviceMemoryProperties(gpu, &p.memoryProperties)
	p.memoryProperties.Deref()

	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(gpu, &count, nil)
	p.queueFamilies = make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(gpu, &count, p.queueFamilies)
	for n := range p.queueFamilies {
		p.queueFamilies[n].Deref()
	}
	return p
}

// Raw returns the physical device handle.
func (p *PhysicalDevice) Raw() vk.PhysicalDevice { return p.raw }

// Name returns the driver-reported device name.
func (p *PhysicalDevice) Name() string {
	return vk.ToString(p.properties.DeviceName[:])
}

// MemoryProperties returns the device memory heaps and types.
func (p *PhysicalDevice) MemoryProperties() vk.PhysicalDeviceMemoryProperties {
	return p.memoryProperties
}

// GraphicsComputeQueueFamily finds the first queue family supporting both
// graphics and compute work, the family the Device submits everything to.
func (p *PhysicalDevice) GraphicsComputeQueueFamily() (uint32, error) {
	required := vk.QueueFlags(vk.QueueGraphicsBit | vk.QueueComputeBit)
	for n := range p.queueFamilies {
		if p.queueFamilies[n].QueueFlags&required == required {
			return uint32(n), nil
		}
	}
	return 0, errors.WithStack(ErrNoSuitableQueue)
}

// OpenDevice creates a logical device on pdev with a single graphics/compute
// queue and the requested device extensions, then wraps it in a Device. On
// any failure the logical device is destroyed before returning.
func (i *Instance) OpenDevice(pdev *PhysicalDevice, extensions []string, opts *DeviceOptions) (*Device, error) {
	family, err := pdev.GraphicsComputeQueueFamily()
	if err != nil {
		return nil, err
	}
	available, err := DeviceExtensions(pdev.raw)
	if err != nil {
		return nil, err
	}
	enabled, missing := checkExisting(available, safeStrings(extensions))
	if missing > 0 {
		log.Printf("vulkan warning: missing %d required device extensions during init", missing)
	}

	var device vk.Device
	ret := vk.CreateDevice(pdev.raw, &vk.DeviceCreateInfo{
		SType: vk.StructureTypeDeviceCreateInfo,
		PQueueCreateInfos: []vk.DeviceQueueCreateInfo{{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: family,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		}},
		QueueCreateInfoCount:    1,
		EnabledExtensionCount:   uint32(len(enabled)),
		PpEnabledExtensionNames: enabled,
	}, nil, &device)
	if err := newError("vkCreateDevice", ret); err != nil {
		return nil, err
	}
	log.Printf("vulkan: created device on %q", pdev.Name())

	var queue vk.Queue
	vk.GetDeviceQueue(device, family, 0, &queue)

	dev, err := NewDevice(NewVulkanDriver(device), queue, family, opts)
	if err != nil {
		vk.DestroyDevice(device, nil)
		return nil, err
	}
	return dev, nil
}

// InstanceExtensions gets a list of instance extensions available on the platform.
func InstanceExtensions() ([]string, error) {
	var count uint32
	if err := newError("vkEnumerateInstanceExtensionProperties", vk.EnumerateInstanceExtensionProperties("", &count, nil)); err != nil {
		return nil, err
	}
	list := make([]vk.ExtensionProperties, count)
	if err := newError("vkEnumerateInstanceExtensionProperties", vk.EnumerateInstanceExtensionProperties("", &count, list)); err != nil {
		return nil, err
	}
	names := make([]string, 0, count)
	for _, ext := range list {
		ext.Deref()
		names = append(names, vk.ToString(ext.ExtensionName[:]))
	}
	return names, nil
}

// DeviceExtensions gets a list of extensions available on the provided physical device.
func DeviceExtensions(gpu vk.PhysicalDevice) ([]string, error) {
	var count uint32
	if err := newError("vkEnumerateDeviceExtensionProperties", vk.EnumerateDeviceExtensionProperties(gpu, "", &count, nil)); err != nil {
		return nil, err
	}
	list := make([]vk.ExtensionProperties, count)
	if err := newError("vkEnumerateDeviceExtensionProperties", vk.EnumerateDeviceExtensionProperties(gpu, "", &count, list)); err != nil {
		return nil, err
	}
	names := make([]string, 0, count)
	for _, ext := range list {
		ext.Deref()
		names = append(names, vk.ToString(ext.ExtensionName[:]))
	}
	return names, nil
}

// ValidationLayers gets a list of validation layers available on the platform.
func ValidationLayers() ([]string, error) {
	var count uint32
	if err := newError("vkEnumerateInstanceLayerProperties", vk.EnumerateInstanceLayerProperties(&count, nil)); err != nil {
		return nil, err
	}
	list := make([]vk.LayerProperties, count)
	if err := newError("vkEnumerateInstanceLayerProperties", vk.EnumerateInstanceLayerProperties(&count, list)); err != nil {
		return nil, err
	}
	names := make([]string, 0, count)
	for _, layer := range list {
		layer.Deref()
		names = append(names, vk.ToString(layer.LayerName[:]))
	}
	return names, nil
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType,
	object uint64, location uint, messageCode int32, pLayerPrefix string,
	pMessage string, pUserData unsafe.Pointer) vk.Bool32 {

	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		log.Printf("vulkan ERROR: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		log.Printf("vulkan WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	default:
		log.Printf("vulkan INFO: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}
