package turbovk

import (
	"github.com/cockroachdb/errors"
	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/vulkan-go/vulkan"
)

// Display owns the presentation surface created for a glfw window. The
// surface is an external collaborator for the Device: the backend holds it by
// reference and never destroys it implicitly.
type Display struct {
	window  *glfw.Window
	surface vk.Surface
}

// NewDisplay creates a Vulkan surface for window on the given instance.
func NewDisplay(window *glfw.Window, instance *Instance) (*Display, error) {
	surfPtr, err := window.CreateWindowSurface(instance.raw, nil)
	if err != nil {
		return nil, errors.Wrap(err, "vulkan: creating window surface")
	}
	surface := vk.SurfaceFromPointer(surfPtr)
	if surface == vk.NullSurface {
		return nil, errors.WithStack(ErrSurfaceRequired)
	}
	return &Display{window: window, surface: surface}, nil
}

// Surface returns the Vulkan surface handle.
func (d *Display) Surface() vk.Surface { return d.surface }

// Window returns the underlying glfw window.
func (d *Display) Window() *glfw.Window { return d.window }

// Size returns the current window size in screen coordinates.
func (d *Display) Size() (int, int) {
	return d.window.GetSize()
}

// Destroy releases the surface. Must run before the instance is destroyed.
func (d *Display) Destroy(instance *Instance) {
	if d.surface != vk.NullSurface {
		vk.DestroySurface(instance.raw, d.surface, nil)
		d.surface = vk.NullSurface
	}
}
