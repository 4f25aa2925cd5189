package turbovk

import (
	"fmt"

	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
)

// Setup failures. All of these are fatal to construction: no partially
// initialized Instance or Device is ever returned alongside them.
var (
	// ErrNoGPU is returned when instance enumeration finds no physical devices.
	ErrNoGPU = errors.New("vulkan: no GPU devices found")

	// ErrNoSuitableQueue is returned when no queue family supports both
	// graphics and compute work.
	ErrNoSuitableQueue = errors.New("vulkan: no queue family supports graphics and compute")

	// ErrSurfaceRequired is returned when a presentation surface is required
	// but the display could not provide one.
	ErrSurfaceRequired = errors.New("vulkan: surface required but not provided")
)

// Error reports a driver entry point that returned a non-success vk.Result.
// Use errors.As to recover the original result code.
type Error struct {
	Op     string
	Result vk.Result
}

func (e *Error) Error() string {
	return fmt.Sprintf("vulkan: %s failed: %s (%d)", e.Op, vk.Error(e.Result).Error(), e.Result)
}

func isError(ret vk.Result) bool {
	return ret != vk.Success
}

// newError converts a vk.Result into an *Error, or nil on vk.Success.
func newError(op string, ret vk.Result) error {
	if !isError(ret) {
		return nil
	}
	return errors.WithStack(&Error{Op: op, Result: ret})
}

// MemoryAllocationError reports device memory exhaustion. The request that
// failed is preserved so callers can log it or retry with a smaller one;
// the backend itself never retries.
type MemoryAllocationError struct {
	Request MemoryRequest
	Cause   error
}

func (e *MemoryAllocationError) Error() string {
	return fmt.Sprintf("vulkan: memory allocation of %d bytes (align %d, types 0x%x) failed: %v",
		e.Request.Size, e.Request.Alignment, e.Request.TypeBits, e.Cause)
}

func (e *MemoryAllocationError) Unwrap() error { return e.Cause }

// DescriptorAllocationError reports descriptor set exhaustion, preserving
// the parameters of the failed request.
type DescriptorAllocationError struct {
	Counts   DescriptorCounts
	Count    uint32
	Bindless bool
	Cause    error
}

func (e *DescriptorAllocationError) Error() string {
	return fmt.Sprintf("vulkan: allocation of %d descriptor sets (bindless=%v) failed: %v",
		e.Count, e.Bindless, e.Cause)
}

func (e *DescriptorAllocationError) Unwrap() error { return e.Cause }

// orPanic escalates an error into a panic. Reserved for programming-contract
// violations and teardown paths where no safe fallback exists.
func orPanic(err error) {
	if err != nil {
		panic(err)
	}
}
