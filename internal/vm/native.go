package vm

import (
	"unsafe"

	"ktap/internal/ktaperr"
)

var errTooManyBuiltins = ktaperr.Registrationf("exceed KP_MAX_CACHED_CFUNCTION")

func nativePtr(nf *NativeFunc) unsafe.Pointer { return unsafe.Pointer(nf) }

func nativeFromPtr(p unsafe.Pointer) *NativeFunc { return (*NativeFunc)(p) }
