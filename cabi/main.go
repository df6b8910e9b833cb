// Command cabi builds the C-compatible embedding shim for the anytalk
// core, matching the anytalk_api.h contract: an opaque AnytalkContext
// handle, a typed event callback, and four lifecycle functions. Built with
// `go build -buildmode=c-shared`.
package main

/*
#include <stdlib.h>

typedef enum {
    ANYTALK_EVENT_PARTIAL = 0,
    ANYTALK_EVENT_FINAL   = 1,
    ANYTALK_EVENT_STATUS  = 2,
    ANYTALK_EVENT_ERROR   = 3,
} AnytalkEventType;

typedef void (*AnytalkEventCallback)(void *user_data, AnytalkEventType type, const char *text);

typedef struct {
    const char *app_id;
    const char *access_token;
    const char *resource_id;
    const char *mode;
} AnytalkConfig;

// invoke_event_callback exists because cgo cannot call a C function pointer
// directly from Go; it's the glue the exported Go functions below call
// through.
static inline void invoke_event_callback(AnytalkEventCallback cb, void *user_data, AnytalkEventType type, const char *text) {
    if (cb != NULL) {
        cb(user_data, type, text);
    }
}
*/
import "C"

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/anytalk-oss/anytalk-core"
	"github.com/anytalk-oss/anytalk-core/internal/events"
)

// handles maps the opaque uintptr handles returned to C to the live
// Context. Go pointers are never stored in C memory or cast to
// *C.AnytalkContext directly: the handle is an index, satisfying cgo's
// pointer-passing rules.
var (
	handlesMu  sync.Mutex
	handles    = map[uintptr]*boundContext{}
	nextHandle uint64
)

type boundContext struct {
	ctx      *anytalk.Context
	cb       C.AnytalkEventCallback
	userData unsafe.Pointer
}

// anytalk_init corresponds to AnytalkContext *anytalk_init(...) in
// anytalk_api.h. The returned handle is an opaque index, not a real Go
// pointer, so the generated header's void* return is safe for the host to
// hold indefinitely and pass back into the other four calls.
//
//export anytalk_init
func anytalk_init(config *C.AnytalkConfig, cb C.AnytalkEventCallback, userData unsafe.Pointer) unsafe.Pointer {
	cfg := anytalk.Config{
		AppID:       C.GoString(config.app_id),
		AccessToken: C.GoString(config.access_token),
	}
	if config.resource_id != nil {
		cfg.ResourceID = C.GoString(config.resource_id)
	}
	if config.mode != nil {
		cfg.Mode = anytalk.Mode(C.GoString(config.mode))
	}

	bound := &boundContext{cb: cb, userData: userData}
	bound.ctx = anytalk.Init(cfg, nil, bound.emit)

	h := atomic.AddUint64(&nextHandle, 1)
	handlesMu.Lock()
	handles[uintptr(h)] = bound
	handlesMu.Unlock()

	return unsafe.Pointer(uintptr(h))
}

//export anytalk_destroy
func anytalk_destroy(handle unsafe.Pointer) {
	bound, ok := takeHandle(handle)
	if !ok {
		return
	}
	bound.ctx.Destroy()
}

//export anytalk_start
func anytalk_start(handle unsafe.Pointer) C.int {
	bound, ok := lookupHandle(handle)
	if !ok {
		return -1
	}
	if err := bound.ctx.StartSession(); err != nil {
		return -1
	}
	return 0
}

//export anytalk_stop
func anytalk_stop(handle unsafe.Pointer) C.int {
	bound, ok := lookupHandle(handle)
	if !ok {
		return -1
	}
	bound.ctx.StopSession()
	return 0
}

//export anytalk_cancel
func anytalk_cancel(handle unsafe.Pointer) C.int {
	bound, ok := lookupHandle(handle)
	if !ok {
		return -1
	}
	bound.ctx.Cancel()
	return 0
}

func lookupHandle(handle unsafe.Pointer) (*boundContext, bool) {
	handlesMu.Lock()
	defer handlesMu.Unlock()
	bound, ok := handles[uintptr(handle)]
	return bound, ok
}

func takeHandle(handle unsafe.Pointer) (*boundContext, bool) {
	handlesMu.Lock()
	defer handlesMu.Unlock()
	bound, ok := handles[uintptr(handle)]
	if ok {
		delete(handles, uintptr(handle))
	}
	return bound, ok
}

func (b *boundContext) emit(kind events.Kind, text string) {
	if b.cb == nil {
		return
	}
	cText := C.CString(text)
	defer C.free(unsafe.Pointer(cText))
	C.invoke_event_callback(b.cb, b.userData, toCEventType(kind), cText)
}

func toCEventType(kind events.Kind) C.AnytalkEventType {
	switch kind {
	case events.KindPartial:
		return C.ANYTALK_EVENT_PARTIAL
	case events.KindFinal:
		return C.ANYTALK_EVENT_FINAL
	case events.KindStatus:
		return C.ANYTALK_EVENT_STATUS
	default:
		return C.ANYTALK_EVENT_ERROR
	}
}

func main() {}
