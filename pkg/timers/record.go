package timers

import (
	"reflect"
	"runtime"
	"time"

	"github.com/google/uuid"
)

type (
	// Callback is invoked with the record's target and captured arguments
	// when the record fires
	Callback func(target any, args ...any) any

	// Handle names a single pending record. It stays equality-comparable
	// after the record fires or is cancelled, but no live record will match
	// it from then on
	Handle string

	// PendingInfo is a read-only snapshot of one pending record, suitable
	// for logging and introspection
	PendingInfo struct {
		Queue    string    `json:"queue"`
		Target   any       `json:"target"`
		FireAt   time.Time `json:"fire_at"`
		Callback string    `json:"callback"`
		Handle   Handle    `json:"handle"`
	}

	// record is a scheduled future invocation. Records are owned by the
	// scheduler and never mutated after insertion, except for fireAt under
	// skew adjustment
	record struct {
		fireAt   time.Time
		target   any
		callback Callback
		args     []any
		handle   Handle
		cbKey    uintptr
	}
)

func newRecord(
	target any, fireAt time.Time, cb Callback, args []any,
) *record {
	return &record{
		fireAt:   fireAt,
		target:   target,
		callback: cb,
		args:     args,
		handle:   Handle(uuid.NewString()),
		cbKey:    callbackKey(cb),
	}
}

// callbackKey derives the identity used to match callbacks during
// cancellation. Two closures minted from the same function literal share a
// code pointer and therefore share identity
func callbackKey(cb Callback) uintptr {
	if cb == nil {
		return 0
	}
	return reflect.ValueOf(cb).Pointer()
}

func callbackName(key uintptr) string {
	if fn := runtime.FuncForPC(key); fn != nil {
		return fn.Name()
	}
	return "unknown"
}

func (r *record) pendingInfo(queue string) PendingInfo {
	return PendingInfo{
		Queue:    queue,
		Target:   r.target,
		FireAt:   r.fireAt,
		Callback: callbackName(r.cbKey),
		Handle:   r.handle,
	}
}
