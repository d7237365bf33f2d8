package observability

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanic recovers from a panic in the calling goroutine and logs it with
// the stack. It must be deferred directly:
//
//	go func() {
//	    defer observability.RecoverPanic(logger, "config watcher")
//	    ...
//	}()
//
// The panic is not re-raised.
func RecoverPanic(logger *Logger, where string) {
	if r := recover(); r != nil {
		logger.WithFields(map[string]interface{}{
			"panic":   fmt.Sprint(r),
			"stack":   string(debug.Stack()),
			"context": where,
		}).Error("PANIC recovered")
	}
}

// MustRecover converts a recovered value into an error, or nil when r is nil
//
//	defer func() {
//	    if rerr := observability.MustRecover(recover()); rerr != nil {
//	        err = rerr
//	    }
//	}()
func MustRecover(r interface{}) error {
	if r != nil {
		return fmt.Errorf("panic: %v", r)
	}
	return nil
}
