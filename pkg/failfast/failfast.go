// Package failfast turns violated invariants into panics carrying full context.
//
// Coordination bugs (a durable offset ahead of the written offset, a written offset
// past the end of the file) are not recoverable conditions; these helpers are used
// where the caller opted into invariant assertions.
package failfast

import (
	"fmt"
	"reflect"
	"runtime/debug"
)

// Err panics if err != nil
// Includes stack trace for debugging
func Err(err error) {
	if err != nil {
		panic(fmt.Errorf("fail-fast: %w\n%s", err, debug.Stack()))
	}
}

// If panics if condition is false
func If(condition bool, message string, args ...interface{}) {
	if !condition {
		panic(fmt.Errorf("fail-fast: "+message, args...))
	}
}

// NotNil panics if ptr is nil, including typed nil pointers and nil funcs
func NotNil(ptr interface{}, name string) {
	if ptr == nil {
		panic(fmt.Errorf("fail-fast: %s is nil", name))
	}
	v := reflect.ValueOf(ptr)
	switch v.Kind() {
	case reflect.Ptr, reflect.Func, reflect.Interface, reflect.Map, reflect.Chan:
		if v.IsNil() {
			panic(fmt.Errorf("fail-fast: %s is nil", name))
		}
	}
}

// Offsets panics unless durable <= written <= size.
func Offsets(durable, written uint64, size int64) {
	if size < 0 {
		panic(fmt.Errorf("fail-fast: negative file size %d (durable=%d written=%d)", size, durable, written))
	}
	if durable > written {
		panic(fmt.Errorf("fail-fast: durable offset %d ahead of written offset %d (size=%d)", durable, written, size))
	}
	if written > uint64(size) {
		panic(fmt.Errorf("fail-fast: written offset %d beyond file size %d (durable=%d)", written, size, durable))
	}
}
