package errors

import (
	"fmt"
	"sort"
	"sync"
)

// registry 保存所有已注册的错误码，响应层据此把错误码还原为 HTTP 状态。
var registry = struct {
	sync.RWMutex
	byCode map[int]*Errno
}{byCode: make(map[int]*Errno)}

// Register records e under its code. Registering a code twice is a
// programming error and panics at init time.
func Register(e *Errno) *Errno {
	registry.Lock()
	defer registry.Unlock()

	if prev, ok := registry.byCode[e.Code]; ok {
		panic(fmt.Sprintf("errors: code %d registered twice (%q and %q)", e.Code, prev.MessageEN, e.MessageEN))
	}
	registry.byCode[e.Code] = e
	return e
}

// Lookup returns the registered Errno for code.
func Lookup(code int) (*Errno, bool) {
	registry.RLock()
	defer registry.RUnlock()
	e, ok := registry.byCode[code]
	return e, ok
}

// Catalog returns every registered Errno ordered by code.
func Catalog() []*Errno {
	registry.RLock()
	out := make([]*Errno, 0, len(registry.byCode))
	for _, e := range registry.byCode {
		out = append(out, e)
	}
	registry.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}
