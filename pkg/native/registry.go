// Package native holds Go implementations of Java native methods, keyed by
// their mangled linkage symbol.
package native

import (
	"fmt"
	"sync"

	"github.com/tliron/commonlog"

	"github.com/daimatz/gojvmcore/pkg/hashmap"
	"github.com/daimatz/gojvmcore/pkg/vm"
)

var log = commonlog.GetLogger("gojvm.native")

// Registry maps native symbols to implementations. It is safe for
// concurrent use.
type Registry struct {
	mu    sync.RWMutex
	funcs *hashmap.Map[string, vm.NativeFunc]
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{funcs: hashmap.New[string, vm.NativeFunc](symbolHash, symbolEqual)}
}

func symbolHash(s string) uint32 {
	var h uint32
	for i := 0; i < len(s); i++ {
		h = 31*h + uint32(s[i])
	}
	return h
}

func symbolEqual(a, b string) bool { return a == b }

// Register adds fn under symbol. A symbol can be registered only once.
func (r *Registry) Register(symbol string, fn vm.NativeFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.funcs.InsertMaybe(symbol, fn) {
		return fmt.Errorf("native %s already registered", symbol)
	}
	return nil
}

// Lookup finds the implementation registered under exactly symbol.
func (r *Registry) Lookup(symbol string) (vm.NativeFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if fn, ok := r.funcs.Find(symbol); ok {
		return fn, true
	}
	log.Debugf("no native for %s", symbol)
	return nil, false
}

// Len returns the number of registered symbols.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.funcs.Size()
}
