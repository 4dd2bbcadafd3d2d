// SPDX-License-Identifier: BUSL-1.1
package core

import (
	"sync"

	"github.com/wasmerio/wasmer-go/wasmer"
)

// ModuleCache caches compiled guest artifacts keyed by the Keccak-256
// hash (HashModule) of their instrumented bytes, avoiding recompilation across repeated
// runner invocations of the same guest code. Per §3 this cache is optional
// and never persisted across process restarts. Grounded on the teacher's
// ContractRegistry, repurposed from a deploy/invoke registry into a pure
// compiled-module cache.
type ModuleCache struct {
	mu    sync.Mutex
	store *wasmer.Store
	items map[Hash]*wasmer.Module
}

func NewModuleCache(store *wasmer.Store) *ModuleCache {
	return &ModuleCache{store: store, items: make(map[Hash]*wasmer.Module)}
}

// Compile returns a cached *wasmer.Module for instrumented, or compiles and
// caches one.
func (c *ModuleCache) Compile(instrumented []byte) (*wasmer.Module, error) {
	key := HashModule(instrumented)

	c.mu.Lock()
	if m, ok := c.items[key]; ok {
		c.mu.Unlock()
		return m, nil
	}
	c.mu.Unlock()

	mod, err := wasmer.NewModule(c.store, instrumented)
	if err != nil {
		return nil, newErr(KindCompileError, err)
	}

	c.mu.Lock()
	c.items[key] = mod
	c.mu.Unlock()
	return mod, nil
}
