// SPDX-License-Identifier: BUSL-1.1
package core

import (
	"github.com/wasmerio/wasmer-go/wasmer"
)

// FilterRunner is stateless: no storage, no verifiers, no matchmaker
// channel. It screens an intent before the matchmaker ever sees it.
type FilterRunner struct {
	store *wasmer.Store
	cache *ModuleCache
	mem   MemoryLimits
}

func NewFilterRunner(mem MemoryLimits) (*FilterRunner, error) {
	store, err := newDeterministicStore()
	if err != nil {
		return nil, err
	}
	return &FilterRunner{store: store, cache: NewModuleCache(store), mem: mem}, nil
}

// Run calls _validate_intent(intent_data_ptr, intent_data_len). Per §4.3,
// 0 means accept, nonzero means reject — the same 0-is-success convention
// as the matchmaker, inverted relative to VP (where 1 means accept).
func (r *FilterRunner) Run(code, intentData []byte, gasMeter *GasMeter) (bool, error) {
	if err := Validate(code); err != nil {
		return false, err
	}
	instrumented, err := Prepare(code)
	if err != nil {
		return false, err
	}
	mod, err := r.cache.Compile(instrumented)
	if err != nil {
		return false, err
	}

	env := &filterEnv{gasMeter: gasMeter}
	imports := buildFilterImports(r.store, env)

	instance, err := wasmer.NewInstance(mod, imports)
	if err != nil {
		return false, newErr(KindInstantiationError, err)
	}
	defer instance.Close()
	env.instance = instance

	if _, err := GuestMemory(instance); err != nil {
		return false, err
	}

	handles, err := WriteInputs(instance, intentData)
	if err != nil {
		return false, err
	}

	entry, err := instance.Exports.GetFunction("_validate_intent")
	if err != nil || entry == nil {
		return false, newErr(KindMissingModuleEntrypoint, err)
	}

	result, err := entry(int64(handles[0].Ptr), int64(handles[0].Len))
	if err != nil {
		return false, classifyTrap("_validate_intent", err)
	}

	code64, err := asI64(result)
	if err != nil {
		return false, entrypointErr("_validate_intent", err)
	}
	return code64 == 0, nil
}
